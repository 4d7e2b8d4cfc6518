package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// Decision は保留中の設定変更に対するオペレーターの選択です
type Decision string

const (
	// DecisionContinue は新しい設定を確定して再開する
	DecisionContinue Decision = "continue"
	// DecisionRestart はリセットして新しい設定で最初から開始する
	DecisionRestart Decision = "restart"
	// DecisionRevert は変更を破棄して元の設定のまま再開する
	DecisionRevert Decision = "revert"
)

// AllDecisions は提示する選択肢の一覧です
var AllDecisions = []Decision{DecisionContinue, DecisionRestart, DecisionRevert}

// PendingChange は実行中に検出され、判断待ちになっている設定変更です
type PendingChange struct {
	JobID      uuid.UUID       `json:"jobId"`
	Previous   domain.Settings `json:"previous"`
	Proposed   domain.Settings `json:"proposed"`
	ProposedAt time.Time       `json:"proposedAt"`
}

// ProposalOutcome はPropose の結果です
type ProposalOutcome struct {
	// Applied は停止中のジョブに設定が直接反映されたかどうか
	Applied bool `json:"applied"`
	// Paused は変更検出によりジョブを自動停止したかどうか
	Paused          bool        `json:"paused"`
	PendingDecision bool        `json:"pendingDecision"`
	Options         []Decision  `json:"options,omitempty"`
	Job             *domain.Job `json:"job"`
}

// SettingsReconciler は実行に影響する設定変更を検出し、停止後にオペレーターの判断で反映します
type SettingsReconciler struct {
	service *TransformService
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]PendingChange
}

// NewSettingsReconciler は新しいSettingsReconcilerを作成します
func NewSettingsReconciler(service *TransformService, logger *slog.Logger) *SettingsReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsReconciler{
		service: service,
		logger:  logger,
		pending: make(map[string]PendingChange),
	}
}

// Propose は設定変更を受け付けます
// 実行中なら自動停止して判断待ちにし、停止中ならそのまま反映する
func (r *SettingsReconciler) Propose(ctx context.Context, datasetID string, settings domain.Settings) (*ProposalOutcome, error) {
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	controller, err := r.service.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	job, err := controller.Job(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, hasPending := r.currentPendingLocked(datasetID, job)

	switch job.Status {
	case domain.JobStatusRunning:
		if !job.Settings.RunAffectingChange(settings) {
			return &ProposalOutcome{Job: job}, nil
		}
		paused, err := controller.Pause(ctx)
		if err != nil {
			return nil, err
		}
		r.pending[datasetID] = PendingChange{
			JobID:      job.ID,
			Previous:   job.Settings,
			Proposed:   settings,
			ProposedAt: time.Now(),
		}
		r.logger.Info("settings change detected while running, job paused",
			"datasetID", datasetID,
			"jobID", job.ID,
		)
		return &ProposalOutcome{Paused: true, PendingDecision: true, Options: AllDecisions, Job: paused}, nil

	case domain.JobStatusPaused, domain.JobStatusFailed:
		if hasPending {
			current.Proposed = settings
			current.ProposedAt = time.Now()
			r.pending[datasetID] = current
			return &ProposalOutcome{PendingDecision: true, Options: AllDecisions, Job: job}, nil
		}
		if !job.Settings.RunAffectingChange(settings) {
			return &ProposalOutcome{Job: job}, nil
		}
		updated, err := controller.CommitSettings(ctx, settings)
		if err != nil {
			return nil, err
		}
		return &ProposalOutcome{Applied: true, Job: updated}, nil

	case domain.JobStatusCompleted:
		return nil, domain.NewConflictError(domain.ErrInvalidTransition,
			"job is completed; use continue to process more rows", "continue")

	default:
		return nil, domain.NewConflictError(domain.ErrInvalidTransition,
			"job is "+string(job.Status)+"; reset first to change settings", "reset")
	}
}

// Resolve は保留中の設定変更にオペレーターの判断を適用します
func (r *SettingsReconciler) Resolve(ctx context.Context, datasetID string, decision Decision, confirmToken string) (*domain.Job, error) {
	controller, err := r.service.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	job, err := controller.Job(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	change, ok := r.currentPendingLocked(datasetID, job)
	if !ok {
		return nil, domain.NewConflictError(domain.ErrNoPendingChange, "there is no pending settings change", "")
	}

	var resolved *domain.Job
	switch decision {
	case DecisionContinue:
		if _, err := controller.CommitSettings(ctx, change.Proposed); err != nil {
			return nil, err
		}
		resolved, err = controller.Resume(ctx)

	case DecisionRestart:
		if confirmToken != domain.ConfirmResetToken {
			return nil, domain.NewValidationError(domain.ErrInvalidConfirmation, `restart requires confirmation "DELETE"`, "confirm-reset")
		}
		cfg := job.Config()
		cfg.Settings = change.Proposed
		resolved, err = controller.Start(ctx, cfg, StartOptions{Restart: true, ConfirmToken: confirmToken})

	case DecisionRevert:
		resolved, err = controller.Resume(ctx)

	default:
		return nil, domain.NewValidationError(domain.ErrInvalidSettings,
			"decision must be one of continue, restart, revert", "")
	}
	if err != nil {
		return nil, err
	}

	delete(r.pending, datasetID)
	r.logger.Info("settings change resolved", "datasetID", datasetID, "decision", decision)
	return resolved, nil
}

// Pending は判断待ちの設定変更を返します
func (r *SettingsReconciler) Pending(ctx context.Context, datasetID string) (PendingChange, bool) {
	controller, err := r.service.Controller(datasetID)
	if err != nil {
		return PendingChange{}, false
	}
	job, err := controller.Job(ctx)
	if err != nil {
		return PendingChange{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPendingLocked(datasetID, job)
}

// currentPendingLocked はジョブがまだ判断待ちの状態にある場合のみ保留中の変更を返します
// 別経路で再開・リセットされた変更は破棄する
func (r *SettingsReconciler) currentPendingLocked(datasetID string, job *domain.Job) (PendingChange, bool) {
	change, ok := r.pending[datasetID]
	if !ok {
		return PendingChange{}, false
	}
	if change.JobID != job.ID || (job.Status != domain.JobStatusPaused && job.Status != domain.JobStatusFailed) {
		delete(r.pending, datasetID)
		return PendingChange{}, false
	}
	return change, true
}
