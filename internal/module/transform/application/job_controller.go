package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

const persistTimeout = 10 * time.Second

var errStaleJob = errors.New("job is no longer current")

// StartOptions はStartの動作オプションです
type StartOptions struct {
	// Restart は既存ジョブをリセットしてから開始する
	Restart      bool
	ConfirmToken string
}

// CancelResult はキャンセル時に保持・破棄された行数です
type CancelResult struct {
	CompletedKept  int `json:"completedKept"`
	InFlightKept   int `json:"inFlightKept"`
	WaitingRemoved int `json:"waitingRemoved"`
}

// JobController は1データセットのジョブ状態遷移を管理します
// Jobへの変更はすべてmuで直列化される。ロック順は mu → RowScheduler内部ロック
type JobController struct {
	datasetID string
	jobs      domain.JobRepository
	results   domain.ResultStore
	datasets  domain.DatasetProvider
	processor *ChunkProcessor
	sink      domain.StatusSink
	logger    *slog.Logger
	baseCtx   context.Context

	mu        sync.Mutex
	loaded    bool
	resetting bool
	job       *domain.Job
	variables []domain.Variable
	sched     *RowScheduler
}

func newJobController(baseCtx context.Context, datasetID string, deps serviceDeps) *JobController {
	return &JobController{
		datasetID: datasetID,
		jobs:      deps.jobs,
		results:   deps.results,
		datasets:  deps.datasets,
		processor: deps.processor,
		sink:      deps.sink,
		logger:    deps.logger.With("datasetID", datasetID),
		baseCtx:   baseCtx,
	}
}

// Job は現在のジョブのスナップショットを返します
func (c *JobController) Job(ctx context.Context) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(ctx); err != nil {
		return nil, err
	}
	if c.job == nil {
		return nil, notFound()
	}
	return c.job.Clone(), nil
}

// Observe はジョブのスナップショットと処理中の行数を返します。ジョブがなければnil
func (c *JobController) Observe(ctx context.Context) (*domain.Job, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(ctx); err != nil {
		return nil, 0, err
	}
	if c.job == nil {
		return nil, 0, nil
	}
	inFlight := 0
	if c.sched != nil {
		inFlight = c.sched.InFlight()
	}
	return c.job.Clone(), inFlight, nil
}

// Start はジョブを開始します
// 完了済みジョブに対するStartは継続として扱い、Restart指定時はリセット後に新規開始する
func (c *JobController) Start(ctx context.Context, cfg domain.JobConfig, opts StartOptions) (*domain.Job, error) {
	if opts.Restart {
		if opts.ConfirmToken != domain.ConfirmResetToken {
			return nil, domain.NewValidationError(domain.ErrInvalidConfirmation, `restart requires confirmation "DELETE"`, "confirm-reset")
		}
		if err := c.Reset(ctx, opts.ConfirmToken); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(ctx); err != nil {
		return nil, err
	}
	if c.job != nil {
		switch c.job.Status {
		case domain.JobStatusIdle:
		case domain.JobStatusCompleted:
			return c.continueLocked(ctx, cfg.Settings)
		default:
			return nil, domain.NewConflictError(domain.ErrInvalidTransition,
				fmt.Sprintf("job is already %s", c.job.Status), actionFor(c.job.Status))
		}
	}
	return c.startLocked(ctx, cfg)
}

func (c *JobController) startLocked(ctx context.Context, cfg domain.JobConfig) (*domain.Job, error) {
	cfg.DatasetID = c.datasetID
	cfg.Settings = cfg.Settings.Normalize()
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	meta, err := c.datasets.Meta(ctx, c.datasetID)
	if err != nil {
		return nil, domain.NewFatalError(fmt.Errorf("%w: %v", domain.ErrDatasetUnavailable, err), "failed to read dataset")
	}

	job := domain.NewJob(cfg, meta.TotalRows, time.Now())
	if job.EffectiveTotal() == 0 {
		return nil, domain.NewValidationError(domain.ErrNothingToProcess, "dataset has no rows to process", "")
	}
	job.Status = domain.JobStatusRunning

	c.job = job
	c.variables = meta.Variables
	c.sched = c.newSchedulerLocked(job)
	if err := c.persistLocked(ctx); err != nil {
		c.job, c.sched, c.variables = nil, nil, nil
		return nil, domain.NewFatalError(err, "failed to persist job")
	}

	c.logger.Info("transform job started",
		"jobID", job.ID,
		"totalRows", job.TotalRows,
		"effectiveTotal", job.EffectiveTotal(),
		"chunkSize", job.Settings.ChunkSize,
		"rowConcurrency", job.Settings.RowConcurrency,
	)
	c.publishLocked()
	c.sched.Start()
	return job.Clone(), nil
}

// Pause は新規ディスパッチを止めます。処理中の行は完了まで続行する
func (c *JobController) Pause(ctx context.Context) (*domain.Job, error) {
	return c.pause(ctx, "paused")
}

// Stop はPauseと同じ遷移です。後で再開できる停止として扱う
func (c *JobController) Stop(ctx context.Context) (*domain.Job, error) {
	return c.pause(ctx, "stopped")
}

func (c *JobController) pause(ctx context.Context, verb string) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStatusLocked(ctx, domain.JobStatusRunning); err != nil {
		return nil, err
	}

	c.sched.Halt()
	c.job.Status = domain.JobStatusPaused
	if err := c.persistLocked(ctx); err != nil {
		return nil, c.failLocked(err)
	}
	c.logger.Info("transform job "+verb, "jobID", c.job.ID, "processedRows", c.job.ProcessedRows, "inFlight", c.sched.InFlight())
	c.publishLocked()
	return c.job.Clone(), nil
}

// Resume はpaused/failedのジョブを再開します
// 確定結果を持たない最小の行からディスパッチし直す
func (c *JobController) Resume(ctx context.Context) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStatusLocked(ctx, domain.JobStatusPaused, domain.JobStatusFailed); err != nil {
		return nil, err
	}
	if err := c.resumeLocked(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("transform job resumed", "jobID", c.job.ID, "processedRows", c.job.ProcessedRows)
	return c.job.Clone(), nil
}

func (c *JobController) resumeLocked(ctx context.Context) error {
	if err := c.loadVariablesLocked(ctx); err != nil {
		return c.failLocked(err)
	}

	terminal, err := c.results.TerminalRows(ctx, c.job.ID)
	if err != nil {
		return c.failLocked(fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err))
	}
	c.sched.Seed(terminal)
	c.applyTallyLocked()

	c.job.Status = domain.JobStatusRunning
	if err := c.persistLocked(ctx); err != nil {
		return c.failLocked(err)
	}
	c.publishLocked()
	c.sched.Start()
	return nil
}

// Cancel は待機中の行を破棄してジョブをcancelledにします
// 確定済みの結果と処理中の行は保持される
func (c *JobController) Cancel(ctx context.Context) (CancelResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStatusLocked(ctx, domain.JobStatusRunning, domain.JobStatusPaused); err != nil {
		return CancelResult{}, err
	}

	inFlight := c.sched.InFlight()
	waiting := c.sched.Drop()
	c.applyTallyLocked()
	result := CancelResult{
		CompletedKept:  c.job.ProcessedRows,
		InFlightKept:   inFlight,
		WaitingRemoved: waiting,
	}

	c.job.Status = domain.JobStatusCancelled
	if err := c.persistLocked(ctx); err != nil {
		return CancelResult{}, c.failLocked(err)
	}
	c.logger.Info("transform job cancelled",
		"jobID", c.job.ID,
		"completedKept", result.CompletedKept,
		"inFlightKept", result.InFlightKept,
		"waitingRemoved", result.WaitingRemoved,
	)
	c.publishLocked()
	return result, nil
}

// Reset はジョブと全ての変換結果を削除します。確定文字列"DELETE"が必要
func (c *JobController) Reset(ctx context.Context, confirmToken string) error {
	if confirmToken != domain.ConfirmResetToken {
		return domain.NewValidationError(domain.ErrInvalidConfirmation, `reset requires confirmation "DELETE"`, "confirm-reset")
	}

	c.mu.Lock()
	if err := c.readyLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.job == nil {
		c.mu.Unlock()
		return notFound()
	}
	job, sched := c.job, c.sched
	c.resetting = true
	c.mu.Unlock()

	// 処理中の行の通知がmuを取るため、ロックを外して待つ
	if sched != nil {
		sched.Abort()
	}

	err := c.results.DeleteByJob(ctx, job.ID)
	if err == nil {
		err = c.jobs.Delete(ctx, job.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetting = false
	c.job, c.sched, c.variables = nil, nil, nil
	if err != nil {
		// 永続化側に残ったジョブは次回アクセス時に読み直す
		c.loaded = false
		return domain.NewFatalError(fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err), "failed to delete job")
	}

	c.logger.Info("transform job reset", "jobID", job.ID)
	if c.sink != nil {
		idle := &domain.Job{ID: job.ID, DatasetID: c.datasetID, Status: domain.JobStatusIdle, CurrentRowIndex: -1, UpdatedAt: time.Now()}
		c.publish(idle)
	}
	return nil
}

// RetryRow は1行を再処理します。ジョブの状態は変えない
// 以前の確定結果は集計から外され、再確定時に数え直される
func (c *JobController) RetryRow(ctx context.Context, rowIndex int) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(ctx); err != nil {
		return nil, err
	}
	if c.job == nil {
		return nil, notFound()
	}
	if c.job.Status == domain.JobStatusIdle {
		return nil, domain.NewConflictError(domain.ErrInvalidTransition, "job has not started", "start")
	}
	if rowIndex < 0 || rowIndex >= c.job.EffectiveTotal() {
		return nil, domain.NewValidationError(domain.ErrRowOutOfRange,
			fmt.Sprintf("row %d is outside [0, %d)", rowIndex, c.job.EffectiveTotal()), "")
	}

	if err := c.loadVariablesLocked(ctx); err != nil {
		c.logger.Warn("row retry rejected", "jobID", c.job.ID, "rowIndex", rowIndex, "error", err)
		return nil, domain.NewFatalError(err, "dataset is unavailable")
	}

	prev, err := c.sched.DispatchRow(rowIndex)
	switch {
	case errors.Is(err, domain.ErrRowInFlight):
		return nil, domain.NewConflictError(err, fmt.Sprintf("row %d is already being processed", rowIndex), "wait")
	case errors.Is(err, domain.ErrRowOutOfRange):
		return nil, domain.NewValidationError(err, fmt.Sprintf("row %d is out of range", rowIndex), "")
	case err != nil:
		return nil, domain.NewFatalError(err, "failed to dispatch row")
	}

	c.applyTallyLocked()
	if err := c.persistLocked(ctx); err != nil {
		return nil, c.failLocked(err)
	}
	c.logger.Info("row retry dispatched", "jobID", c.job.ID, "rowIndex", rowIndex, "previous", prev)
	return c.job.Clone(), nil
}

// Continue は完了済みジョブの処理対象を広げて再開します
func (c *JobController) Continue(ctx context.Context, settings domain.Settings) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStatusLocked(ctx, domain.JobStatusCompleted); err != nil {
		return nil, err
	}
	return c.continueLocked(ctx, settings)
}

func (c *JobController) continueLocked(ctx context.Context, settings domain.Settings) (*domain.Job, error) {
	settings = settings.Normalize()
	if err := c.validateSettingsLocked(settings); err != nil {
		return nil, err
	}
	if settings.EffectiveTotal(c.job.TotalRows) <= c.job.ProcessedRows {
		return nil, domain.NewValidationError(domain.ErrNothingToProcess,
			"all rows within the row limit are already processed", "raise-row-limit")
	}

	c.commitSettingsLocked(settings)
	if err := c.resumeLocked(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("transform job continued", "jobID", c.job.ID, "effectiveTotal", c.job.EffectiveTotal())
	return c.job.Clone(), nil
}

// CommitSettings は停止中のジョブに設定を反映します
func (c *JobController) CommitSettings(ctx context.Context, settings domain.Settings) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStatusLocked(ctx, domain.JobStatusPaused, domain.JobStatusFailed); err != nil {
		return nil, err
	}
	settings = settings.Normalize()
	if err := c.validateSettingsLocked(settings); err != nil {
		return nil, err
	}

	c.commitSettingsLocked(settings)
	if err := c.persistLocked(ctx); err != nil {
		return nil, c.failLocked(err)
	}
	c.logger.Info("settings committed",
		"jobID", c.job.ID,
		"chunkSize", settings.ChunkSize,
		"rowConcurrency", settings.RowConcurrency,
		"effectiveTotal", c.job.EffectiveTotal(),
	)
	return c.job.Clone(), nil
}

// Wait は処理中の行がすべて終わるまで待ちます
func (c *JobController) Wait() {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()

	if sched != nil {
		sched.Wait()
	}
}

// Shutdown は新規ディスパッチを止め、処理中の行の完了をctxの期限まで待ちます
func (c *JobController) Shutdown(ctx context.Context) {
	c.mu.Lock()
	sched := c.sched
	if c.job != nil && c.job.Status == domain.JobStatusRunning {
		sched.Halt()
		c.job.Status = domain.JobStatusPaused
		if err := c.persistLocked(ctx); err != nil {
			c.logger.Error("failed to persist job on shutdown", "error", err)
		}
		c.publishLocked()
	}
	c.mu.Unlock()

	if sched == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("aborting in-flight rows on shutdown")
		sched.Abort()
	}
}

// === internal ===

func (c *JobController) readyLocked(ctx context.Context) error {
	if c.resetting {
		return domain.NewConflictError(domain.ErrInvalidTransition, "reset is in progress", "wait")
	}
	if c.loaded {
		return nil
	}

	found, err := c.jobs.GetByDataset(ctx, c.datasetID)
	if err != nil {
		return domain.NewFatalError(fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err), "failed to load job")
	}
	job, ok := found.Get()
	if !ok {
		c.loaded = true
		return nil
	}

	terminal, err := c.results.TerminalRows(ctx, job.ID)
	if err != nil {
		return domain.NewFatalError(fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err), "failed to load results")
	}
	if meta, err := c.datasets.Meta(ctx, c.datasetID); err == nil {
		c.variables = meta.Variables
	} else {
		c.logger.Warn("dataset unavailable while restoring job", "jobID", job.ID, "error", err)
	}

	c.job = job
	c.sched = c.newSchedulerLocked(job)
	c.sched.Seed(terminal)
	c.applyTallyLocked()
	c.loaded = true

	// 再起動をまたいでディスパッチは継続しない
	if job.Status == domain.JobStatusRunning {
		job.Status = domain.JobStatusPaused
		if err := c.persistLocked(ctx); err != nil {
			c.logger.Error("failed to persist restored job", "jobID", job.ID, "error", err)
		}
	}
	c.logger.Info("transform job restored", "jobID", job.ID, "status", job.Status, "processedRows", job.ProcessedRows)
	return nil
}

func (c *JobController) requireStatusLocked(ctx context.Context, allowed ...domain.JobStatus) error {
	if err := c.readyLocked(ctx); err != nil {
		return err
	}
	if c.job == nil {
		return notFound()
	}
	for _, s := range allowed {
		if c.job.Status == s {
			return nil
		}
	}
	return domain.NewConflictError(domain.ErrInvalidTransition,
		fmt.Sprintf("operation is not allowed while job is %s", c.job.Status), actionFor(c.job.Status))
}

func (c *JobController) validateSettingsLocked(settings domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.RowLimit != nil && c.job.ProcessedRows > 0 && *settings.RowLimit < c.job.ProcessedRows {
		return domain.NewValidationError(domain.ErrRowLimitBelowProcessed,
			fmt.Sprintf("rowLimit %d is below %d processed rows; reset first", *settings.RowLimit, c.job.ProcessedRows), "reset")
	}
	return nil
}

func (c *JobController) commitSettingsLocked(settings domain.Settings) {
	c.job.Settings = settings
	c.sched.SetConcurrency(settings.RowConcurrency)
	c.sched.SetEffectiveTotal(c.job.EffectiveTotal())
	c.applyTallyLocked()
}

// loadVariablesLocked は未読み込みのデータセットスキーマを取得します
func (c *JobController) loadVariablesLocked(ctx context.Context) error {
	if c.variables != nil {
		return nil
	}
	meta, err := c.datasets.Meta(ctx, c.datasetID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDatasetUnavailable, err)
	}
	c.variables = meta.Variables
	return nil
}

func (c *JobController) applyTallyLocked() {
	c.job.ProcessedRows, c.job.FailedRows = c.sched.Tally()
}

func (c *JobController) newSchedulerLocked(job *domain.Job) *RowScheduler {
	jobID := job.ID
	hooks := SchedulerHooks{
		OnDispatch: func(rowIndex int) { c.onDispatch(jobID, rowIndex) },
		OnSettled:  func(rowIndex int, outcome RowOutcome) { c.onSettled(jobID, rowIndex, outcome) },
		OnIdle:     func() { c.onIdle(jobID) },
	}
	return NewRowScheduler(c.baseCtx, c.rowFunc(jobID), hooks, job.Settings.RowConcurrency, job.EffectiveTotal(), c.logger)
}

func (c *JobController) rowFunc(jobID uuid.UUID) RowFunc {
	return func(ctx context.Context, rowIndex int) RowOutcome {
		c.mu.Lock()
		if c.job == nil || c.job.ID != jobID {
			c.mu.Unlock()
			return RowOutcome{Fatal: errStaleJob}
		}
		task := RowTask{
			JobID:              jobID,
			DatasetID:          c.datasetID,
			RowIndex:           rowIndex,
			ChunkSize:          c.job.Settings.ChunkSize,
			Variables:          c.variables,
			Exclusions:         c.job.Clone().Exclusions,
			RespondentIDColumn: c.job.RespondentIDColumn,
		}
		c.mu.Unlock()

		if task.Variables == nil {
			return RowOutcome{Fatal: fmt.Errorf("%w: dataset schema is not loaded", domain.ErrDatasetUnavailable)}
		}
		return c.processor.ProcessRow(ctx, task, RowHooks{
			OnRetry: func() { c.recordStat(jobID, func(s *domain.JobStats) { s.Retries++ }) },
			OnError: func() { c.recordStat(jobID, func(s *domain.JobStats) { s.Errors++ }) },
		})
	}
}

func (c *JobController) currentLocked(jobID uuid.UUID) bool {
	return c.job != nil && c.job.ID == jobID
}

func (c *JobController) recordStat(jobID uuid.UUID, update func(*domain.JobStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentLocked(jobID) {
		update(&c.job.Stats)
	}
}

func (c *JobController) onDispatch(jobID uuid.UUID, rowIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentLocked(jobID) && rowIndex > c.job.CurrentRowIndex {
		c.job.CurrentRowIndex = rowIndex
	}
}

func (c *JobController) onSettled(jobID uuid.UUID, rowIndex int, outcome RowOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(jobID) {
		return
	}

	if outcome.Fatal != nil {
		if errors.Is(outcome.Fatal, errStaleJob) {
			return
		}
		c.logger.Error("row aborted by job-level failure", "jobID", jobID, "rowIndex", rowIndex, "error", outcome.Fatal)
		c.applyTallyLocked()
		_ = c.failLocked(outcome.Fatal)
		return
	}

	c.applyTallyLocked()
	if outcome.Status == domain.RowStatusFailed {
		c.job.LastError = fmt.Sprintf("row %d: %s", rowIndex, outcome.Message)
	}
	c.completeIfDoneLocked()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.persistLocked(ctx); err != nil {
		_ = c.failLocked(err)
	}
}

func (c *JobController) onIdle(jobID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(jobID) || c.job.Status != domain.JobStatusRunning {
		return
	}

	c.applyTallyLocked()
	if c.job.ProcessedRows < c.job.EffectiveTotal() {
		c.logger.Warn("dispatch stalled with unsettled rows", "jobID", jobID, "processedRows", c.job.ProcessedRows)
		c.job.Status = domain.JobStatusPaused
		c.job.LastError = "dispatch stalled before all rows settled"
	} else {
		c.completeIfDoneLocked()
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.persistLocked(ctx); err != nil {
		_ = c.failLocked(err)
		return
	}
	c.publishLocked()
}

func (c *JobController) completeIfDoneLocked() {
	if c.job.Status != domain.JobStatusRunning {
		return
	}
	if c.job.ProcessedRows < c.job.EffectiveTotal() || c.sched.InFlight() > 0 {
		return
	}
	c.job.Status = domain.JobStatusCompleted
	c.logger.Info("transform job completed",
		"jobID", c.job.ID,
		"processedRows", c.job.ProcessedRows,
		"failedRows", c.job.FailedRows,
		"errors", c.job.Stats.Errors,
		"retries", c.job.Stats.Retries,
	)
	c.publishLocked()
}

// failLocked はジョブレベルの致命的エラーでディスパッチを止めます
func (c *JobController) failLocked(cause error) error {
	c.sched.Halt()
	c.job.LastError = cause.Error()
	if c.job.Status == domain.JobStatusRunning || c.job.Status == domain.JobStatusPaused {
		c.job.Status = domain.JobStatusFailed
	}
	c.logger.Error("transform job failed", "jobID", c.job.ID, "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.persistLocked(ctx); err != nil {
		c.logger.Error("failed to persist failed job", "jobID", c.job.ID, "error", err)
	}
	c.publishLocked()
	return domain.NewFatalError(cause, "job failed")
}

func (c *JobController) persistLocked(ctx context.Context) error {
	c.job.UpdatedAt = time.Now()
	if err := c.jobs.Save(ctx, c.job.Clone()); err != nil {
		return fmt.Errorf("%w: failed to save job: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (c *JobController) publishLocked() {
	if c.sink != nil {
		c.publish(c.job.Clone())
	}
}

func (c *JobController) publish(job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.sink.Publish(ctx, job); err != nil {
		c.logger.Warn("failed to publish job status", "jobID", job.ID, "status", job.Status, "error", err)
	}
}

func notFound() error {
	return domain.NewNotFoundError(domain.ErrJobNotFound, "no transform job for this dataset")
}

// actionFor は状態ごとにオペレーターへ提示する次の操作を返します
func actionFor(status domain.JobStatus) string {
	switch status {
	case domain.JobStatusRunning:
		return "pause"
	case domain.JobStatusPaused, domain.JobStatusFailed:
		return "resume"
	case domain.JobStatusCompleted:
		return "continue"
	case domain.JobStatusCancelled:
		return "reset"
	default:
		return "start"
	}
}
