package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// StartRequest はジョブ開始リクエストのボディです
type StartRequest struct {
	Settings           domain.Settings   `json:"settings"`
	Exclusions         domain.Exclusions `json:"exclusions"`
	RespondentIDColumn string            `json:"respondentIdColumn,omitempty"`
	// Restart は既存ジョブを削除して最初からやり直す。confirmに"DELETE"が必要
	Restart bool   `json:"restart,omitempty"`
	Confirm string `json:"confirm,omitempty"`
}

// ConfirmRequest はリセット確認のボディです
type ConfirmRequest struct {
	Confirm string `json:"confirm"`
}

// ResolveRequest は保留中の設定変更への判断です
type ResolveRequest struct {
	Decision application.Decision `json:"decision"`
	Confirm  string               `json:"confirm,omitempty"`
}

// ResultPage は結果一覧のレスポンスです
type ResultPage struct {
	Items  []*domain.TransformResult `json:"items"`
	Total  int                       `json:"total"`
	Offset int                       `json:"offset"`
	Limit  int                       `json:"limit"`
}

const defaultPageSize = 50

// Handler は変換ジョブのHTTP APIです
type Handler struct {
	service    *application.TransformService
	reconciler *application.SettingsReconciler
	publisher  *application.StatusPublisher
	logger     *slog.Logger
}

// NewHandler は新しいHandlerを作成します
func NewHandler(
	service *application.TransformService,
	reconciler *application.SettingsReconciler,
	publisher *application.StatusPublisher,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:    service,
		reconciler: reconciler,
		publisher:  publisher,
		logger:     logger,
	}
}

// Routes はルーティング済みのhttp.Handlerを返します
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	const base = "/api/datasets/{datasetID}/transform"

	mux.HandleFunc("POST "+base+"/start", h.start)
	mux.HandleFunc("POST "+base+"/pause", h.pause)
	mux.HandleFunc("POST "+base+"/resume", h.resume)
	mux.HandleFunc("POST "+base+"/stop", h.stop)
	mux.HandleFunc("POST "+base+"/cancel", h.cancel)
	mux.HandleFunc("POST "+base+"/reset", h.reset)
	mux.HandleFunc("POST "+base+"/continue", h.continueJob)
	mux.HandleFunc("POST "+base+"/rows/{rowIndex}/retry", h.retryRow)
	mux.HandleFunc("PUT "+base+"/settings", h.proposeSettings)
	mux.HandleFunc("POST "+base+"/settings/resolve", h.resolveSettings)
	mux.HandleFunc("GET "+base+"/status", h.status)
	mux.HandleFunc("GET "+base+"/results", h.results)
	mux.HandleFunc("GET "+base+"/results/range", h.resultsRange)
	mux.HandleFunc("GET "+base+"/results/{rowIndex}", h.result)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return withObservability(mux, h.logger)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON payload: "+err.Error())
		return
	}
	cfg := domain.JobConfig{
		DatasetID:          r.PathValue("datasetID"),
		Settings:           req.Settings,
		Exclusions:         req.Exclusions,
		RespondentIDColumn: req.RespondentIDColumn,
	}
	job, err := h.service.Start(r.Context(), cfg, application.StartOptions{Restart: req.Restart, ConfirmToken: req.Confirm})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, application.FromJob(job))
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Pause)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Resume)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Stop)
}

type transitionFunc func(ctx context.Context, datasetID string) (*domain.Job, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	job, err := fn(r.Context(), r.PathValue("datasetID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, application.FromJob(job))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Cancel(r.Context(), r.PathValue("datasetID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON payload: "+err.Error())
		return
	}
	if err := h.service.Reset(r.Context(), r.PathValue("datasetID"), req.Confirm); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) continueJob(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeBody(r, &settings); err != nil {
		badRequest(w, "invalid JSON payload: "+err.Error())
		return
	}
	job, err := h.service.Continue(r.Context(), r.PathValue("datasetID"), settings)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, application.FromJob(job))
}

func (h *Handler) retryRow(w http.ResponseWriter, r *http.Request) {
	rowIndex, err := strconv.Atoi(r.PathValue("rowIndex"))
	if err != nil {
		badRequest(w, "rowIndex must be an integer")
		return
	}
	job, err := h.service.RetryRow(r.Context(), r.PathValue("datasetID"), rowIndex)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, application.FromJob(job))
}

func (h *Handler) proposeSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeBody(r, &settings); err != nil {
		badRequest(w, "invalid JSON payload: "+err.Error())
		return
	}
	outcome, err := h.reconciler.Propose(r.Context(), r.PathValue("datasetID"), settings)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) resolveSettings(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON payload: "+err.Error())
		return
	}
	job, err := h.reconciler.Resolve(r.Context(), r.PathValue("datasetID"), req.Decision, req.Confirm)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, application.FromJob(job))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.publisher.Snapshot(r.Context(), r.PathValue("datasetID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultPageSize)
	if !ok {
		return
	}
	items, total, err := h.service.Results(r.Context(), r.PathValue("datasetID"), offset, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultPage{Items: items, Total: total, Offset: offset, Limit: limit})
}

func (h *Handler) resultsRange(w http.ResponseWriter, r *http.Request) {
	start, ok := queryInt(w, r, "start", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultPageSize)
	if !ok {
		return
	}
	items, err := h.service.ResultsRange(r.Context(), r.PathValue("datasetID"), start, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "start": start, "limit": limit})
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request) {
	rowIndex, err := strconv.Atoi(r.PathValue("rowIndex"))
	if err != nil {
		badRequest(w, "rowIndex must be an integer")
		return
	}
	result, err := h.service.Result(r.Context(), r.PathValue("datasetID"), rowIndex)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(w, name+" must be an integer")
		return 0, false
	}
	return v, true
}
