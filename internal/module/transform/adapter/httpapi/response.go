package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// errorResponse はエラー時のレスポンスボディです
type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Action string `json:"action,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// writeError はエラーの分類に応じたステータスで{"error","code","action"}を返します
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	resp := errorResponse{Error: err.Error(), Code: string(domain.ErrorKindFatal)}

	var opErr *domain.OperationError
	if errors.As(err, &opErr) {
		resp.Error = opErr.Message
		resp.Code = string(opErr.Kind)
		resp.Action = opErr.Action
	}

	status := statusFor(domain.KindOf(err))
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, resp)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindValidation:
		return http.StatusBadRequest
	case domain.ErrorKindConflict:
		return http.StatusConflict
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Code: string(domain.ErrorKindValidation)})
}

// decodeBody はJSONボディを読み込みます。空ボディは許容する
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
