package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/CoderRahul01/unideploy/internal/apperr"
)

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON envelope returned for error responses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RespondError writes a JSON error envelope with the given status code.
func RespondError(w http.ResponseWriter, status int, errStr, message string) {
	Respond(w, status, errorResponse{Error: errStr, Message: message})
}

// RespondAppError maps an apperr.Kind to its HTTP status code and writes the
// error envelope. Errors that are not *apperr.Error are treated as internal
// and logged, never exposing the underlying message to the caller.
func RespondAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error("unhandled error", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
		return
	}

	status := statusForKind(e.Kind)
	if status >= 500 {
		logger.Error("request failed", "kind", e.Kind, "message", e.Message, "cause", e.Err)
	}
	RespondError(w, status, string(e.Kind), e.Message)
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindPlatformBlocked:
		return http.StatusServiceUnavailable
	case apperr.KindSandbox:
		return http.StatusInternalServerError
	case apperr.KindIntegration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
