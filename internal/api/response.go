package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
)

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeError reports err with a status derived from its code
func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "code", apperrors.CodeOf(err), "error", err)
	}
	writeJSON(w, logger, status, map[string]string{
		"error": apperrors.UserMessage(err),
		"code":  apperrors.CodeOf(err),
	})
}

func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArg:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict, apperrors.CodeBusy:
		return http.StatusConflict
	case apperrors.CodeMissingConfiguration, apperrors.CodeUnknownMethod, apperrors.CodeUnsupportedCapability,
		apperrors.CodeNoSpeechDetected:
		return http.StatusUnprocessableEntity
	case apperrors.CodeConnectionFailed, apperrors.CodeRemoteError, apperrors.CodeTranslationFailed,
		apperrors.CodeExternal:
		return http.StatusBadGateway
	case apperrors.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
