package processing

import (
	"encoding/json"
	"errors"
	"net/http"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/http-server/handler/processing/dto"
)

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.respondJSON(w, status, errorBody(status, message, err))
}

func errorBody(status int, message string, err error) dto.ErrorResponse {
	resp := dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	if err != nil && status < http.StatusInternalServerError {
		resp.Details = err.Error()
	}
	return resp
}

// statusFor maps a usecase error onto an HTTP status and a client message.
func statusFor(err error) (int, string) {
	var conflict *domain.ConflictError
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest, "Validation failed"
	case errors.As(err, &conflict):
		return http.StatusBadRequest, conflict.Error()
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "Task not found"
	case errors.Is(err, domain.ErrImageNotFound):
		return http.StatusNotFound, "Image not found"
	case errors.Is(err, domain.ErrResultNotFound):
		return http.StatusNotFound, "Result not found"
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable, "Processing queue is full, retry later"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Access denied"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, op, taskID string) {
	status, message := statusFor(err)

	ev := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("op", op).Str("task_id", taskID).Int("status", status).Msg("Request failed")

	h.respondError(w, status, message, err)
}
