package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/record-files/pkg/recordfiles"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "invalid request body: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) (int, string) {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad), errors.Is(err, errInvalidRecordID),
		errors.Is(err, recordfiles.ErrInvalidFileKey):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, recordfiles.ErrInvalidFileStatus), errors.Is(err, recordfiles.ErrContentNotWritten):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, recordfiles.ErrRecordNotFound), errors.Is(err, recordfiles.ErrFileKeyNotFound),
		errors.Is(err, recordfiles.ErrObjectNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, recordfiles.ErrPermissionDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, recordfiles.ErrDuplicateKey):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *RecordsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "An internal server error occurred"
	} else {
		h.logger.DebugContext(r.Context(), "Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
