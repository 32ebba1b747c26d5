package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shineum/mailgate/internal/dispatch"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/store"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg})
}

// writeOutcome answers 200 with the outcome, or 500 when delivery failed.
func writeOutcome(w http.ResponseWriter, out email.Outcome) {
	if !out.Success {
		writeMessage(w, http.StatusInternalServerError, out.Message)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeError maps a pre-delivery error onto a status code.
func writeError(w http.ResponseWriter, err error) {
	writeMessage(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		verr *email.ValidationError
		eerr *email.EncodingError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &eerr), errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrNoStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
