package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError maps a service failure onto a status code. Internal failures
// keep their detail in the logs only.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := service.Classify(err)
	msg := err.Error()
	if kind == service.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, logger, statusFor(kind, err), ErrorResponse{Error: msg, Kind: string(kind)})
}

func statusFor(kind service.Kind, err error) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindState, service.KindDuplicate, service.KindConflict:
		return http.StatusConflict
	case service.KindRule:
		return http.StatusUnprocessableEntity
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindUnauthorized, service.KindForbidden:
		return http.StatusForbidden
	case service.KindAuth:
		switch {
		case errors.Is(err, service.ErrTooManyAttempts):
			return http.StatusTooManyRequests
		case errors.Is(err, service.ErrAccountLocked):
			return http.StatusLocked
		}
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter, logger *slog.Logger, msg string) {
	writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: string(service.KindValidation)})
}
