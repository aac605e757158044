package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeValidation    = "validation_error"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeInvalidState  = "invalid_state"
	ErrCodePostingFailed = "posting_failed"
	ErrCodeInternal      = "internal_error"
)

// ActorHeader carries the user a mutation is recorded against.
const ActorHeader = "X-Tally-Actor"

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	s.writeJSON(w, status, apiErr)
}

func classify(err error) (int, APIError) {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: err.Error()}
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, APIError{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, common.ErrInvalidState):
		return http.StatusConflict, APIError{Code: ErrCodeInvalidState, Message: err.Error()}
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, APIError{Code: ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, common.ErrPostingFailed):
		return http.StatusBadGateway, APIError{Code: ErrCodePostingFailed, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, APIError{Code: ErrCodeInternal, Message: "request cancelled"}
	}
	return http.StatusInternalServerError, APIError{Code: ErrCodeInternal, Message: "an internal error occurred"}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.Validationf("request body: %v", err)
	}
	return nil
}

func actor(r *http.Request) (string, error) {
	a := r.Header.Get(ActorHeader)
	if a == "" {
		return "", common.Validationf("%s header is required", ActorHeader)
	}
	return a, nil
}

func clientID(r *http.Request) string {
	return chi.URLParam(r, "clientID")
}

func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		return 0, common.Validationf("%s must be a non-negative integer", name)
	}
	return parsed, nil
}

// parsePeriod reads the inclusive from/to day parameters. Both or neither
// must be present.
func parsePeriod(from, to string) (*model.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, common.Validationf("from and to must be given together")
	}
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, common.Validationf("from: %v", err)
	}
	end, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, common.Validationf("to: %v", err)
	}
	if end.Before(start) {
		return nil, common.Validationf("to %s is before from %s", to, from)
	}
	return &model.DateRange{Start: start, End: end}, nil
}

func scopeFromQuery(r *http.Request) (model.Scope, error) {
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		return model.Scope{}, err
	}
	return model.Scope{
		ClientID:  clientID(r),
		AccountID: r.URL.Query().Get("account"),
		Period:    period,
	}, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", common.ErrNotFound, kind, id)
}
