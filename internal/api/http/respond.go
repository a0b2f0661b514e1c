package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
)

var validate = validator.New()

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case apperr.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case apperr.IsConflict(err):
		return http.StatusConflict, "state_conflict"
	case apperr.IsExpired(err):
		return http.StatusForbidden, "expired_window"
	case apperr.IsTransient(err):
		return http.StatusServiceUnavailable, "transient_storage"
	}
	return http.StatusInternalServerError, ""
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Field = ae.Field
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v and validates its struct tags.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json: " + err.Error(), Kind: "validation"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		body := errorBody{Error: err.Error(), Kind: "validation"}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			body.Field = strings.ToLower(ve[0].Field())
			body.Error = ve[0].Field() + " failed " + ve[0].Tag()
		}
		writeJSON(w, http.StatusBadRequest, body)
		return false
	}
	return true
}
