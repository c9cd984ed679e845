package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/pkg/validator"
)

const maxBodyBytes = 64 << 10

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code   string                     `json:"code"`
	Fields validator.ValidationErrors `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, envelope{
		Message: message,
		Error:   &errorBody{Code: code},
	})
}

func writeValidationErrors(w http.ResponseWriter, message string, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, envelope{
		Message: message,
		Error:   &errorBody{Code: "VALIDATION_ERROR", Fields: errs},
	})
}

// writeServiceError maps the domain error taxonomy to a status code. Internal
// errors are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var fields validator.ValidationErrors
	switch kind := domain.Kind(err); kind {
	case "VALIDATION_ERROR":
		if errors.As(err, &fields) {
			writeValidationErrors(w, "Validation failed", fields)
			return
		}
		writeError(w, http.StatusBadRequest, kind, err.Error())
	case "FORBIDDEN":
		writeError(w, http.StatusForbidden, kind, err.Error())
	case "NOT_FOUND":
		writeError(w, http.StatusNotFound, kind, err.Error())
	case "UNSUPPORTED":
		writeError(w, http.StatusNotImplemented, kind, err.Error())
	case "UNAUTHORIZED":
		writeError(w, http.StatusUnauthorized, kind, err.Error())
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg(action + " failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}

// decodeJSON reads a size-limited body and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", msg)
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// pageParams reads ?page and ?limit. Missing values are left at zero for the
// service to default.
func pageParams(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	q := r.URL.Query()
	errs := make(validator.ValidationErrors)

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs.Add("page", "page must be a positive integer")
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs.Add("limit", "limit must be a positive integer")
		}
		limit = n
	}

	if errs.HasErrors() {
		writeValidationErrors(w, "Invalid pagination", errs)
		return 0, 0, false
	}
	return page, limit, true
}
