package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/pkg/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxBodyBytes = 1 << 20

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error         string     `json:"error"`
	Code          string     `json:"code,omitempty"`
	Message       string     `json:"message,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// statusFor maps a domain error code to an HTTP status
func statusFor(code model.ErrorCode) int {
	switch code {
	case model.CodeValidation:
		return http.StatusBadRequest
	case model.CodeForbidden, model.CodeQueueDisabled, model.CodeCooldownActive:
		return http.StatusForbidden
	case model.CodeCapacityExceeded, model.CodeConflict:
		return http.StatusConflict
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err using its domain code. Errors without a code
// are logged and reported as 500 without details.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *model.Error
	if !errors.As(err, &de) {
		slog.Error("Request failed",
			"path", r.URL.Path,
			"error", err,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := statusFor(de.Code)
	if status >= 500 {
		slog.Error("Request failed",
			"path", r.URL.Path,
			"code", de.Code,
			"error", err,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
		)
	}
	writeJSON(w, status, ErrorResponse{
		Error:         http.StatusText(status),
		Code:          string(de.Code),
		Message:       de.Error(),
		CooldownUntil: de.CooldownUntil,
	})
}

// decodeJSON decodes the request body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.ValidationError("invalid request body: %v", err)
	}
	return nil
}

// pathObjectID parses the {name} path value as an ObjectID
func pathObjectID(r *http.Request, name string) (primitive.ObjectID, error) {
	raw := r.PathValue(name)
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, model.ValidationError("invalid %s %q", name, raw)
	}
	return id, nil
}

// requireIdentity returns the caller identity or writes a 401
func requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return "", false
	}
	return identity, true
}

// parseQueryInt parses an integer query parameter with a default value
func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// parseQueryBool parses a boolean query parameter
func parseQueryBool(r *http.Request, key string) bool {
	value := r.URL.Query().Get(key)
	return value == "true" || value == "1"
}
