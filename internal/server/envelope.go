package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	httpmiddleware "github.com/wolfeidau/platform-gateway/internal/http"
)

const (
	messageInternal    = "Internal server error"
	messageUnavailable = "Service unavailable"
	maxHeaderLogLength = 256
)

// Envelope wraps successful JSON responses.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Errors     any    `json:"errors"`
	Timestamp  string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// WriteData writes data wrapped in the response envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{
		StatusCode: status,
		Message:    http.StatusText(status),
		Data:       data,
	})
}

// classify maps err to the status and client-visible message and errors.
// Server-side failures never expose their cause.
func classify(err error) (int, string, any) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "request body too large", nil
	}

	appErr, ok := apperror.As(err)
	if !ok {
		return http.StatusInternalServerError, messageInternal, nil
	}

	status := appErr.HTTPStatus()

	switch appErr.Kind {
	case apperror.KindCompensation, apperror.KindUnknown:
		return status, messageInternal, nil
	case apperror.KindTransport:
		return status, messageUnavailable, nil
	}

	msg := appErr.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return status, msg, appErr.Details
}

// WriteError classifies err, logs it with the sanitized request and writes
// the error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, details := classify(err)

	logger := zerolog.Ctx(r.Context())
	evt := logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = logger.Error()
	}

	evt.Err(err).
		Int("status", status).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Interface("body", SanitizeBody(httpmiddleware.CapturedBody(r.Context()))).
		Interface("headers", sanitizeHeaders(r.Header)).
		Msg("Request failed")

	writeJSON(w, status, ErrorEnvelope{
		StatusCode: status,
		Message:    msg,
		Errors:     details,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// writeErrorStatus writes an error envelope without logging.
func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorEnvelope{
		StatusCode: status,
		Message:    msg,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// sanitizeHeaders redacts credentials and truncates long values.
func sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveKey(name) || strings.EqualFold(name, "cookie") {
			out[name] = redacted
			continue
		}
		v := strings.Join(values, ", ")
		if len(v) > maxHeaderLogLength {
			v = v[:maxHeaderLogLength] + "..."
		}
		out[name] = v
	}
	return out
}
