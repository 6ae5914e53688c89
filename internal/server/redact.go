package server

import (
	"encoding/json"
	"fmt"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{"password", "token", "secret", "apikey", "authorization"}

// isSensitiveKey matches case-insensitively, ignoring - and _, so apiKey,
// api_key and X-Api-Key are all caught.
func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(key))
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with the values of sensitive keys replaced at any
// depth.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = Redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	default:
		return v
	}
}

// SanitizeBody decodes a captured JSON body and redacts it for logging.
func SanitizeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		// Truncated or malformed bodies are not logged verbatim as they may
		// hold credentials the decoder never reached.
		return fmt.Sprintf("[unparsed body: %d bytes]", len(body))
	}

	return Redact(v)
}
