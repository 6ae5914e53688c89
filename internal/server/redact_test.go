package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	in := map[string]any{
		"email":    "a@b.com",
		"Password": "hunter2",
		"profile": map[string]any{
			"accessToken": "abc",
			"api_key":     "k",
			"nested": []any{
				map[string]any{"clientSecret": "s", "name": "x"},
			},
		},
		"authorization": "Bearer x",
	}

	got := Redact(in)

	require.Equal(t, map[string]any{
		"email":    "a@b.com",
		"Password": redacted,
		"profile": map[string]any{
			"accessToken": redacted,
			"api_key":     redacted,
			"nested": []any{
				map[string]any{"clientSecret": redacted, "name": "x"},
			},
		},
		"authorization": redacted,
	}, got)
	require.Equal(t, "hunter2", in["Password"], "input is not modified")
}

func TestSanitizeBody(t *testing.T) {
	require.Nil(t, SanitizeBody(nil))
	require.Equal(t, map[string]any{"token": redacted}, SanitizeBody([]byte(`{"token":"t"}`)))
	require.Equal(t, "[unparsed body: 15 bytes]", SanitizeBody([]byte(`{"password":"pw`)))
}

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer x")
	h.Set("X-Api-Key", "k")
	h.Set("Cookie", "a=b")
	h.Set("User-Agent", strings.Repeat("u", 300))
	h.Set("Accept", "application/json")

	got := sanitizeHeaders(h)

	require.Equal(t, redacted, got["Authorization"])
	require.Equal(t, redacted, got["X-Api-Key"])
	require.Equal(t, redacted, got["Cookie"])
	require.Equal(t, "application/json", got["Accept"])
	require.Len(t, got["User-Agent"], maxHeaderLogLength+3)
}
