package server

import (
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	httpmiddleware "github.com/wolfeidau/platform-gateway/internal/http"
)

func writeCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, block, 0o600))
	return path
}

func TestGraphQLProxy(t *testing.T) {
	var gotHeaders http.Header
	var gotBody string
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/graphql-response+json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"data":{"me":{"id":"1"}}}`)
	}))
	defer upstream.Close()

	proxy, err := NewGraphQLProxy(GraphQLConfig{UpstreamURL: upstream.URL + "/graphql", CAFile: writeCA(t, upstream)})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ me { id } }"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer abc")
	r.Header.Set("apollographql-client-name", "web")
	r.Header.Set("apollographql-client-version", "1.2.3")
	r.Header.Set("Cookie", "session=secret")
	r.Header.Set("X-Internal", "1")

	w := httptest.NewRecorder()
	httpmiddleware.RequestID()(proxy).ServeHTTP(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, `{"data":{"me":{"id":"1"}}}`, w.Body.String())
	require.Equal(t, "application/graphql-response+json", w.Header().Get("Content-Type"))

	require.Equal(t, `{"query":"{ me { id } }"}`, gotBody)
	require.Equal(t, "Bearer abc", gotHeaders.Get("Authorization"))
	require.Equal(t, "web", gotHeaders.Get("apollographql-client-name"))
	require.Equal(t, "1.2.3", gotHeaders.Get("apollographql-client-version"))
	require.Empty(t, gotHeaders.Get("Cookie"))
	require.Empty(t, gotHeaders.Get("X-Internal"))
	require.NotEmpty(t, gotHeaders.Get(httpmiddleware.RequestIDHeader))
	require.Equal(t, w.Header().Get(httpmiddleware.RequestIDHeader), gotHeaders.Get(httpmiddleware.RequestIDHeader))
}

func TestGraphQLProxyVerifiesTLS(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	proxy, err := NewGraphQLProxy(GraphQLConfig{UpstreamURL: upstream.URL})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewGraphQLProxyConfig(t *testing.T) {
	_, err := NewGraphQLProxy(GraphQLConfig{UpstreamURL: "not a url"})
	require.Error(t, err)

	_, err = NewGraphQLProxy(GraphQLConfig{UpstreamURL: "https://graphql.example.com", CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a certificate"), 0o600))
	_, err = NewGraphQLProxy(GraphQLConfig{UpstreamURL: "https://graphql.example.com", CAFile: empty})
	require.ErrorContains(t, err, "no certificates")
}
