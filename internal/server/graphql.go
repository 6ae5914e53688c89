package server

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/client"
	httpmiddleware "github.com/wolfeidau/platform-gateway/internal/http"
)

// forwardedGraphQLHeaders are the only request headers passed upstream.
var forwardedGraphQLHeaders = []string{
	"Authorization",
	"Content-Type",
	"apollographql-client-name",
	"apollographql-client-version",
}

// GraphQLProxy relays GraphQL requests to a fixed upstream and returns the
// upstream's status and body unchanged.
type GraphQLProxy struct {
	upstream string
	client   *http.Client
	maxBody  int64
}

// GraphQLConfig configures the proxy. CAFile adds a PEM bundle to the system
// roots used to verify the upstream.
type GraphQLConfig struct {
	UpstreamURL string
	CAFile      string
	Timeout     time.Duration
	MaxBody     int64
}

func NewGraphQLProxy(cfg GraphQLConfig) (*GraphQLProxy, error) {
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid graphql upstream url %q", cfg.UpstreamURL)
	}

	tlsConfig, err := upstreamTLSConfig(cfg.CAFile)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &GraphQLProxy{
		upstream: u.String(),
		client:   client.NewInstrumentedHTTPClient(transport, cfg.Timeout),
		maxBody:  maxBody,
	}, nil
}

func upstreamTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read graphql CA bundle: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool

	return cfg, nil
}

func (p *GraphQLProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBody))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream, bytes.NewReader(body))
	if err != nil {
		WriteError(w, r, fmt.Errorf("failed to create graphql request: %w", err))
		return
	}
	for _, name := range forwardedGraphQLHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
		req.Header.Set(httpmiddleware.RequestIDHeader, id)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		WriteError(w, r, apperror.Transport("graphql upstream unreachable", err))
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
