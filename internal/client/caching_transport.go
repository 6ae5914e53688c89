package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// NewCachingHTTPClient creates an HTTP client that honours Cache-Control on
// responses. It is used for the identity provider's JWKS endpoint, which is
// served with long max-age headers. An empty cacheDir keeps the cache in
// memory.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = otelhttp.NewTransport(http.DefaultTransport)

	return &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
}

// NewInstrumentedHTTPClient creates an HTTP client that traces outbound
// requests without caching.
func NewInstrumentedHTTPClient(base http.RoundTripper, timeout time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		Timeout:   timeout,
	}
}
