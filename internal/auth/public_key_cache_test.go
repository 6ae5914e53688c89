package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func ecJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "EC",
		"kid": kid,
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
	}
}

func rsaJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func jwksServer(t *testing.T, keys ...map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestJWKSCache(t *testing.T) {
	_, ecPub, err := generateECKeyPair()
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv, hits := jwksServer(t,
		ecJWK("ec-1", ecPub),
		rsaJWK("rsa-1", &rsaKey.PublicKey),
		map[string]any{"kty": "oct", "kid": "hmac"},
	)

	cache := NewJWKSCache(srv.URL, srv.Client())

	t.Run("resolves EC key", func(t *testing.T) {
		key, err := cache.Key(context.Background(), "ec-1")
		require.NoError(t, err)
		got, ok := key.(*ecdsa.PublicKey)
		require.True(t, ok)
		require.True(t, got.Equal(ecPub))
	})

	t.Run("resolves RSA key from cache", func(t *testing.T) {
		key, err := cache.Key(context.Background(), "rsa-1")
		require.NoError(t, err)
		got, ok := key.(*rsa.PublicKey)
		require.True(t, ok)
		require.True(t, got.Equal(&rsaKey.PublicKey))
		require.Equal(t, int32(1), hits.Load())
	})

	t.Run("unsupported key type is skipped", func(t *testing.T) {
		_, err := cache.Key(context.Background(), "hmac")
		require.Error(t, err)
	})

	t.Run("unknown kid within backoff does not refetch", func(t *testing.T) {
		before := hits.Load()
		_, err := cache.Key(context.Background(), "missing")
		require.Error(t, err)
		require.Equal(t, before, hits.Load())
	})
}

func TestJWKSCacheFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, srv.Client())
	_, err := cache.Key(context.Background(), "any")
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWKS request failed")
}

func TestDecodeBase64URL(t *testing.T) {
	got, err := decodeBase64URL("AQAB")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0, 1}, got)

	got, err = decodeBase64URL("AQ==")
	require.NoError(t, err)
	require.Equal(t, []byte{1}, got)
}
