package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
)

// Access is the authentication a route requires.
type Access string

const (
	AccessPublic Access = "public"
	AccessAPIKey Access = "api-key"
	AccessJWT    Access = "jwt"
)

// APIKeyHeader carries the shared key for api-key routes.
const APIKeyHeader = "x-api-key"

// ErrorWriter answers a request that failed authentication or authorization.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticator applies a route's access policy.
type Authenticator struct {
	jwt      *JWTVerifier
	apiKeys  [][]byte
	disabled bool
}

// NewAuthenticator creates an authenticator. With disabled set every request
// is accepted as a development principal.
func NewAuthenticator(jwtVerifier *JWTVerifier, apiKeys []string, disabled bool) *Authenticator {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return &Authenticator{jwt: jwtVerifier, apiKeys: keys, disabled: disabled}
}

// Authenticate resolves the principal for r under access. Public routes
// return a nil principal.
func (a *Authenticator) Authenticate(r *http.Request, access Access) (*Principal, error) {
	if a.disabled {
		return &Principal{Subject: "dev", Type: "user"}, nil
	}

	switch access {
	case AccessPublic:
		return nil, nil
	case AccessAPIKey:
		return a.verifyAPIKey(r)
	case AccessJWT:
		if a.jwt == nil {
			return nil, apperror.Unauthenticated("bearer authentication not configured")
		}
		principal, err := a.jwt.VerifyRequest(r)
		if err != nil {
			log.Debug().Err(err).Msg("JWT verification failed")
			if errors.Is(err, ErrMissingToken) {
				return nil, apperror.Unauthenticated("missing bearer token")
			}
			return nil, apperror.Unauthenticated("invalid token")
		}
		return principal, nil
	default:
		return nil, apperror.Unauthenticated("unknown access policy")
	}
}

func (a *Authenticator) verifyAPIKey(r *http.Request) (*Principal, error) {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return nil, apperror.Unauthenticated("missing api key")
	}

	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(presented), key) == 1 {
			return &Principal{Subject: "api-key", Type: "api-key"}, nil
		}
	}

	return nil, apperror.Unauthenticated("invalid api key")
}

// Middleware authenticates each request under access and, for bearer
// routes, checks the required permission codes before calling next.
func (a *Authenticator) Middleware(access Access, perms []Permission, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r, access)
			if err != nil {
				onError(w, r, err)
				return
			}

			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)

			if access == AccessJWT && !a.disabled && len(perms) > 0 {
				if err := RequirePermission(ctx, perms...); err != nil {
					log.Debug().
						Str("subject", principal.Subject).
						Str("path", r.URL.Path).
						Msg("Permission denied")
					onError(w, r, err)
					return
				}
			}

			log.Debug().
				Str("subject", principal.Subject).
				Str("type", principal.Type).
				Msg("Request authenticated")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
