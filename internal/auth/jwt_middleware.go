package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal represents an authenticated caller.
// This is added to the request context after successful verification.
type Principal struct {
	Subject     string
	Email       string
	Permissions []string
	Type        string // "user" or "api-key"
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (public route or unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// KeySource resolves the public key used to sign a token.
type KeySource interface {
	// Key returns the public key for kid.
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTVerifier verifies bearer tokens issued by the identity provider.
type JWTVerifier struct {
	issuer   string
	audience string
	keys     KeySource
	leeway   time.Duration
}

// NewJWTVerifier creates a new JWT verifier. An empty audience disables the
// audience check.
func NewJWTVerifier(issuer, audience string, keys KeySource) *JWTVerifier {
	return &JWTVerifier{
		issuer:   issuer,
		audience: audience,
		keys:     keys,
		leeway:   30 * time.Second,
	}
}

// VerifyRequest extracts the bearer token from r and verifies it.
func (v *JWTVerifier) VerifyRequest(r *http.Request) (*Principal, error) {
	tokenString := extractBearerToken(r)
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return v.Verify(r.Context(), tokenString)
}

// Verify checks the signature, issuer, audience and expiry of tokenString and
// returns the principal it describes.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid header")
		}
		return v.keys.Key(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	permissions, err := parseStringSlice(claims, "permission_codes")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	email, _ := claims["email"].(string)

	return &Principal{
		Subject:     subject,
		Email:       email,
		Permissions: permissions,
		Type:        "user",
	}, nil
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// parseStringSlice extracts a string slice from JWT claims. A missing claim
// yields an empty slice.
func parseStringSlice(claims jwt.MapClaims, key string) ([]string, error) {
	value, ok := claims[key]
	if !ok || value == nil {
		return []string{}, nil
	}

	// Handle both []interface{} and []string
	switch v := value.(type) {
	case []any:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: expected string array", key)
			}
			result[i] = str
		}
		return result, nil
	case []string:
		return v, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: expected array", key)
	}
}
