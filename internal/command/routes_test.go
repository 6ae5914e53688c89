package command

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/platform-gateway/internal/auth"
)

func TestRoutesValid(t *testing.T) {
	require.NoError(t, Validate(Routes))
}

func TestCatalogUnique(t *testing.T) {
	seen := make(map[Command]bool, len(All))
	for _, c := range All {
		require.False(t, seen[c], "duplicate command: %s", c)
		seen[c] = true
	}

	for _, c := range Internal {
		require.True(t, c.Valid(), "internal command not in catalog: %s", c)
	}
}

func TestValidate(t *testing.T) {
	base := func() []Route {
		return append([]Route(nil), Routes...)
	}

	tests := []struct {
		name    string
		routes  func() []Route
		wantErr error
	}{
		{
			name: "duplicate route",
			routes: func() []Route {
				return append(base(), Routes[0])
			},
			wantErr: ErrDuplicateRoute,
		},
		{
			name: "unknown command",
			routes: func() []Route {
				return append(base(), Route{Method: http.MethodGet, Pattern: "/api/typo", Command: "get-organisatons", Access: auth.AccessJWT, Kind: KindJSON})
			},
			wantErr: ErrUnknownCommand,
		},
		{
			name: "unbound command",
			routes: func() []Route {
				var out []Route
				for _, r := range Routes {
					if r.Command != ListProducts {
						out = append(out, r)
					}
				}
				return out
			},
			wantErr: ErrUnboundCommand,
		},
		{
			name: "custom route without handler",
			routes: func() []Route {
				return append(base(), Route{Method: http.MethodGet, Pattern: "/api/custom", Access: auth.AccessJWT, Kind: KindCustom})
			},
			wantErr: ErrInvalidRoute,
		},
		{
			name: "forwarded route without command",
			routes: func() []Route {
				return append(base(), Route{Method: http.MethodGet, Pattern: "/api/empty", Access: auth.AccessJWT, Kind: KindJSON})
			},
			wantErr: ErrInvalidRoute,
		},
		{
			name: "unknown access",
			routes: func() []Route {
				return append(base(), Route{Method: http.MethodGet, Pattern: "/api/open", Command: ListProducts, Access: "anyone", Kind: KindJSON})
			},
			wantErr: ErrInvalidRoute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, Validate(tt.routes()), tt.wantErr)
		})
	}
}

func TestHandlers(t *testing.T) {
	names := Handlers(Routes)
	require.ElementsMatch(t, []string{
		HandlerCreateUser,
		HandlerUpdateUser,
		HandlerDeleteUser,
		HandlerResetPassword,
		HandlerChangePassword,
		HandlerListIdentityUsers,
		HandlerPricingBreakdown,
	}, names)
}

func TestJWTRoutesDeclarePermissions(t *testing.T) {
	for _, r := range Routes {
		if r.Access == auth.AccessJWT {
			require.NotEmpty(t, r.Permissions, "route %s has no permissions", r.Key())
		}
	}
}
