package commands

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/platform-gateway/internal/auth"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"gopkg.in/yaml.v3"
)

func TestCatalogCmd_Write(t *testing.T) {
	var buf bytes.Buffer
	cmd := &CatalogCmd{Internal: true}

	require.NoError(t, cmd.write(&buf, command.Routes))

	var got catalog
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got.Routes, len(command.Routes))
	require.Equal(t, command.Routes[0], got.Routes[0])
	require.Contains(t, got.Handlers, command.HandlerCreateUser)
	require.Equal(t, command.Internal, got.Internal)
}

func TestCatalogCmd_WriteOmitsInternal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&CatalogCmd{}).write(&buf, command.Routes))
	require.NotContains(t, buf.String(), "internal:")
}

func TestCatalogCmd_RejectsInvalidTable(t *testing.T) {
	routes := append([]command.Route{}, command.Routes...)
	routes = append(routes, command.Route{
		Method:  http.MethodGet,
		Pattern: "/api/roles",
		Command: command.ListRoles,
		Access:  auth.AccessJWT,
		Kind:    command.KindJSON,
	})

	var buf bytes.Buffer
	err := (&CatalogCmd{}).write(&buf, routes)
	require.ErrorIs(t, err, command.ErrDuplicateRoute)
	require.Empty(t, buf.String())
}
