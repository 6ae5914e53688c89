package connectrpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/logger"
	"google.golang.org/protobuf/types/known/structpb"
)

func newPlatform(t *testing.T, handle func(cmd string, payload *structpb.Value) (*structpb.Value, error)) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Value], error) {
			fields := req.Msg.GetFields()
			if fields["id"].GetStringValue() == "" {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("missing correlation id"))
			}
			out, err := handle(fields["cmd"].GetStringValue(), fields["payload"])
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(out), nil
		},
	))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCall(t *testing.T) {
	srv := newPlatform(t, func(cmd string, payload *structpb.Value) (*structpb.Value, error) {
		switch cmd {
		case string(command.GetRole):
			id := payload.GetStructValue().GetFields()["id"].GetStringValue()
			return structpb.NewValue(map[string]any{"id": id, "name": "Admin"})
		case string(command.DeleteRole):
			return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("role in use"))
		case string(command.GetProduct):
			return nil, connect.NewError(connect.CodeNotFound, errors.New("product not found"))
		default:
			return nil, connect.NewError(connect.CodeUnavailable, errors.New("draining"))
		}
	})

	client, err := New(srv.Client(), srv.URL, connect.WithInterceptors(logger.NewCommandRequests(zerolog.Nop())))
	require.NoError(t, err)

	t.Run("decodes reply", func(t *testing.T) {
		var role struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		require.NoError(t, client.Call(context.Background(), command.GetRole, map[string]any{"id": "r1"}, &role))
		require.Equal(t, "r1", role.ID)
		require.Equal(t, "Admin", role.Name)
		require.True(t, client.Healthy())
	})

	tests := []struct {
		name       string
		cmd        command.Command
		wantKind   apperror.Kind
		wantStatus int
		wantMsg    string
	}{
		{name: "failed precondition", cmd: command.DeleteRole, wantKind: apperror.KindUpstream, wantStatus: http.StatusBadRequest, wantMsg: "role in use"},
		{name: "not found", cmd: command.GetProduct, wantKind: apperror.KindUpstream, wantStatus: http.StatusNotFound, wantMsg: "product not found"},
		{name: "unavailable", cmd: command.ListBookings, wantKind: apperror.KindTransport, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Call(context.Background(), tt.cmd, nil, nil)
			appErr, ok := apperror.As(err)
			require.True(t, ok)
			require.Equal(t, tt.wantKind, appErr.Kind)
			require.Equal(t, tt.wantStatus, appErr.HTTPStatus())
			if tt.wantMsg != "" {
				require.Equal(t, tt.wantMsg, appErr.Message)
			}
		})
	}

	require.False(t, client.Healthy())
}

func TestCallUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(http.DefaultClient, url)
	require.NoError(t, err)

	err = client.Call(context.Background(), command.GetRole, nil, nil)
	require.Equal(t, apperror.KindTransport, apperror.KindOf(err))
	require.False(t, client.Healthy())
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusConflict, httpStatus(connect.CodeAlreadyExists))
	require.Equal(t, http.StatusForbidden, httpStatus(connect.CodePermissionDenied))
	require.Equal(t, http.StatusTooManyRequests, httpStatus(connect.CodeResourceExhausted))
	require.Equal(t, http.StatusInternalServerError, httpStatus(connect.CodeInternal))
}
