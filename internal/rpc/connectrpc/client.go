// Package connectrpc implements commands as a unary Connect RPC carrying
// google.protobuf.Struct requests and google.protobuf.Value replies.
package connectrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/rpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExecuteProcedure is the Connect procedure the platform service serves.
const ExecuteProcedure = "/platform.v1.CommandService/Execute"

// Client is an rpc.Caller backed by a Connect client.
type Client struct {
	client  *connect.Client[structpb.Struct, structpb.Value]
	healthy atomic.Bool
	newID   func() string
}

// New creates a client for the platform service at baseURL.
func New(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) (*Client, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create otel interceptor: %w", err)
	}

	opts = append([]connect.ClientOption{connect.WithInterceptors(otelInterceptor)}, opts...)

	c := &Client{
		client: connect.NewClient[structpb.Struct, structpb.Value](
			httpClient,
			strings.TrimRight(baseURL, "/")+ExecuteProcedure,
			opts...,
		),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	c.healthy.Store(true)
	return c, nil
}

// Healthy reports false after a call failed because the peer was unreachable,
// until a later call succeeds.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// Call implements rpc.Caller.
func (c *Client) Call(ctx context.Context, cmd command.Command, payload any, out any) error {
	req, err := rpc.NewRequest(c.newID(), cmd, payload)
	if err != nil {
		return err
	}

	var payloadValue any
	if err := json.Unmarshal(req.Payload, &payloadValue); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}

	msg, err := structpb.NewStruct(map[string]any{
		"id":      req.ID,
		"cmd":     cmd.String(),
		"payload": payloadValue,
	})
	if err != nil {
		return apperror.Validation(fmt.Sprintf("payload for %s is not representable", cmd), nil)
	}

	resp, err := c.client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return c.classify(cmd, err)
	}
	c.healthy.Store(true)

	raw, err := protojson.Marshal(resp.Msg)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}

	reply := rpc.Reply{ID: req.ID, Response: raw}
	return reply.Decode(out)
}

func (c *Client) classify(cmd command.Command, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rpc.TransportError(cmd, err)
	}

	code := connect.CodeOf(err)
	switch code {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeCanceled:
		if code == connect.CodeUnavailable {
			c.healthy.Store(false)
		}
		log.Warn().Err(err).Str("cmd", cmd.String()).Str("code", code.String()).Msg("Command transport failed")
		return rpc.TransportError(cmd, err)
	}

	c.healthy.Store(true)

	message := err.Error()
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		message = connectErr.Message()
	}

	return apperror.Upstream(httpStatus(code), message, nil)
}

// httpStatus maps a Connect error code to the status code answered to the
// gateway's caller.
func httpStatus(code connect.Code) int {
	switch code {
	case connect.CodeInvalidArgument, connect.CodeFailedPrecondition, connect.CodeOutOfRange:
		return http.StatusBadRequest
	case connect.CodeUnauthenticated:
		return http.StatusUnauthorized
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeAlreadyExists, connect.CodeAborted:
		return http.StatusConflict
	case connect.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case connect.CodeUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
