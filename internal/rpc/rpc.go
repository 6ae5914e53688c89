// Package rpc sends commands to the platform service and decodes its replies.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
)

var ErrClosed = errors.New("command client closed")

// Caller sends a command and waits for its correlated reply. The reply's
// response is decoded into out; a nil out discards it.
type Caller interface {
	Call(ctx context.Context, cmd command.Command, payload any, out any) error
}

// Request is the command envelope sent to the platform service.
type Request struct {
	ID      string          `json:"id"`
	Cmd     command.Command `json:"cmd"`
	Payload json.RawMessage `json:"payload"`
}

// Reply is the envelope the platform service answers with. Err is either a
// string or an object with statusCode, message and errors.
type Reply struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response,omitempty"`
	Err      json.RawMessage `json:"err,omitempty"`
}

type replyError struct {
	StatusCode int             `json:"statusCode"`
	Message    json.RawMessage `json:"message"`
	Errors     any             `json:"errors"`
}

// NewRequest builds a request envelope for cmd.
func NewRequest(id string, cmd command.Command, payload any) (*Request, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("payload for %s is not serializable", cmd), nil)
	}
	return &Request{ID: id, Cmd: cmd, Payload: raw}, nil
}

// Failed reports whether the reply carries an application error.
func (r *Reply) Failed() bool {
	trimmed := strings.TrimSpace(string(r.Err))
	return trimmed != "" && trimmed != "null"
}

// AppError converts the reply's err field into an upstream error. It returns nil
// when the reply succeeded.
func (r *Reply) AppError() error {
	if !r.Failed() {
		return nil
	}

	var msg string
	if err := json.Unmarshal(r.Err, &msg); err == nil {
		return apperror.Upstream(http.StatusInternalServerError, msg, nil)
	}

	var re replyError
	if err := json.Unmarshal(r.Err, &re); err != nil {
		return apperror.Upstream(http.StatusInternalServerError, string(r.Err), nil)
	}

	status := re.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return apperror.Upstream(status, messageText(re.Message), re.Errors)
}

// messageText flattens a message that may be a string or a list of strings.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Internal server error"
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ", ")
	}

	return string(raw)
}

// Decode returns the reply's application error or decodes its response into
// out.
func (r *Reply) Decode(out any) error {
	if err := r.AppError(); err != nil {
		return err
	}

	if out == nil || len(r.Response) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Response, out); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}

	return nil
}

// Invoke calls cmd and decodes the response as T.
func Invoke[T any](ctx context.Context, c Caller, cmd command.Command, payload any) (T, error) {
	var out T
	if err := c.Call(ctx, cmd, payload, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, cmd command.Command, payload any, out any) error

func (f CallerFunc) Call(ctx context.Context, cmd command.Command, payload any, out any) error {
	return f(ctx, cmd, payload, out)
}

// TransportError classifies a failure to exchange a command as a transport
// error, keeping context cancellation errors visible to errors.Is.
func TransportError(cmd command.Command, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Transport(fmt.Sprintf("command %s failed", cmd), err)
}
