package logger

import (
	"context"
	"io"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"
)

// Setup builds the process logger and installs it as the global logger used
// through github.com/rs/zerolog/log and as the fallback for zerolog.Ctx.
func Setup(dev bool) zerolog.Logger {
	return install(os.Stderr, dev)
}

func install(out io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "platform-gateway").Logger()
	if dev {
		logger = logger.With().Caller().Stack().Logger()
	}

	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	return logger
}

var _ connect.Interceptor = (*CommandRequests)(nil)

// CommandRequests logs each command sent over Connect with its name,
// correlation id and duration. The gateway only makes unary calls, so the
// streaming hooks pass through.
type CommandRequests struct {
	logger zerolog.Logger
}

func NewCommandRequests(logger zerolog.Logger) *CommandRequests {
	return &CommandRequests{logger: logger}
}

func (c *CommandRequests) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		started := time.Now()

		lc := c.logger.With().Str("procedure", req.Spec().Procedure)
		if msg, ok := req.Any().(*structpb.Struct); ok {
			fields := msg.GetFields()
			lc = lc.Str("cmd", fields["cmd"].GetStringValue()).
				Str("correlation_id", fields["id"].GetStringValue())
		}
		logger := lc.Logger()

		resp, err := next(ctx, req)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("code", connect.CodeOf(err).String()).
				Dur("duration", time.Since(started)).
				Msg("Command call failed")
			return resp, err
		}

		logger.Debug().
			Dur("duration", time.Since(started)).
			Msg("Command call")

		return resp, nil
	}
}

func (c *CommandRequests) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (c *CommandRequests) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
