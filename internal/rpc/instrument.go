package rpc

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wolfeidau/platform-gateway/internal/rpc"

// Instrument wraps c with a span, command metrics and a debug log per call.
func Instrument(c Caller) Caller {
	tracer := otel.Tracer(tracerName)
	m := telemetry.GetMetrics()

	return CallerFunc(func(ctx context.Context, cmd command.Command, payload any, out any) error {
		ctx, span := tracer.Start(ctx, "command "+cmd.String(),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("gateway.cmd", cmd.String())),
		)
		defer span.End()

		attrs := metric.WithAttributes(attribute.String("cmd", cmd.String()))
		start := time.Now()

		err := c.Call(ctx, cmd, payload, out)

		elapsed := time.Since(start)
		m.CommandsTotal.Add(ctx, 1, attrs)
		m.CommandDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)

		if err != nil {
			kind := apperror.KindOf(err)
			m.CommandErrorsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("cmd", cmd.String()),
				attribute.String("kind", kind.String()),
			))
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())

			log.Debug().
				Err(err).
				Str("cmd", cmd.String()).
				Dur("duration", elapsed).
				Msg("Command failed")
			return err
		}

		log.Debug().
			Str("cmd", cmd.String()).
			Dur("duration", elapsed).
			Msg("Command completed")
		return nil
	})
}
