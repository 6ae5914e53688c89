package users

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/platform-gateway/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Phase is the in-memory progress of one lifecycle operation. It is not
// persisted, so a crash between phases leaves the two systems to be
// reconciled by hand.
type Phase string

const (
	PhaseStart        Phase = "start"
	PhaseValidating   Phase = "validating"
	PhaseIdentityDone Phase = "identity_done"
	PhaseInternalDone Phase = "internal_done"
	PhaseRollingBack  Phase = "rolling_back"
	PhaseFailed       Phase = "failed"
)

type operation struct {
	id     string
	name   string
	phase  Phase
	logger zerolog.Logger
}

func newOperation(ctx context.Context, name, userID string) *operation {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	op := &operation{
		id:    id.String(),
		name:  name,
		phase: PhaseStart,
	}

	lc := zerolog.Ctx(ctx).With().Str("operation", name).Str("operation_id", op.id)
	if userID != "" {
		lc = lc.Str("user_id", userID)
	}
	op.logger = lc.Logger()
	op.logger.Debug().Str("phase", string(op.phase)).Msg("User operation started")

	return op
}

func (op *operation) advance(phase Phase) {
	op.logger.Debug().Str("from", string(op.phase)).Str("phase", string(phase)).Msg("User operation phase")
	op.phase = phase
}

func (op *operation) with(key, value string) {
	op.logger = op.logger.With().Str(key, value).Logger()
}

// finish records the outcome metric and returns err unchanged.
func (op *operation) finish(ctx context.Context, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if op.phase != PhaseStart && op.phase != PhaseValidating {
			op.advance(PhaseFailed)
		}
	}

	telemetry.GetMetrics().UserOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op.name),
		attribute.String("outcome", outcome),
	))

	return err
}

func (op *operation) compensated(ctx context.Context, err error) {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("op", op.name))
	m.CompensationsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.CompensationFailures.Add(ctx, 1, attrs)
	}
}
