package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/platform-gateway"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Command metrics
	CommandsTotal        metric.Int64Counter
	CommandErrorsTotal   metric.Int64Counter
	CommandDuration      metric.Float64Histogram
	PendingReplies       metric.Int64UpDownCounter
	OrphanedRepliesTotal metric.Int64Counter

	// Fan-out metrics
	FanoutChunksTotal metric.Int64Counter

	// User lifecycle metrics
	UserOperationsTotal  metric.Int64Counter
	CompensationsTotal   metric.Int64Counter
	CompensationFailures metric.Int64Counter

	// Identity provider metrics
	IdentityRequestsTotal metric.Int64Counter
	IdentityErrorsTotal   metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Command metrics
	m.CommandsTotal, _ = meter.Int64Counter(
		"gateway.commands.total",
		metric.WithDescription("Total number of commands sent to the platform service"),
		metric.WithUnit("{command}"),
	)

	m.CommandErrorsTotal, _ = meter.Int64Counter(
		"gateway.commands.errors.total",
		metric.WithDescription("Total number of commands that failed"),
		metric.WithUnit("{error}"),
	)

	m.CommandDuration, _ = meter.Float64Histogram(
		"gateway.commands.duration",
		metric.WithDescription("Round trip duration of commands"),
		metric.WithUnit("ms"),
	)

	m.PendingReplies, _ = meter.Int64UpDownCounter(
		"gateway.commands.pending",
		metric.WithDescription("Number of commands awaiting a reply"),
		metric.WithUnit("{command}"),
	)

	m.OrphanedRepliesTotal, _ = meter.Int64Counter(
		"gateway.commands.orphaned_replies.total",
		metric.WithDescription("Total number of replies with no waiting caller"),
		metric.WithUnit("{reply}"),
	)

	// Fan-out metrics
	m.FanoutChunksTotal, _ = meter.Int64Counter(
		"gateway.fanout.chunks.total",
		metric.WithDescription("Total number of chunked calls issued"),
		metric.WithUnit("{chunk}"),
	)

	// User lifecycle metrics
	m.UserOperationsTotal, _ = meter.Int64Counter(
		"gateway.users.operations.total",
		metric.WithDescription("Total number of user lifecycle operations"),
		metric.WithUnit("{operation}"),
	)

	m.CompensationsTotal, _ = meter.Int64Counter(
		"gateway.users.compensations.total",
		metric.WithDescription("Total number of compensating actions attempted"),
		metric.WithUnit("{compensation}"),
	)

	m.CompensationFailures, _ = meter.Int64Counter(
		"gateway.users.compensations.failures.total",
		metric.WithDescription("Total number of compensating actions that failed"),
		metric.WithUnit("{compensation}"),
	)

	// Identity provider metrics
	m.IdentityRequestsTotal, _ = meter.Int64Counter(
		"gateway.identity.requests.total",
		metric.WithDescription("Total number of identity provider requests"),
		metric.WithUnit("{request}"),
	)

	m.IdentityErrorsTotal, _ = meter.Int64Counter(
		"gateway.identity.errors.total",
		metric.WithDescription("Total number of identity provider requests that failed"),
		metric.WithUnit("{error}"),
	)

	return m
}
