package rpc

import (
	"context"
	"maps"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is used when the configured chunk size is below one.
const DefaultChunkSize = 5

// Chunked splits the list held in payload[field] into chunks of size, calls
// cmd once per chunk concurrently and concatenates the results in chunk
// order. A missing or empty list results in one unchunked call. The first
// failing chunk fails the whole call.
func Chunked[T any](ctx context.Context, c Caller, cmd command.Command, payload map[string]any, field string, size int) ([]T, error) {
	if size < 1 {
		size = DefaultChunkSize
	}

	ids := listValue(payload[field])
	if len(ids) == 0 {
		var out []T
		if err := c.Call(ctx, cmd, payload, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	chunks := partition(ids, size)
	results := make([][]T, len(chunks))

	log.Debug().
		Str("cmd", cmd.String()).
		Int("items", len(ids)).
		Int("chunks", len(chunks)).
		Msg("Dispatching chunked command")

	telemetry.GetMetrics().FanoutChunksTotal.Add(ctx, int64(len(chunks)),
		metric.WithAttributes(attribute.String("cmd", cmd.String())))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		chunkPayload := maps.Clone(payload)
		chunkPayload[field] = chunk

		g.Go(func() error {
			var out []T
			if err := c.Call(gctx, cmd, chunkPayload, &out); err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}

	out := make([]T, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}

	return out, nil
}

// listValue returns v as a list, accepting []any and []string.
func listValue(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func partition(items []any, size int) [][]any {
	chunks := make([][]any, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
