package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/platform-gateway/internal/command"
)

// recordingCaller echoes the ids it receives back as results.
type recordingCaller struct {
	mu    sync.Mutex
	calls []map[string]any
	delay func(ids []any) time.Duration
	fail  func(ids []any) error
}

func (r *recordingCaller) Call(ctx context.Context, cmd command.Command, payload any, out any) error {
	p := payload.(map[string]any)

	r.mu.Lock()
	r.calls = append(r.calls, p)
	r.mu.Unlock()

	ids, _ := p["salesPlanIdList"].([]any)
	if r.delay != nil {
		time.Sleep(r.delay(ids))
	}
	if r.fail != nil {
		if err := r.fail(ids); err != nil {
			return err
		}
	}

	result := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		result = append(result, map[string]any{"salesPlanId": id})
	}
	if len(ids) == 0 {
		result = append(result, map[string]any{"salesPlanId": "all"})
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (r *recordingCaller) chunkSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sizes []int
	for _, c := range r.calls {
		ids, _ := c["salesPlanIdList"].([]any)
		sizes = append(sizes, len(ids))
	}
	return sizes
}

func ids(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

type breakdown struct {
	SalesPlanID string `json:"salesPlanId"`
}

func TestChunkedTwelveIDsChunkSizeFive(t *testing.T) {
	// Earlier chunks reply last to show ordering does not depend on timing.
	caller := &recordingCaller{
		delay: func(ids []any) time.Duration {
			if len(ids) > 0 && ids[0] == "a" {
				return 30 * time.Millisecond
			}
			return 0
		},
	}

	payload := map[string]any{"salesPlanIdList": ids(12), "date": "2026-01-01"}
	got, err := Chunked[breakdown](context.Background(), caller, command.GetDailySalesPlanPricingBreakdown, payload, "salesPlanIdList", 5)
	require.NoError(t, err)

	require.ElementsMatch(t, []int{5, 5, 2}, caller.chunkSizes())
	require.Len(t, got, 12)
	for i, b := range got {
		require.Equal(t, string(rune('a'+i)), b.SalesPlanID)
	}

	for _, c := range caller.calls {
		require.Equal(t, "2026-01-01", c["date"])
	}
	require.Len(t, payload["salesPlanIdList"], 12, "input payload must not be mutated")
}

func TestChunkedCallCount(t *testing.T) {
	tests := []struct {
		name      string
		payload   map[string]any
		size      int
		wantCalls int
	}{
		{name: "absent field", payload: map[string]any{}, size: 5, wantCalls: 1},
		{name: "empty list", payload: map[string]any{"salesPlanIdList": []any{}}, size: 5, wantCalls: 1},
		{name: "exact multiple", payload: map[string]any{"salesPlanIdList": ids(10)}, size: 5, wantCalls: 2},
		{name: "single chunk", payload: map[string]any{"salesPlanIdList": ids(3)}, size: 5, wantCalls: 1},
		{name: "zero size falls back to default", payload: map[string]any{"salesPlanIdList": ids(11)}, size: 0, wantCalls: 3},
		{name: "string slice", payload: map[string]any{"salesPlanIdList": []string{"a", "b", "c"}}, size: 1, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &recordingCaller{}
			_, err := Chunked[breakdown](context.Background(), caller, command.GetDailySalesPlanPricingBreakdown, tt.payload, "salesPlanIdList", tt.size)
			require.NoError(t, err)
			require.Len(t, caller.calls, tt.wantCalls)
		})
	}
}

func TestChunkedFailsOnFirstError(t *testing.T) {
	boom := errors.New("chunk failed")
	caller := &recordingCaller{
		fail: func(ids []any) error {
			if len(ids) > 0 && ids[0] == "f" {
				return boom
			}
			return nil
		},
	}

	got, err := Chunked[breakdown](context.Background(), caller, command.GetDailySalesPlanPricingBreakdown,
		map[string]any{"salesPlanIdList": ids(12)}, "salesPlanIdList", 5)
	require.ErrorIs(t, err, boom)
	require.Nil(t, got)
}

func TestPartition(t *testing.T) {
	chunks := partition(ids(7), 3)
	require.Len(t, chunks, 3)
	require.Equal(t, []any{"a", "b", "c"}, chunks[0])
	require.Equal(t, []any{"g"}, chunks[2])
}
