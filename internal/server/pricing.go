package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/rpc"
)

const salesPlanIDsField = "salesPlanIdList"

// splitIDs accepts repeated parameters and comma separated values.
func splitIDs(values []string) []any {
	var ids []any
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if id := strings.TrimSpace(part); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// pricingBreakdown fans the sales plan id list out in chunks and returns the
// concatenated breakdown rows.
func (s *Server) pricingBreakdown(route command.Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		payload := queryPayload(q)

		if ids := splitIDs(q[salesPlanIDsField]); len(ids) > 0 {
			payload[salesPlanIDsField] = ids
		} else {
			delete(payload, salesPlanIDsField)
		}

		rows, err := rpc.Chunked[json.RawMessage](r.Context(), s.platform, route.Command, payload, salesPlanIDsField, s.cfg.ChunkSize)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if rows == nil {
			rows = []json.RawMessage{}
		}

		WriteData(w, http.StatusOK, rows)
	})
}
