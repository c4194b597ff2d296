package server

import (
	"net/http"

	"lms-gateway/middleware/ratelimit/infra"
)

// StatsSource is implemented by infra.MemoryStatsStore.
type StatsSource interface {
	Snapshot() infra.StatsSnapshot
}

// Stats serves the in-memory decision counters as JSON.
func Stats(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	}
}
