package app

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"leveltest/internal/app/apiresp"
)

type healthStatus struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// healthHandler reports liveness and, when a pool is configured, whether
// PostgreSQL answers a ping.
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			apiresp.WriteOK(w, r, http.StatusOK, healthStatus{Status: "ok", DB: "not configured"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Printf("health check ping: %v", err)
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unreachable", healthStatus{Status: "degraded", DB: "down"})
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, healthStatus{Status: "ok", DB: "up"})
	}
}
