package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/geocoder89/authcore/internal/observability"
	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	sweeps *observability.SweepStats
}

// create a new instance of the health handler
func NewHealthHandler(checks map[string]Check, sweeps *observability.SweepStats) *HealthHandler {
	return &HealthHandler{checks: checks, sweeps: sweeps}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz pings every configured dependency; any failure makes the
// instance unready.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(gin.H, len(names))

	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
		err := h.checks[name](cctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	body := gin.H{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "unready"
	}
	if h.sweeps != nil {
		body["sessionSweeper"] = h.sweeps.Snapshot()
	}

	ctx.JSON(status, body)
}
