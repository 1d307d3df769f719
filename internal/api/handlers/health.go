package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	version     = "1.0.0"
	pingTimeout = 2 * time.Second
)

// Pinger checks that one backing service answers.
type Pinger func(ctx context.Context) error

// HealthCheck returns server health status: a ping of every backing service and the last
// facilitator check. A failed ping makes the server unhealthy (503); an unhealthy
// facilitator only degrades it.
func HealthCheck(d Deps) gin.HandlerFunc {
	started := d.Clock.Now()
	return func(c *gin.Context) {
		body := gin.H{
			"status":    "ok",
			"service":   "x402-arcade-api",
			"version":   version,
			"uptime":    d.Clock.Since(started).Round(time.Second).String(),
			"timestamp": d.Clock.Now().UTC(),
		}
		status := http.StatusOK
		degrade := func() {
			if body["status"] == "ok" {
				body["status"] = "degraded"
			}
		}

		if len(d.Pings) > 0 {
			names := make([]string, 0, len(d.Pings))
			for name := range d.Pings {
				names = append(names, name)
			}
			sort.Strings(names)

			deps := gin.H{}
			for _, name := range names {
				result := ping(c.Request.Context(), d.Pings[name])
				if !result.Healthy {
					d.Log.WithField("dependency", name).WithField("error", result.Error).Warn("Health ping failed")
					body["status"] = "unhealthy"
					status = http.StatusServiceUnavailable
				}
				deps[name] = result
			}
			body["dependencies"] = deps
		}

		if d.Health != nil {
			health, err := d.Health.Cached(c.Request.Context())
			switch {
			case err != nil:
				d.Log.WithError(err).Warn("Facilitator health unavailable")
				body["facilitator"] = gin.H{"healthy": false, "error": "health cache unavailable"}
				degrade()
			case health == nil:
				body["facilitator"] = gin.H{"healthy": nil, "error": "not yet checked"}
			default:
				body["facilitator"] = health
				if !health.Healthy {
					degrade()
				}
			}
		}

		c.JSON(status, body)
	}
}

type pingResult struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func ping(ctx context.Context, p Pinger) pingResult {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := p(ctx)
	result := pingResult{Healthy: err == nil, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
