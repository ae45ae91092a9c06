package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler answers liveness and readiness probes.  DB and Redis are
// optional; a nil dependency is not checked.
type HealthHandler struct {
	DB    *sql.DB // nil when running on the in-memory store
	Redis *redis.Client
}

// Health is a simple liveness check used by load balancers.  It returns a
// plain text "ok" with 200.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready pings the backing stores and reports 503 when one is down.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := echo.Map{}
	healthy := true
	if h.DB != nil {
		checks["mysql"] = "ok"
		if err := h.DB.PingContext(ctx); err != nil {
			checks["mysql"] = err.Error()
			healthy = false
		}
	}
	if h.Redis != nil {
		checks["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, echo.Map{"status": http.StatusText(status), "checks": checks})
}
