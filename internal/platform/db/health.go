package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot reported by /health/db.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// Pinger is the part of a pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the /health/db body.
type HealthReport struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
}

// Check pings the database and reports the result. A nil pinger reports
// the database as not configured.
func Check(ctx context.Context, p Pinger) (HealthReport, int) {
	if p == nil {
		return HealthReport{Status: "unhealthy", Error: "database not configured"}, http.StatusServiceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return HealthReport{Status: "unhealthy", Error: err.Error()}, http.StatusServiceUnavailable
	}
	return HealthReport{Status: "healthy"}, http.StatusOK
}

// HealthHandler serves the database health check. Pool statistics are
// attached when the pool is live.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p Pinger
		if pool != nil {
			p = pool
		}
		report, code := Check(c.Request().Context(), p)
		if pool != nil {
			report.Pool = poolStats(pool)
		}
		return c.JSON(code, report)
	}
}
