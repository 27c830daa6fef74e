package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Check is a named readiness check run by /healthz.
type Check func(ctx context.Context) error

type RouterConfig struct {
	Logger *zap.Logger
	// Registry backs /metrics and the HTTP collectors. nil => a fresh registry.
	Registry *prometheus.Registry
	Checks   map[string]Check
}

// NewRouter wires middleware, infrastructure routes and the /api group.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)

	r := gin.New()
	r.Use(
		RequestID(),
		Recovery(log),
		metrics.Middleware(),
		RequestLogger(log.Named("http")),
	)

	r.GET("/healthz", health(cfg.Checks))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	api := r.Group("/api")
	{
		drivers := api.Group("/drivers")
		drivers.GET("", h.ListDrivers)
		drivers.GET("/live", h.LiveDrivers)
		drivers.GET("/:id/performance", h.DriverPerformance)
		drivers.GET("/:id/statements", h.MonthlyStatements)
		drivers.POST("/:id/statements", h.GenerateStatement)
		drivers.PATCH("/:id/status", h.UpdateDriverStatus)

		api.GET("/accounting/entries", h.AccountingEntries)
		api.GET("/accounting/balance", h.DailyBalance)
		api.GET("/attendance/overview", h.AttendanceOverview)

		dash := api.Group("/dashboard")
		dash.GET("/performance", h.PerformanceRange)
		dash.GET("/daily-orders", h.DailyOrderMetrics)
		dash.GET("/monthly-orders", h.MonthlyOrderMetrics)
		dash.GET("/profit-loss", h.ProfitAndLoss)

		api.POST("/batch", h.ExecuteBatch)

		cache := api.Group("/cache")
		cache.POST("/clear", h.ClearCache)
		cache.GET("/ttl", h.GetTTL)
		cache.PUT("/ttl", h.SetTTL)
	}
	return r
}

func health(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
