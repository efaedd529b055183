package http

import (
	"net/http"
	"time"

	"memberdash/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type OpsHandler struct {
	health   *monitoring.HealthChecker
	gatherer prometheus.Gatherer
	started  time.Time
}

// NewOpsHandler serves /metrics from gatherer when it is non-nil.
func NewOpsHandler(health *monitoring.HealthChecker, gatherer prometheus.Gatherer) *OpsHandler {
	return &OpsHandler{health: health, gatherer: gatherer, started: time.Now()}
}

func (h *OpsHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": monitoring.StatusHealthy,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *OpsHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
