package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports service liveness and the state of its backends
type HealthHandler struct {
	service  string
	database HealthChecker
	broker   BrokerStatus
}

// NewHealthHandler creates a new HealthHandler; nil backends are skipped
func NewHealthHandler(service string, deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		service:  service,
		database: deps.Database,
		broker:   deps.Broker,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if h.database != nil {
		if err := h.database.HealthCheck(c.Request.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["rabbitmq"] = "ok"
		} else {
			checks["rabbitmq"] = "disconnected"
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": h.service,
		"checks":  checks,
	})
}
