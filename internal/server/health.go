package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Backend   string    `json:"backend"`
}

type HealthHandler struct {
	serviceName string
	version     string
	probe       func(ctx context.Context) error
}

func NewHealthHandler(serviceName, version string, probe func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		probe:       probe,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	backendStatus := "unknown"
	if h.probe != nil {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := h.probe(pingCtx); err != nil {
			backendStatus = "down"
		} else {
			backendStatus = "up"
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   h.serviceName,
		Version:   h.version,
		Backend:   backendStatus,
	})
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.HealthCheck)
}
