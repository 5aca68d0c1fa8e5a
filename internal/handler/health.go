package handler

import (
	"context"
	"net/http"
	"time"

	"course_messaging/internal/broadcast"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
	hub    *broadcast.Hub
}

func NewHealthHandler(checks map[string]HealthCheck, hub *broadcast.Hub) *HealthHandler {
	return &HealthHandler{checks: checks, hub: hub}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, state := http.StatusOK, "ok"
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status, state = http.StatusServiceUnavailable, "degraded"
			continue
		}
		deps[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status":       state,
		"service":      "course-messaging",
		"dependencies": deps,
		"sessions":     h.hub.SessionCount(),
	})
}
