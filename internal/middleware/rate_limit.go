package middleware

import (
	"net/http"
	"strconv"

	"course_messaging/internal/service"
	"course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit counts requests per authenticated user; it must run after RequireAuth.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := Actor(c)
		if !ok {
			c.Next()
			return
		}

		limit := m.rateLimitService.Limit()
		remaining, err := m.rateLimitService.Allow(c.Request.Context(), actor.ID)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if err != nil {
			m.log.Debug("Rate limit exceeded", "user_id", actor.ID, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				errors.NewAPIError(errors.ErrRateLimited.Error(), http.StatusTooManyRequests))
			return
		}

		c.Next()
	}
}
