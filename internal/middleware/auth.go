package middleware

import (
	"net/http"
	"strings"

	"course_messaging/internal/domain"
	"course_messaging/internal/service"
	"course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	userIDKey   = "user_id"
	userRoleKey = "user_role"
)

type AuthMiddleware struct {
	authService service.AuthService
	log         logger.Logger
}

func NewAuthMiddleware(authService service.AuthService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		log:         log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.Request)
		if !ok {
			abortUnauthorized(c, "Authorization header required")
			return
		}

		actor, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(userIDKey, actor.ID)
		c.Set(userRoleKey, actor.Role)
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on websocket upgrades, so the token query parameter is
// accepted as well.
func BearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// Actor returns the authenticated caller set by RequireAuth.
func Actor(c *gin.Context) (domain.Actor, bool) {
	id, ok := c.Get(userIDKey)
	if !ok {
		return domain.Actor{}, false
	}
	userID, ok := id.(uuid.UUID)
	if !ok {
		return domain.Actor{}, false
	}
	return domain.Actor{ID: userID, Role: c.GetString(userRoleKey)}, true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errors.NewAPIError(message, http.StatusUnauthorized))
}
