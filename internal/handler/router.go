package handler

import (
	"net/http"

	"course_messaging/internal/config"
	"course_messaging/internal/middleware"
	"course_messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

func SetupRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	metrics http.Handler,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.ClientOrigin))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", handlers.Health.Check)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		messages := protected.Group("/courses/:courseId/messages")
		{
			messages.GET("", handlers.Message.List)
			messages.GET("/search", handlers.Message.Search)
			messages.POST("", rateLimitMiddleware.Limit(), handlers.Message.Create)
			messages.POST("/files", rateLimitMiddleware.Limit(), handlers.Message.CreateFile)
			messages.GET("/:messageId", handlers.Message.Get)
			messages.GET("/:messageId/attachment", handlers.Message.Attachment)
			messages.GET("/:messageId/replies", handlers.Message.Replies)
			messages.POST("/:messageId/pin", handlers.Message.Pin)
			messages.DELETE("/:messageId/pin", handlers.Message.Unpin)
			messages.DELETE("/:messageId", handlers.Message.Delete)
		}
	}

	// Authenticates itself: browsers pass the token as a query parameter.
	router.GET("/ws", handlers.WebSocket.Handle)

	return router
}
