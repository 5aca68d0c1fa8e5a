package handler

import (
	"course_messaging/internal/broadcast"
	"course_messaging/internal/config"
	"course_messaging/internal/service"
	"course_messaging/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Message   *MessageHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *broadcast.Hub, checks map[string]HealthCheck, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(checks, hub),
		Message:   NewMessageHandler(services.Message, log),
		WebSocket: NewWebSocketHandler(services, hub, cfg, log),
	}
}
