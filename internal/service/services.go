package service

import (
	"course_messaging/internal/config"
	"course_messaging/internal/repository"
	"course_messaging/pkg/logger"
)

type Services struct {
	Auth       AuthService
	Membership MembershipService
	RateLimit  RateLimitService
	Message    MessageService
}

func NewServices(repos *repository.Repositories, broadcaster Broadcaster, cfg *config.Config, log logger.Logger) *Services {
	membership := NewMembershipService(repos.Course, log)

	return &Services{
		Auth:       NewAuthService(cfg.JWT, log),
		Membership: membership,
		RateLimit:  NewRateLimitService(repos.RateLimit, cfg.RateLimit, log),
		Message:    NewMessageService(repos.Message, membership, broadcaster, cfg.Upload, log),
	}
}
