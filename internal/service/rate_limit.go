package service

import (
	"context"
	"fmt"

	"course_messaging/internal/config"
	"course_messaging/internal/repository"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
)

type RateLimitService interface {
	// Allow counts one posting attempt for the user and returns the attempts
	// left in the current window, or ErrRateLimited once the limit is spent.
	Allow(ctx context.Context, userID uuid.UUID) (int, error)
	Limit() int
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	cfg           config.RateLimitConfig
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, cfg config.RateLimitConfig, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		cfg:           cfg,
		log:           log,
	}
}

func (s *rateLimitService) Limit() int {
	return s.cfg.Messages
}

func (s *rateLimitService) Allow(ctx context.Context, userID uuid.UUID) (int, error) {
	if s.rateLimitRepo == nil || s.cfg.Messages <= 0 {
		return s.cfg.Messages, nil
	}

	key := fmt.Sprintf("ratelimit:messages:%s", userID)
	count, err := s.rateLimitRepo.Increment(ctx, key, s.cfg.Window)
	if err != nil {
		// Counters are best effort.
		s.log.Warn("Rate limit unavailable, allowing request", "user_id", userID, "error", err)
		return s.cfg.Messages, nil
	}

	remaining := s.cfg.Messages - int(count)
	if remaining < 0 {
		return 0, apperrors.ErrRateLimited
	}
	return remaining, nil
}
