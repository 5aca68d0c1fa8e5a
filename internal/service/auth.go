package service

import (
	"context"
	"fmt"

	"course_messaging/internal/config"
	"course_messaging/internal/domain"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/jwt"
	"course_messaging/pkg/logger"

	"github.com/samber/lo"
)

// AuthService turns bearer tokens issued by the identity service into actors.
type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (domain.Actor, error)
}

type authService struct {
	jwtCfg config.JWTConfig
	log    logger.Logger
}

func NewAuthService(jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{jwtCfg: jwtCfg, log: log}
}

var knownRoles = []string{domain.RoleStudent, domain.RoleLecturer, domain.RoleAdmin}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (domain.Actor, error) {
	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.Secret, s.jwtCfg.Issuer)
	if err != nil {
		s.log.Debug("Token rejected", "error", err)
		return domain.Actor{}, apperrors.ErrInvalidToken
	}

	userID, err := claims.UserID()
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: subject is not a user id", apperrors.ErrInvalidToken)
	}
	if !lo.Contains(knownRoles, claims.Role) {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidToken, claims.Role)
	}

	return domain.Actor{ID: userID, Role: claims.Role}, nil
}
