package service

import (
	"context"
	"fmt"

	"course_messaging/internal/domain"
	"course_messaging/internal/repository"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
)

type MembershipService interface {
	// CheckMembership fails with ErrCourseNotFound for unknown courses and
	// ErrNotMember when the user neither teaches nor is enrolled.
	CheckMembership(ctx context.Context, courseID, userID uuid.UUID) (domain.Membership, error)
	// RequireReader admits members and, for any existing course, admins.
	RequireReader(ctx context.Context, courseID uuid.UUID, actor domain.Actor) error
	RequireLecturer(ctx context.Context, courseID uuid.UUID, actor domain.Actor) error
	// RequireModerator admits the course lecturer and admins.
	RequireModerator(ctx context.Context, courseID uuid.UUID, actor domain.Actor) error
	CoursesForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type membershipService struct {
	courseRepo repository.CourseRepository
	log        logger.Logger
}

func NewMembershipService(courseRepo repository.CourseRepository, log logger.Logger) MembershipService {
	return &membershipService{courseRepo: courseRepo, log: log}
}

func (s *membershipService) CheckMembership(ctx context.Context, courseID, userID uuid.UUID) (domain.Membership, error) {
	membership, err := s.courseRepo.GetMembership(ctx, courseID, userID)
	if err != nil {
		return membership, err
	}
	if !membership.IsMember() {
		return membership, apperrors.ErrNotMember
	}
	return membership, nil
}

func (s *membershipService) RequireReader(ctx context.Context, courseID uuid.UUID, actor domain.Actor) error {
	if actor.IsAdmin() {
		return s.requireCourse(ctx, courseID)
	}
	_, err := s.CheckMembership(ctx, courseID, actor.ID)
	return err
}

func (s *membershipService) RequireLecturer(ctx context.Context, courseID uuid.UUID, actor domain.Actor) error {
	membership, err := s.CheckMembership(ctx, courseID, actor.ID)
	if err != nil {
		return err
	}
	if !membership.IsLecturer {
		return apperrors.ErrNotLecturer
	}
	return nil
}

func (s *membershipService) RequireModerator(ctx context.Context, courseID uuid.UUID, actor domain.Actor) error {
	if actor.IsAdmin() {
		return s.requireCourse(ctx, courseID)
	}
	return s.RequireLecturer(ctx, courseID, actor)
}

func (s *membershipService) CoursesForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.courseRepo.ListCourseIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list courses for user: %w", err)
	}
	return ids, nil
}

func (s *membershipService) requireCourse(ctx context.Context, courseID uuid.UUID) error {
	exists, err := s.courseRepo.Exists(ctx, courseID)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrCourseNotFound
	}
	return nil
}
