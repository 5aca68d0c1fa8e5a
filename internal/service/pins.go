package service

import (
	"context"
	"fmt"
	"time"

	"course_messaging/internal/domain"
	"course_messaging/internal/repository"
	apperrors "course_messaging/pkg/errors"

	"github.com/google/uuid"
)

// Pin makes messageID the only pinned message of the course. The swap runs
// under a per-course lock so concurrent pins serialise and exactly one wins.
func (s *messageService) Pin(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error) {
	if err := s.membership.RequireLecturer(ctx, courseID, actor); err != nil {
		return nil, err
	}

	var payload *domain.MessagePayload
	err := s.messageRepo.RunInTx(ctx, func(tx repository.MessageTx) error {
		if err := tx.LockCoursePins(ctx, courseID); err != nil {
			return err
		}
		target, err := lockPinTarget(ctx, tx, courseID, messageID)
		if err != nil {
			return err
		}
		if target.IsReply() {
			return fmt.Errorf("%w: only top-level messages can be pinned", apperrors.ErrInvalidInput)
		}

		if _, err := tx.ClearPins(ctx, courseID, messageID); err != nil {
			return err
		}
		if err := tx.SetPin(ctx, messageID, actor.ID, time.Now().UTC()); err != nil {
			return err
		}

		payload, err = loadPayload(ctx, tx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Message pinned", "message_id", messageID, "course_id", courseID, "actor_id", actor.ID)
	s.broadcaster.PublishPinned(courseID, payload)
	return payload, nil
}

// Unpin clears the pin on messageID. Unpinning a message that is not pinned
// returns its current state and publishes nothing.
func (s *messageService) Unpin(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error) {
	if err := s.membership.RequireLecturer(ctx, courseID, actor); err != nil {
		return nil, err
	}

	var (
		payload *domain.MessagePayload
		cleared bool
	)
	err := s.messageRepo.RunInTx(ctx, func(tx repository.MessageTx) error {
		if err := tx.LockCoursePins(ctx, courseID); err != nil {
			return err
		}
		if _, err := lockPinTarget(ctx, tx, courseID, messageID); err != nil {
			return err
		}

		var err error
		if cleared, err = tx.ClearPin(ctx, messageID); err != nil {
			return err
		}
		payload, err = loadPayload(ctx, tx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cleared {
		s.log.Info("Message unpinned", "message_id", messageID, "course_id", courseID, "actor_id", actor.ID)
		s.broadcaster.PublishUnpinned(courseID, payload)
	}
	return payload, nil
}

func lockPinTarget(ctx context.Context, tx repository.MessageTx, courseID, messageID uuid.UUID) (*domain.Message, error) {
	target, err := tx.LockForUpdate(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if target.CourseID != courseID || target.Deleted {
		return nil, apperrors.ErrMessageNotFound
	}
	return target, nil
}
