package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"course_messaging/internal/config"
	"course_messaging/internal/domain"
	"course_messaging/internal/repository"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type MessageService interface {
	CreateMessage(ctx context.Context, actor domain.Actor, input CreateMessageInput) (*domain.CreateMessageResult, error)
	CreateReply(ctx context.Context, actor domain.Actor, courseID, parentID uuid.UUID, content string) (*domain.CreateMessageResult, error)
	CreateFileMessage(ctx context.Context, actor domain.Actor, courseID uuid.UUID, input FileMessageInput) (*domain.CreateMessageResult, error)
	GetMessage(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error)
	FetchPage(ctx context.Context, actor domain.Actor, courseID uuid.UUID, req PageRequest) (*domain.Page, error)
	FetchReplies(ctx context.Context, actor domain.Actor, courseID, parentID uuid.UUID, req PageRequest) (*domain.Page, error)
	Search(ctx context.Context, actor domain.Actor, courseID uuid.UUID, term string, req PageRequest) (*domain.Page, error)
	Pin(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error)
	Unpin(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error)
	SoftDelete(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error)
}

type CreateMessageInput struct {
	CourseID        uuid.UUID
	Content         *string
	Type            domain.MessageType
	ParentMessageID *uuid.UUID
	Attachment      *domain.AttachmentInput
}

type FileMessageInput struct {
	Attachment      domain.AttachmentInput
	Caption         *string
	ParentMessageID *uuid.UUID
}

type messageService struct {
	messageRepo repository.MessageRepository
	membership  MembershipService
	broadcaster Broadcaster
	upload      config.UploadConfig
	log         logger.Logger
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	membership MembershipService,
	broadcaster Broadcaster,
	upload config.UploadConfig,
	log logger.Logger,
) MessageService {
	return &messageService{
		messageRepo: messageRepo,
		membership:  membership,
		broadcaster: broadcaster,
		upload:      upload,
		log:         log,
	}
}

func (s *messageService) CreateMessage(ctx context.Context, actor domain.Actor, input CreateMessageInput) (*domain.CreateMessageResult, error) {
	return s.create(ctx, actor, input)
}

func (s *messageService) CreateReply(ctx context.Context, actor domain.Actor, courseID, parentID uuid.UUID, content string) (*domain.CreateMessageResult, error) {
	return s.create(ctx, actor, CreateMessageInput{
		CourseID:        courseID,
		Content:         &content,
		Type:            domain.MessageTypeText,
		ParentMessageID: &parentID,
	})
}

func (s *messageService) CreateFileMessage(ctx context.Context, actor domain.Actor, courseID uuid.UUID, input FileMessageInput) (*domain.CreateMessageResult, error) {
	return s.create(ctx, actor, CreateMessageInput{
		CourseID:        courseID,
		Content:         input.Caption,
		Type:            domain.MessageTypeFile,
		ParentMessageID: input.ParentMessageID,
		Attachment:      &input.Attachment,
	})
}

func (s *messageService) create(ctx context.Context, actor domain.Actor, input CreateMessageInput) (*domain.CreateMessageResult, error) {
	content, err := s.validate(input)
	if err != nil {
		return nil, err
	}
	if _, err := s.membership.CheckMembership(ctx, input.CourseID, actor.ID); err != nil {
		return nil, err
	}

	message := &domain.Message{
		CourseID:        input.CourseID,
		SenderID:        actor.ID,
		ParentMessageID: input.ParentMessageID,
		Content:         content,
		Type:            input.Type,
	}

	result := &domain.CreateMessageResult{}
	err = s.messageRepo.RunInTx(ctx, func(tx repository.MessageTx) error {
		if message.ParentMessageID != nil {
			if err := checkParent(ctx, tx, input.CourseID, *message.ParentMessageID); err != nil {
				return err
			}
		}

		if err := tx.Insert(ctx, message); err != nil {
			return err
		}
		if input.Attachment != nil {
			if err := tx.InsertAttachment(ctx, &domain.Attachment{
				MessageID: message.ID,
				FileName:  strings.TrimSpace(input.Attachment.FileName),
				MimeType:  input.Attachment.MimeType,
				Size:      input.Attachment.Size,
				URL:       input.Attachment.URL,
			}); err != nil {
				return err
			}
		}

		payload, err := loadPayload(ctx, tx, message.ID)
		if err != nil {
			return err
		}
		result.Message = payload

		if message.ParentMessageID != nil {
			result.ParentUpdate, err = parentSummary(ctx, tx, input.CourseID, *message.ParentMessageID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Message created", "message_id", message.ID, "course_id", input.CourseID, "sender_id", actor.ID)

	s.broadcaster.PublishNewMessage(input.CourseID, result.Message)
	if result.ParentUpdate != nil {
		s.broadcaster.PublishReplySummary(input.CourseID, result.ParentUpdate)
	}
	return result, nil
}

// checkParent locks the parent row for the rest of the transaction so it
// cannot be soft-deleted underneath a reply being written.
func checkParent(ctx context.Context, tx repository.MessageTx, courseID, parentID uuid.UUID) error {
	parent, err := tx.LockForShare(ctx, parentID)
	if errors.Is(err, apperrors.ErrMessageNotFound) {
		return fmt.Errorf("%w: parent message not found in this course", apperrors.ErrInvalidParent)
	}
	if err != nil {
		return err
	}

	switch {
	case parent.CourseID != courseID:
		return fmt.Errorf("%w: parent message not found in this course", apperrors.ErrInvalidParent)
	case parent.IsReply():
		return fmt.Errorf("%w: replies can only target top-level messages", apperrors.ErrInvalidParent)
	case parent.Deleted:
		return fmt.Errorf("%w: cannot reply to a deleted message", apperrors.ErrInvalidParent)
	}
	return nil
}

func (s *messageService) validate(input CreateMessageInput) (*string, error) {
	var content *string
	if input.Content != nil {
		if trimmed := strings.TrimSpace(*input.Content); trimmed != "" {
			content = &trimmed
		}
	}

	switch input.Type {
	case domain.MessageTypeText:
		if input.Attachment != nil {
			return nil, fmt.Errorf("%w: text messages cannot carry an attachment", apperrors.ErrInvalidInput)
		}
		if content == nil {
			return nil, fmt.Errorf("%w: message content is required", apperrors.ErrInvalidInput)
		}
	case domain.MessageTypeFile:
		if input.Attachment == nil {
			return nil, fmt.Errorf("%w: file messages require an attachment", apperrors.ErrInvalidInput)
		}
		if err := s.validateAttachment(input.Attachment); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", apperrors.ErrInvalidInput, input.Type)
	}
	return content, nil
}

func (s *messageService) validateAttachment(att *domain.AttachmentInput) error {
	switch {
	case strings.TrimSpace(att.FileName) == "":
		return fmt.Errorf("%w: attachment file name is required", apperrors.ErrInvalidInput)
	case att.URL == "":
		return fmt.Errorf("%w: attachment url is required", apperrors.ErrInvalidInput)
	case att.Size <= 0:
		return fmt.Errorf("%w: attachment size must be positive", apperrors.ErrInvalidInput)
	case s.upload.MaxSize > 0 && att.Size > s.upload.MaxSize:
		return fmt.Errorf("%w: attachment exceeds %d bytes", apperrors.ErrInvalidInput, s.upload.MaxSize)
	case len(s.upload.AllowedTypes) > 0 && !lo.Contains(s.upload.AllowedTypes, att.MimeType):
		return fmt.Errorf("%w: unsupported file type %q", apperrors.ErrInvalidInput, att.MimeType)
	}
	return nil
}

func (s *messageService) GetMessage(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error) {
	if err := s.membership.RequireReader(ctx, courseID, actor); err != nil {
		return nil, err
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.CourseID != courseID || message.Deleted {
		return nil, apperrors.ErrMessageNotFound
	}
	return toPayload(ctx, s.messageRepo, message)
}

// SoftDelete hides a message from every read. A pinned message loses its pin
// in the same transaction; deleting a reply refreshes its parent's summary.
func (s *messageService) SoftDelete(ctx context.Context, actor domain.Actor, courseID, messageID uuid.UUID) (*domain.MessagePayload, error) {
	if err := s.membership.RequireModerator(ctx, courseID, actor); err != nil {
		return nil, err
	}

	var (
		payload      *domain.MessagePayload
		parentUpdate *domain.ReplySummaryPayload
		unpinned     bool
		changed      bool
	)
	err := s.messageRepo.RunInTx(ctx, func(tx repository.MessageTx) error {
		target, err := tx.LockForUpdate(ctx, messageID)
		if err != nil {
			return err
		}
		if target.CourseID != courseID {
			return apperrors.ErrMessageNotFound
		}

		if unpinned, err = tx.ClearPin(ctx, messageID); err != nil {
			return err
		}
		if changed, err = tx.SoftDelete(ctx, messageID); err != nil {
			return err
		}

		if payload, err = loadPayload(ctx, tx, messageID); err != nil {
			return err
		}
		if changed && target.IsReply() {
			parentUpdate, err = parentSummary(ctx, tx, courseID, *target.ParentMessageID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("Message deleted", "message_id", messageID, "course_id", courseID, "actor_id", actor.ID)
	}
	if unpinned {
		s.broadcaster.PublishUnpinned(courseID, payload)
	}
	if parentUpdate != nil {
		s.broadcaster.PublishReplySummary(courseID, parentUpdate)
	}
	return payload, nil
}
