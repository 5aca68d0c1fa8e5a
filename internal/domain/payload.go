package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessagePayload is the single wire shape of a message. It is built once per
// mutation and handed unchanged to the caller and to every subscriber.
type MessagePayload struct {
	ID              uuid.UUID          `json:"id"`
	CourseID        uuid.UUID          `json:"courseId"`
	SenderID        uuid.UUID          `json:"senderId"`
	Sender          *UserSummary       `json:"sender"`
	ParentMessageID *uuid.UUID         `json:"parentMessageId"`
	Content         *string            `json:"content"`
	Type            MessageType        `json:"type"`
	CreatedAt       time.Time          `json:"createdAt"`
	Pinned          bool               `json:"pinned"`
	PinnedAt        *time.Time         `json:"pinnedAt"`
	PinnedBy        *UserSummary       `json:"pinnedBy"`
	Deleted         bool               `json:"deleted"`
	Attachment      *AttachmentPayload `json:"attachment"`
	ReplyCount      int                `json:"replyCount"`
	LatestReply     *LatestReply       `json:"latestReply"`
}

type AttachmentPayload struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"fileName"`
	MimeType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	DownloadURL string    `json:"downloadUrl"`
}

// ReplySummaryPayload tells subscribers that a top-level message's thread changed.
type ReplySummaryPayload struct {
	CourseID    uuid.UUID    `json:"courseId"`
	MessageID   uuid.UUID    `json:"messageId"`
	ReplyCount  int          `json:"replyCount"`
	LatestReply *LatestReply `json:"latestReply"`
}

type PinPayload struct {
	CourseID uuid.UUID       `json:"courseId"`
	Message  *MessagePayload `json:"message"`
}

type CreateMessageResult struct {
	Message      *MessagePayload      `json:"message"`
	ParentUpdate *ReplySummaryPayload `json:"parentUpdate,omitempty"`
}

type Page struct {
	Items      []*MessagePayload `json:"items"`
	NextCursor *uuid.UUID        `json:"nextCursor"`
}

func AttachmentDownloadPath(courseID, messageID uuid.UUID) string {
	return fmt.Sprintf("/api/v1/courses/%s/messages/%s/attachment", courseID, messageID)
}

// NewMessagePayload projects a hydrated message plus its thread summary.
// Replies always carry an empty summary.
func NewMessagePayload(m *Message, summary ReplySummary) *MessagePayload {
	p := &MessagePayload{
		ID:              m.ID,
		CourseID:        m.CourseID,
		SenderID:        m.SenderID,
		Sender:          m.Sender,
		ParentMessageID: m.ParentMessageID,
		Content:         m.Content,
		Type:            m.Type,
		CreatedAt:       m.CreatedAt,
		Pinned:          m.Pinned,
		PinnedAt:        m.PinnedAt,
		PinnedBy:        m.PinnedBy,
		Deleted:         m.Deleted,
	}
	if !m.Pinned {
		p.PinnedAt = nil
		p.PinnedBy = nil
	}
	if m.Attachment != nil {
		p.Attachment = &AttachmentPayload{
			ID:          m.Attachment.ID,
			FileName:    m.Attachment.FileName,
			MimeType:    m.Attachment.MimeType,
			Size:        m.Attachment.Size,
			URL:         m.Attachment.URL,
			DownloadURL: AttachmentDownloadPath(m.CourseID, m.ID),
		}
	}
	if !m.IsReply() {
		p.ReplyCount = summary.ReplyCount
		p.LatestReply = summary.LatestReply
	}
	return p
}

func NewReplySummaryPayload(courseID, parentID uuid.UUID, summary ReplySummary) *ReplySummaryPayload {
	return &ReplySummaryPayload{
		CourseID:    courseID,
		MessageID:   parentID,
		ReplyCount:  summary.ReplyCount,
		LatestReply: summary.LatestReply,
	}
}
