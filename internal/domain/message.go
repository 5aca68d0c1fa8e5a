package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeFile MessageType = "FILE"
)

func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeFile
}

type Message struct {
	ID              uuid.UUID
	CourseID        uuid.UUID
	SenderID        uuid.UUID
	Sender          *UserSummary
	ParentMessageID *uuid.UUID
	Content         *string
	Type            MessageType
	CreatedAt       time.Time
	Pinned          bool
	PinnedAt        *time.Time
	PinnedByID      *uuid.UUID
	PinnedBy        *UserSummary
	Deleted         bool
	Attachment      *Attachment
}

// Attachment is owned 1:1 by a FILE message.
type Attachment struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	FileName  string
	MimeType  string
	Size      int64
	URL       string
}

// AttachmentInput describes a file that has already been uploaded to
// object storage.
type AttachmentInput struct {
	FileName string `json:"fileName" binding:"required" validate:"required"`
	MimeType string `json:"mimeType" binding:"required" validate:"required"`
	Size     int64  `json:"size" binding:"required,gt=0" validate:"gt=0"`
	URL      string `json:"url" binding:"required,url" validate:"required,url"`
}

func (m *Message) IsReply() bool {
	return m.ParentMessageID != nil
}

// Preview is the trimmed text content, or the attachment file name when
// the message has no text.
func (m *Message) Preview() *string {
	if m.Content != nil {
		if trimmed := strings.TrimSpace(*m.Content); trimmed != "" {
			return &trimmed
		}
	}
	if m.Attachment != nil && m.Attachment.FileName != "" {
		name := m.Attachment.FileName
		return &name
	}
	return nil
}

// Position is the message's place in the per-course total order.
type Position struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func (m *Message) Position() Position {
	return Position{CreatedAt: m.CreatedAt, ID: m.ID}
}

// After reports whether p sorts strictly after o in (createdAt, id) order.
func (p Position) After(o Position) bool {
	if !p.CreatedAt.Equal(o.CreatedAt) {
		return p.CreatedAt.After(o.CreatedAt)
	}
	return CompareIDs(p.ID, o.ID) > 0
}

// CompareIDs orders ids by their bytes, the same order postgres uses for uuid.
func CompareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

type LatestReply struct {
	ID        uuid.UUID    `json:"id"`
	Sender    *UserSummary `json:"sender"`
	Preview   *string      `json:"preview"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ReplySummary is derived on demand; it is never stored.
type ReplySummary struct {
	ReplyCount  int
	LatestReply *LatestReply
}

func NewLatestReply(reply *Message) *LatestReply {
	return &LatestReply{
		ID:        reply.ID,
		Sender:    reply.Sender,
		Preview:   reply.Preview(),
		CreatedAt: reply.CreatedAt,
	}
}
