package domain

import (
	"github.com/google/uuid"
)

type EventKind string

const (
	EventMessageNew      EventKind = "course_message:new"
	EventReplySummary    EventKind = "course_message:reply_count"
	EventMessagePinned   EventKind = "course_message:pinned"
	EventMessageUnpinned EventKind = "course_message:unpinned"
)

// Event is the envelope pushed to course subscribers.
type Event struct {
	Kind     EventKind `json:"event"`
	CourseID uuid.UUID `json:"courseId"`
	Data     any       `json:"data"`
}
