package domain

import (
	"github.com/google/uuid"
)

const (
	RoleStudent  = "STUDENT"
	RoleLecturer = "LECTURER"
	RoleAdmin    = "ADMIN"
)

// Actor is the authenticated caller as handed over by the identity layer.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// UserSummary is the public projection of a user embedded in message payloads.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
}

// Membership is the result of a course membership check.
type Membership struct {
	IsLecturer bool `json:"isLecturer"`
	IsEnrolled bool `json:"isEnrolled"`
}

func (m Membership) IsMember() bool {
	return m.IsLecturer || m.IsEnrolled
}
