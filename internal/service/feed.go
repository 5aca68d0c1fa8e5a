package service

import (
	"context"
	"fmt"
	"strings"

	"course_messaging/internal/domain"
	"course_messaging/internal/repository"
	apperrors "course_messaging/pkg/errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PageRequest is a keyset page request. Cursor is the id of the last item of
// the previous page, empty for the first page.
type PageRequest struct {
	Limit  int
	Cursor string
}

func (s *messageService) FetchPage(ctx context.Context, actor domain.Actor, courseID uuid.UUID, req PageRequest) (*domain.Page, error) {
	if err := s.membership.RequireReader(ctx, courseID, actor); err != nil {
		return nil, err
	}
	return s.fetch(ctx, repository.ListQuery{CourseID: courseID, Scope: repository.ScopeTopLevel}, req)
}

func (s *messageService) FetchReplies(ctx context.Context, actor domain.Actor, courseID, parentID uuid.UUID, req PageRequest) (*domain.Page, error) {
	if err := s.membership.RequireReader(ctx, courseID, actor); err != nil {
		return nil, err
	}

	parent, err := s.messageRepo.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.CourseID != courseID || parent.Deleted {
		return nil, apperrors.ErrMessageNotFound
	}
	if parent.IsReply() {
		return nil, fmt.Errorf("%w: replies have no thread of their own", apperrors.ErrInvalidInput)
	}

	return s.fetch(ctx, repository.ListQuery{CourseID: courseID, Scope: repository.ScopeReplies, ParentID: parentID}, req)
}

func (s *messageService) Search(ctx context.Context, actor domain.Actor, courseID uuid.UUID, term string, req PageRequest) (*domain.Page, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: search term is required", apperrors.ErrInvalidInput)
	}
	if err := s.membership.RequireReader(ctx, courseID, actor); err != nil {
		return nil, err
	}
	return s.fetch(ctx, repository.ListQuery{CourseID: courseID, Scope: repository.ScopeSearch, Term: term}, req)
}

func (s *messageService) fetch(ctx context.Context, q repository.ListQuery, req PageRequest) (*domain.Page, error) {
	limit, err := normalizeLimit(req.Limit)
	if err != nil {
		return nil, err
	}
	q.Limit = limit

	if req.Cursor != "" {
		cursorID, err := uuid.Parse(req.Cursor)
		if err != nil {
			return nil, apperrors.ErrInvalidCursor
		}
		after, err := s.messageRepo.Position(ctx, q.CourseID, cursorID)
		if err != nil {
			return nil, err
		}
		q.After = &after
	}

	messages, err := s.messageRepo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	items, err := toPayloads(ctx, s.messageRepo, messages)
	if err != nil {
		return nil, err
	}

	page := &domain.Page{Items: items}
	if len(messages) == limit {
		page.NextCursor = lo.ToPtr(messages[len(messages)-1].ID)
	}
	return page, nil
}

func normalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultPageLimit, nil
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", apperrors.ErrInvalidInput, MaxPageLimit)
	}
	return limit, nil
}
