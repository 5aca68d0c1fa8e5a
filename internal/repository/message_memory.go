package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"course_messaging/internal/domain"
	apperrors "course_messaging/pkg/errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryStore keeps messages in process. It backs the memory storage driver
// and the engine tests. Transactions hold the write lock for their whole
// lifetime and undo their writes on failure.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*domain.Message
	users    map[uuid.UUID]domain.UserSummary
	now      func() time.Time
	last     time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]*domain.Message),
		users:    make(map[uuid.UUID]domain.UserSummary),
		now:      time.Now,
	}
}

// SetClock replaces the time source; timestamps never go backwards.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) AddUser(user domain.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByID(id)
}

func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(q), nil
}

func (s *MemoryStore) Position(ctx context.Context, courseID, id uuid.UUID) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position(courseID, id)
}

func (s *MemoryStore) ReplySummaries(ctx context.Context, parentIDs []uuid.UUID) (map[uuid.UUID]domain.ReplySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replySummaries(parentIDs), nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx MessageTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) hydrate(row *domain.Message) *domain.Message {
	out := *row
	if row.Content != nil {
		out.Content = lo.ToPtr(*row.Content)
	}
	if row.Attachment != nil {
		att := *row.Attachment
		out.Attachment = &att
	}
	if u, ok := s.users[row.SenderID]; ok {
		out.Sender = &u
	}
	out.PinnedBy = nil
	if row.PinnedByID != nil {
		if u, ok := s.users[*row.PinnedByID]; ok {
			out.PinnedBy = &u
		}
	}
	return &out
}

func (s *MemoryStore) getByID(id uuid.UUID) (*domain.Message, error) {
	row, ok := s.messages[id]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	return s.hydrate(row), nil
}

func (s *MemoryStore) position(courseID, id uuid.UUID) (domain.Position, error) {
	row, ok := s.messages[id]
	if !ok || row.CourseID != courseID {
		return domain.Position{}, apperrors.ErrInvalidCursor
	}
	return row.Position(), nil
}

func (s *MemoryStore) list(q ListQuery) []*domain.Message {
	term := strings.ToLower(q.Term)
	rows := lo.Filter(lo.Values(s.messages), func(m *domain.Message, _ int) bool {
		if m.CourseID != q.CourseID || m.Deleted {
			return false
		}
		if q.After != nil && !m.Position().After(*q.After) {
			return false
		}
		switch q.Scope {
		case ScopeTopLevel:
			return m.ParentMessageID == nil
		case ScopeReplies:
			return m.ParentMessageID != nil && *m.ParentMessageID == q.ParentID
		case ScopeSearch:
			if m.Content != nil && strings.Contains(strings.ToLower(*m.Content), term) {
				return true
			}
			return m.Attachment != nil && strings.Contains(strings.ToLower(m.Attachment.FileName), term)
		}
		return false
	})

	sortByPosition(rows)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return lo.Map(rows, func(m *domain.Message, _ int) *domain.Message { return s.hydrate(m) })
}

func (s *MemoryStore) replySummaries(parentIDs []uuid.UUID) map[uuid.UUID]domain.ReplySummary {
	summaries := make(map[uuid.UUID]domain.ReplySummary, len(parentIDs))
	latest := make(map[uuid.UUID]*domain.Message)
	for _, id := range parentIDs {
		summaries[id] = domain.ReplySummary{}
	}

	for _, m := range s.messages {
		if m.Deleted || m.ParentMessageID == nil {
			continue
		}
		parentID := *m.ParentMessageID
		summary, ok := summaries[parentID]
		if !ok {
			continue
		}
		summary.ReplyCount++
		summaries[parentID] = summary
		if cur := latest[parentID]; cur == nil || m.Position().After(cur.Position()) {
			latest[parentID] = m
		}
	}

	for parentID, reply := range latest {
		summary := summaries[parentID]
		summary.LatestReply = domain.NewLatestReply(s.hydrate(reply))
		summaries[parentID] = summary
	}
	return summaries
}

func (s *MemoryStore) tick() time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}

func sortByPosition(rows []*domain.Message) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[j].Position().After(rows[i].Position())
	})
}

type memoryTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// snapshot records the current state of a row so rollback can restore it.
func (t *memoryTx) snapshot(row *domain.Message) {
	saved := *row
	t.undo = append(t.undo, func() { *row = saved })
}

func (t *memoryTx) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return t.store.getByID(id)
}

func (t *memoryTx) List(ctx context.Context, q ListQuery) ([]*domain.Message, error) {
	return t.store.list(q), nil
}

func (t *memoryTx) Position(ctx context.Context, courseID, id uuid.UUID) (domain.Position, error) {
	return t.store.position(courseID, id)
}

func (t *memoryTx) ReplySummaries(ctx context.Context, parentIDs []uuid.UUID) (map[uuid.UUID]domain.ReplySummary, error) {
	return t.store.replySummaries(parentIDs), nil
}

func (t *memoryTx) LockForShare(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return t.lockRow(ctx, id)
}

func (t *memoryTx) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return t.lockRow(ctx, id)
}

func (t *memoryTx) lockRow(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, ok := t.store.messages[id]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	out := *row
	out.Attachment = nil
	return &out, nil
}

func (t *memoryTx) LockCoursePins(ctx context.Context, courseID uuid.UUID) error {
	return ctx.Err()
}

func (t *memoryTx) Insert(ctx context.Context, message *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	message.CreatedAt = t.store.tick()

	row := &domain.Message{
		ID:              message.ID,
		CourseID:        message.CourseID,
		SenderID:        message.SenderID,
		ParentMessageID: message.ParentMessageID,
		Content:         message.Content,
		Type:            message.Type,
		CreatedAt:       message.CreatedAt,
	}
	t.store.messages[row.ID] = row
	t.undo = append(t.undo, func() { delete(t.store.messages, row.ID) })
	return nil
}

func (t *memoryTx) InsertAttachment(ctx context.Context, attachment *domain.Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, ok := t.store.messages[attachment.MessageID]
	if !ok {
		return apperrors.ErrMessageNotFound
	}
	if attachment.ID == uuid.Nil {
		attachment.ID = uuid.New()
	}
	t.snapshot(row)
	att := *attachment
	row.Attachment = &att
	return nil
}

func (t *memoryTx) ClearPins(ctx context.Context, courseID, exceptID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range t.store.messages {
		if row.CourseID != courseID || !row.Pinned || row.ID == exceptID {
			continue
		}
		t.snapshot(row)
		clearPinFields(row)
		n++
	}
	return n, nil
}

func (t *memoryTx) SetPin(ctx context.Context, id, actorID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, ok := t.store.messages[id]
	if !ok {
		return apperrors.ErrMessageNotFound
	}
	t.snapshot(row)
	row.Pinned = true
	row.PinnedAt = lo.ToPtr(at)
	row.PinnedByID = lo.ToPtr(actorID)
	return nil
}

func (t *memoryTx) ClearPin(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	row, ok := t.store.messages[id]
	if !ok || !row.Pinned {
		return false, nil
	}
	t.snapshot(row)
	clearPinFields(row)
	return true, nil
}

func (t *memoryTx) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	row, ok := t.store.messages[id]
	if !ok || row.Deleted {
		return false, nil
	}
	t.snapshot(row)
	row.Deleted = true
	return true, nil
}

func clearPinFields(row *domain.Message) {
	row.Pinned = false
	row.PinnedAt = nil
	row.PinnedByID = nil
}
