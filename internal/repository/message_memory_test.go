package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"course_messaging/internal/domain"
	apperrors "course_messaging/pkg/errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertText(t *testing.T, store *MemoryStore, courseID uuid.UUID, parent *uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		CourseID:        courseID,
		SenderID:        uuid.New(),
		ParentMessageID: parent,
		Content:         lo.ToPtr(content),
		Type:            domain.MessageTypeText,
	}
	require.NoError(t, store.RunInTx(context.Background(), func(tx MessageTx) error {
		return tx.Insert(context.Background(), msg)
	}))
	return msg
}

func TestMemoryStoreRollsBackFailedTransaction(t *testing.T) {
	store := NewMemoryStore()
	courseID := uuid.New()
	boom := errors.New("boom")

	var inserted uuid.UUID
	err := store.RunInTx(context.Background(), func(tx MessageTx) error {
		msg := &domain.Message{CourseID: courseID, SenderID: uuid.New(), Type: domain.MessageTypeFile}
		require.NoError(t, tx.Insert(context.Background(), msg))
		inserted = msg.ID
		require.NoError(t, tx.InsertAttachment(context.Background(), &domain.Attachment{
			MessageID: msg.ID, FileName: "a.pdf", MimeType: "application/pdf", Size: 1, URL: "https://x/a.pdf",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetByID(context.Background(), inserted)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
}

func TestMemoryStoreRollsBackOnCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	pinned := insertText(t, store, uuid.New(), nil, "pin me")

	ctx, cancel := context.WithCancel(context.Background())
	err := store.RunInTx(ctx, func(tx MessageTx) error {
		require.NoError(t, tx.SetPin(ctx, pinned.ID, uuid.New(), time.Now()))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.GetByID(context.Background(), pinned.ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
	assert.Nil(t, got.PinnedAt)
}

func TestMemoryStoreListOrdersByPositionWithTies(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })
	courseID := uuid.New()

	for i := 0; i < 5; i++ {
		insertText(t, store, courseID, nil, "same instant")
	}

	page, err := store.List(context.Background(), ListQuery{CourseID: courseID, Scope: ScopeTopLevel, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 5)
	for i := 1; i < len(page); i++ {
		assert.True(t, page[i].Position().After(page[i-1].Position()))
	}

	after := page[1].Position()
	rest, err := store.List(context.Background(), ListQuery{CourseID: courseID, Scope: ScopeTopLevel, After: &after, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, lo.Map(page[2:], func(m *domain.Message, _ int) uuid.UUID { return m.ID }),
		lo.Map(rest, func(m *domain.Message, _ int) uuid.UUID { return m.ID }))
}

func TestMemoryStoreSearchMatchesContentAndFileName(t *testing.T) {
	store := NewMemoryStore()
	courseID := uuid.New()
	top := insertText(t, store, courseID, nil, "Exam schedule")
	insertText(t, store, courseID, &top.ID, "see the EXAM room")
	insertText(t, store, uuid.New(), nil, "exam elsewhere")

	file := &domain.Message{CourseID: courseID, SenderID: uuid.New(), Type: domain.MessageTypeFile}
	require.NoError(t, store.RunInTx(context.Background(), func(tx MessageTx) error {
		if err := tx.Insert(context.Background(), file); err != nil {
			return err
		}
		return tx.InsertAttachment(context.Background(), &domain.Attachment{
			MessageID: file.ID, FileName: "exam-notes.pdf", MimeType: "application/pdf", Size: 10, URL: "https://x/n.pdf",
		})
	}))

	hits, err := store.List(context.Background(), ListQuery{CourseID: courseID, Scope: ScopeSearch, Term: "exam", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestMemoryStoreReplySummaries(t *testing.T) {
	store := NewMemoryStore()
	courseID := uuid.New()
	parent := insertText(t, store, courseID, nil, "Q")
	insertText(t, store, courseID, &parent.ID, "first")
	last := insertText(t, store, courseID, &parent.ID, "  second  ")
	lonely := insertText(t, store, courseID, nil, "nobody answers")

	summaries, err := store.ReplySummaries(context.Background(), []uuid.UUID{parent.ID, lonely.ID})
	require.NoError(t, err)

	assert.Equal(t, 2, summaries[parent.ID].ReplyCount)
	require.NotNil(t, summaries[parent.ID].LatestReply)
	assert.Equal(t, last.ID, summaries[parent.ID].LatestReply.ID)
	assert.Equal(t, "second", *summaries[parent.ID].LatestReply.Preview)
	assert.Equal(t, domain.ReplySummary{}, summaries[lonely.ID])

	require.NoError(t, store.RunInTx(context.Background(), func(tx MessageTx) error {
		_, err := tx.SoftDelete(context.Background(), last.ID)
		return err
	}))
	summaries, err = store.ReplySummaries(context.Background(), []uuid.UUID{parent.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, summaries[parent.ID].ReplyCount)
	assert.Equal(t, "first", *summaries[parent.ID].LatestReply.Preview)
}

func TestMemoryStorePositionIncludesDeletedRows(t *testing.T) {
	store := NewMemoryStore()
	courseID := uuid.New()
	msg := insertText(t, store, courseID, nil, "gone soon")
	require.NoError(t, store.RunInTx(context.Background(), func(tx MessageTx) error {
		_, err := tx.SoftDelete(context.Background(), msg.ID)
		return err
	}))

	pos, err := store.Position(context.Background(), courseID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, pos.ID)

	_, err = store.Position(context.Background(), uuid.New(), msg.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCursor)
	_, err = store.Position(context.Background(), courseID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrInvalidCursor)
}
