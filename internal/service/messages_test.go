package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"course_messaging/internal/config"
	"course_messaging/internal/domain"
	"course_messaging/internal/repository"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	kind     domain.EventKind
	courseID uuid.UUID
	message  *domain.MessagePayload
	summary  *domain.ReplySummaryPayload
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) add(e recordedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBroadcaster) PublishNewMessage(courseID uuid.UUID, message *domain.MessagePayload) {
	b.add(recordedEvent{kind: domain.EventMessageNew, courseID: courseID, message: message})
}

func (b *recordingBroadcaster) PublishReplySummary(courseID uuid.UUID, summary *domain.ReplySummaryPayload) {
	b.add(recordedEvent{kind: domain.EventReplySummary, courseID: courseID, summary: summary})
}

func (b *recordingBroadcaster) PublishPinned(courseID uuid.UUID, message *domain.MessagePayload) {
	b.add(recordedEvent{kind: domain.EventMessagePinned, courseID: courseID, message: message})
}

func (b *recordingBroadcaster) PublishUnpinned(courseID uuid.UUID, message *domain.MessagePayload) {
	b.add(recordedEvent{kind: domain.EventMessageUnpinned, courseID: courseID, message: message})
}

func (b *recordingBroadcaster) kinds() []domain.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lo.Map(b.events, func(e recordedEvent, _ int) domain.EventKind { return e.kind })
}

func (b *recordingBroadcaster) last() recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[len(b.events)-1]
}

type fixture struct {
	svc      MessageService
	store    *repository.MemoryStore
	courses  *repository.MemoryCourses
	events   *recordingBroadcaster
	courseID uuid.UUID
	lecturer domain.Actor
	student  domain.Actor
	student2 domain.Actor
	outsider domain.Actor
	admin    domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    repository.NewMemoryStore(),
		events:   &recordingBroadcaster{},
		courseID: uuid.New(),
		lecturer: domain.Actor{ID: uuid.New(), Role: domain.RoleLecturer},
		student:  domain.Actor{ID: uuid.New(), Role: domain.RoleStudent},
		student2: domain.Actor{ID: uuid.New(), Role: domain.RoleStudent},
		outsider: domain.Actor{ID: uuid.New(), Role: domain.RoleStudent},
		admin:    domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
	}

	f.courses = repository.NewMemoryCourses()
	f.courses.AddCourse(f.courseID, f.lecturer.ID)
	f.courses.Enroll(f.courseID, f.student.ID)
	f.courses.Enroll(f.courseID, f.student2.ID)

	for _, a := range []domain.Actor{f.lecturer, f.student, f.student2} {
		f.store.AddUser(domain.UserSummary{ID: a.ID, DisplayName: "user " + a.ID.String()[:4], Role: a.Role})
	}

	log := logger.Nop()
	membership := NewMembershipService(f.courses, log)
	upload := config.UploadConfig{MaxSize: 20 << 20, AllowedTypes: []string{"application/pdf", "image/png"}}
	f.svc = NewMessageService(f.store, membership, f.events, upload, log)
	return f
}

func (f *fixture) post(t *testing.T, actor domain.Actor, content string) *domain.MessagePayload {
	t.Helper()
	res, err := f.svc.CreateMessage(context.Background(), actor, CreateMessageInput{
		CourseID: f.courseID,
		Content:  &content,
		Type:     domain.MessageTypeText,
	})
	require.NoError(t, err)
	return res.Message
}

func (f *fixture) reply(t *testing.T, actor domain.Actor, parentID uuid.UUID, content string) *domain.CreateMessageResult {
	t.Helper()
	res, err := f.svc.CreateReply(context.Background(), actor, f.courseID, parentID, content)
	require.NoError(t, err)
	return res
}

func TestPostTextMessageAppearsInFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	posted := f.post(t, f.student, "Hello")

	page, err := f.svc.FetchPage(ctx, f.student, f.courseID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Hello", *page.Items[0].Content)
	assert.False(t, page.Items[0].Pinned)
	assert.Zero(t, page.Items[0].ReplyCount)
	assert.Nil(t, page.NextCursor)

	require.NotNil(t, posted.Sender)
	assert.Equal(t, f.student.ID, posted.Sender.ID)
	assert.Equal(t, []domain.EventKind{domain.EventMessageNew}, f.events.kinds())
	assert.Same(t, posted, f.events.last().message)
}

func TestReplyUpdatesParentSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.post(t, f.student, "Question?")
	res := f.reply(t, f.student2, m1.ID, "Reply1")

	require.NotNil(t, res.ParentUpdate)
	assert.Equal(t, 1, res.ParentUpdate.ReplyCount)
	assert.Equal(t, "Reply1", *res.ParentUpdate.LatestReply.Preview)
	assert.Equal(t, m1.ID, res.ParentUpdate.MessageID)
	assert.Equal(t, m1.ID, *res.Message.ParentMessageID)
	assert.Equal(t,
		[]domain.EventKind{domain.EventMessageNew, domain.EventMessageNew, domain.EventReplySummary},
		f.events.kinds())
	assert.Same(t, res.ParentUpdate, f.events.last().summary)

	page, err := f.svc.FetchPage(ctx, f.student, f.courseID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "replies stay out of the top-level feed")
	assert.Equal(t, 1, page.Items[0].ReplyCount)
	assert.Equal(t, res.Message.ID, page.Items[0].LatestReply.ID)

	replies, err := f.svc.FetchReplies(ctx, f.student, f.courseID, m1.ID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, replies.Items, 1)
	assert.Equal(t, res.Message.ID, replies.Items[0].ID)
}

func TestReplyRejectsInvalidParents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	top := f.post(t, f.student, "top")
	child := f.reply(t, f.student, top.ID, "child").Message
	gone := f.post(t, f.student, "to be removed")
	_, err := f.svc.SoftDelete(ctx, f.lecturer, f.courseID, gone.ID)
	require.NoError(t, err)

	otherCourse := uuid.New()
	f.courses.AddCourse(otherCourse, f.lecturer.ID)
	foreign, err := f.svc.CreateMessage(ctx, f.lecturer, CreateMessageInput{
		CourseID: otherCourse, Content: lo.ToPtr("other course"), Type: domain.MessageTypeText,
	})
	require.NoError(t, err)

	cases := map[string]uuid.UUID{
		"missing parent":         uuid.New(),
		"nested reply":           child.ID,
		"deleted parent":         gone.ID,
		"parent in other course": foreign.Message.ID,
	}
	for name, parentID := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateReply(ctx, f.student, f.courseID, parentID, "nope")
			assert.ErrorIs(t, err, apperrors.ErrInvalidParent)
		})
	}
}

func TestCreateMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pdf := &domain.AttachmentInput{FileName: "w1.pdf", MimeType: "application/pdf", Size: 100, URL: "https://files/w1.pdf"}

	_, err := f.svc.CreateMessage(ctx, f.student, CreateMessageInput{CourseID: f.courseID, Content: lo.ToPtr("   "), Type: domain.MessageTypeText})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.CreateMessage(ctx, f.student, CreateMessageInput{CourseID: f.courseID, Content: lo.ToPtr("x"), Type: domain.MessageTypeText, Attachment: pdf})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.CreateMessage(ctx, f.student, CreateMessageInput{CourseID: f.courseID, Type: domain.MessageTypeFile})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.CreateFileMessage(ctx, f.student, f.courseID, FileMessageInput{
		Attachment: domain.AttachmentInput{FileName: "a.exe", MimeType: "application/x-msdownload", Size: 10, URL: "https://files/a.exe"},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.CreateFileMessage(ctx, f.student, f.courseID, FileMessageInput{
		Attachment: domain.AttachmentInput{FileName: "big.pdf", MimeType: "application/pdf", Size: 21 << 20, URL: "https://files/big.pdf"},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.CreateMessage(ctx, f.outsider, CreateMessageInput{CourseID: f.courseID, Content: lo.ToPtr("hi"), Type: domain.MessageTypeText})
	assert.ErrorIs(t, err, apperrors.ErrNotMember)

	_, err = f.svc.CreateMessage(ctx, f.student, CreateMessageInput{CourseID: uuid.New(), Content: lo.ToPtr("hi"), Type: domain.MessageTypeText})
	assert.ErrorIs(t, err, apperrors.ErrCourseNotFound)

	assert.Empty(t, f.events.kinds())
}

func TestFileMessageCarriesAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateFileMessage(ctx, f.student, f.courseID, FileMessageInput{
		Attachment: domain.AttachmentInput{FileName: "slides.pdf", MimeType: "application/pdf", Size: 2048, URL: "https://files/slides.pdf"},
	})
	require.NoError(t, err)

	msg := res.Message
	assert.Equal(t, domain.MessageTypeFile, msg.Type)
	assert.Nil(t, msg.Content)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "slides.pdf", msg.Attachment.FileName)
	assert.Equal(t, domain.AttachmentDownloadPath(f.courseID, msg.ID), msg.Attachment.DownloadURL)

	f.reply(t, f.student2, msg.ID, "thanks")
	hits, err := f.svc.Search(ctx, f.student, f.courseID, "SLIDES", PageRequest{})
	require.NoError(t, err)
	require.Len(t, hits.Items, 1)
	assert.Equal(t, msg.ID, hits.Items[0].ID)
	assert.Equal(t, 1, hits.Items[0].ReplyCount)
}

func TestPinSwapKeepsSinglePin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m2 := f.post(t, f.student, "m2")
	m3 := f.post(t, f.student, "m3")

	pinned, err := f.svc.Pin(ctx, f.lecturer, f.courseID, m2.ID)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)
	require.NotNil(t, pinned.PinnedBy)
	assert.Equal(t, f.lecturer.ID, pinned.PinnedBy.ID)

	_, err = f.svc.Pin(ctx, f.lecturer, f.courseID, m3.ID)
	require.NoError(t, err)

	page, err := f.svc.FetchPage(ctx, f.student, f.courseID, PageRequest{})
	require.NoError(t, err)
	byID := lo.KeyBy(page.Items, func(p *domain.MessagePayload) uuid.UUID { return p.ID })
	assert.False(t, byID[m2.ID].Pinned)
	assert.Nil(t, byID[m2.ID].PinnedAt)
	assert.True(t, byID[m3.ID].Pinned)

	last := f.events.last()
	assert.Equal(t, domain.EventMessagePinned, last.kind)
	assert.Equal(t, m3.ID, last.message.ID)
}

func TestPinRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	top := f.post(t, f.student, "top")
	child := f.reply(t, f.student, top.ID, "child").Message

	_, err := f.svc.Pin(ctx, f.student, f.courseID, top.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotLecturer)

	_, err = f.svc.Pin(ctx, f.lecturer, f.courseID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = f.svc.Pin(ctx, f.lecturer, f.courseID, child.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	gone := f.post(t, f.student, "gone")
	_, err = f.svc.SoftDelete(ctx, f.lecturer, f.courseID, gone.ID)
	require.NoError(t, err)
	_, err = f.svc.Pin(ctx, f.lecturer, f.courseID, gone.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
}

func TestUnpinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.post(t, f.student, "m")
	_, err := f.svc.Pin(ctx, f.lecturer, f.courseID, m.ID)
	require.NoError(t, err)

	first, err := f.svc.Unpin(ctx, f.lecturer, f.courseID, m.ID)
	require.NoError(t, err)
	assert.False(t, first.Pinned)
	eventsAfterFirst := len(f.events.kinds())
	assert.Equal(t, domain.EventMessageUnpinned, f.events.last().kind)

	second, err := f.svc.Unpin(ctx, f.lecturer, f.courseID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, f.events.kinds(), eventsAfterFirst)
}

func TestConcurrentPinsLeaveExactlyOnePinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		ids = append(ids, f.post(t, f.student, fmt.Sprintf("m%d", i)).ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id uuid.UUID, unpin bool) {
				defer wg.Done()
				if unpin {
					_, _ = f.svc.Unpin(ctx, f.lecturer, f.courseID, id)
					return
				}
				_, _ = f.svc.Pin(ctx, f.lecturer, f.courseID, id)
			}(id, i == 1)
		}
	}
	wg.Wait()

	_, err := f.svc.Pin(ctx, f.lecturer, f.courseID, ids[0])
	require.NoError(t, err)

	page, err := f.svc.FetchPage(ctx, f.student, f.courseID, PageRequest{Limit: 100})
	require.NoError(t, err)
	pinned := lo.Filter(page.Items, func(p *domain.MessagePayload, _ int) bool { return p.Pinned })
	require.Len(t, pinned, 1)
	assert.Equal(t, ids[0], pinned[0].ID)
}

func TestSoftDeleteClearsPinAndRefreshesThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	top := f.post(t, f.student, "top")
	r1 := f.reply(t, f.student, top.ID, "first").Message
	r2 := f.reply(t, f.student2, top.ID, "second").Message
	_, err := f.svc.Pin(ctx, f.lecturer, f.courseID, top.ID)
	require.NoError(t, err)

	_, err = f.svc.SoftDelete(ctx, f.student, f.courseID, r2.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotLecturer)

	deleted, err := f.svc.SoftDelete(ctx, f.admin, f.courseID, r2.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	update := f.events.last()
	require.Equal(t, domain.EventReplySummary, update.kind)
	assert.Equal(t, 1, update.summary.ReplyCount)
	assert.Equal(t, r1.ID, update.summary.LatestReply.ID)

	_, err = f.svc.SoftDelete(ctx, f.lecturer, f.courseID, top.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventMessageUnpinned, f.events.last().kind)

	_, err = f.svc.GetMessage(ctx, f.student, f.courseID, top.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	page, err := f.svc.FetchPage(ctx, f.student, f.courseID, PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestRollbackOnCancelledContextLeavesNothingVisible(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.CreateMessage(ctx, f.student, CreateMessageInput{CourseID: f.courseID, Content: lo.ToPtr("lost"), Type: domain.MessageTypeText})
	require.ErrorIs(t, err, context.Canceled)

	page, err := f.svc.FetchPage(context.Background(), f.student, f.courseID, PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, f.events.kinds())
}

func TestAdminReadsWithoutMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, f.student, "visible to admins")

	_, err := f.svc.FetchPage(ctx, f.outsider, f.courseID, PageRequest{})
	assert.ErrorIs(t, err, apperrors.ErrNotMember)

	hits, err := f.svc.Search(ctx, f.admin, f.courseID, "admins", PageRequest{})
	require.NoError(t, err)
	assert.Len(t, hits.Items, 1)

	_, err = f.svc.Search(ctx, f.admin, uuid.New(), "admins", PageRequest{})
	assert.ErrorIs(t, err, apperrors.ErrCourseNotFound)
}

func TestTimestampsTieBreakOnID(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return fixed })

	for i := 0; i < 6; i++ {
		f.post(t, f.student, fmt.Sprintf("tie %d", i))
	}

	first, err := f.svc.FetchPage(context.Background(), f.student, f.courseID, PageRequest{Limit: 3})
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor)
	second, err := f.svc.FetchPage(context.Background(), f.student, f.courseID, PageRequest{Limit: 3, Cursor: first.NextCursor.String()})
	require.NoError(t, err)

	all := append(first.Items, second.Items...)
	ids := lo.Map(all, func(p *domain.MessagePayload, _ int) uuid.UUID { return p.ID })
	assert.Len(t, lo.Uniq(ids), 6)
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, -1, domain.CompareIDs(ids[i-1], ids[i]))
	}
}
