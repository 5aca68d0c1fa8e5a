package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"course_messaging/internal/domain"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

type ListScope int

const (
	ScopeTopLevel ListScope = iota
	ScopeReplies
	ScopeSearch
)

// ListQuery selects one keyset page of non-deleted messages of a course,
// ordered by (created_at, id) ascending.
type ListQuery struct {
	CourseID uuid.UUID
	Scope    ListScope
	ParentID uuid.UUID // ScopeReplies
	Term     string    // ScopeSearch, matched case-insensitively
	After    *domain.Position
	Limit    int
}

// MessageReader is the read side shared by the pool and by transactions.
type MessageReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	List(ctx context.Context, q ListQuery) ([]*domain.Message, error)
	// Position resolves a cursor id inside a course. Soft-deleted rows keep
	// their position; unknown ids and other courses yield ErrInvalidCursor.
	Position(ctx context.Context, courseID, id uuid.UUID) (domain.Position, error)
	ReplySummaries(ctx context.Context, parentIDs []uuid.UUID) (map[uuid.UUID]domain.ReplySummary, error)
}

// MessageTx is the write side, only reachable inside RunInTx.
type MessageTx interface {
	MessageReader
	// LockForShare returns the bare row and blocks concurrent updates to it
	// until the transaction ends.
	LockForShare(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// LockCoursePins serialises pin changes within one course.
	LockCoursePins(ctx context.Context, courseID uuid.UUID) error
	Insert(ctx context.Context, message *domain.Message) error
	InsertAttachment(ctx context.Context, attachment *domain.Attachment) error
	ClearPins(ctx context.Context, courseID, exceptID uuid.UUID) (int64, error)
	SetPin(ctx context.Context, id, actorID uuid.UUID, at time.Time) error
	ClearPin(ctx context.Context, id uuid.UUID) (bool, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
}

type MessageRepository interface {
	MessageReader
	// RunInTx runs fn in one transaction; any error from fn, or a context
	// cancelled before commit, rolls everything back.
	RunInTx(ctx context.Context, fn func(tx MessageTx) error) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type messageRepository struct {
	pgMessageReader
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{
		pgMessageReader: pgMessageReader{q: db, log: log},
		db:              db,
	}
}

func (r *messageRepository) RunInTx(ctx context.Context, fn func(tx MessageTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return unavailable(r.log, "begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(&pgMessageTx{pgMessageReader: pgMessageReader{q: tx, log: r.log}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(r.log, "commit transaction", err)
	}
	return nil
}

func unavailable(log logger.Logger, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Error("Storage operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", apperrors.ErrUnavailable, op, err)
}

const messageColumns = `
	m.id, m.course_id, m.sender_id, m.parent_message_id, m.content, m.type, m.created_at,
	m.pinned, m.pinned_at, m.pinned_by_id, m.deleted,
	s.id, s.display_name, s.email, s.global_role,
	p.id, p.display_name, p.email, p.global_role,
	a.id, a.file_name, a.mime_type, a.size, a.url
`

const messageJoins = `
	FROM messages m
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users p ON p.id = m.pinned_by_id
	LEFT JOIN message_attachments a ON a.message_id = m.id
`

type pgMessageReader struct {
	q   querier
	log logger.Logger
}

type nullableUser struct {
	ID          *uuid.UUID
	DisplayName *string
	Email       *string
	Role        *string
}

func (u nullableUser) summary() *domain.UserSummary {
	if u.ID == nil {
		return nil
	}
	return &domain.UserSummary{
		ID:          *u.ID,
		DisplayName: lo.FromPtr(u.DisplayName),
		Email:       lo.FromPtr(u.Email),
		Role:        lo.FromPtr(u.Role),
	}
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	message := &domain.Message{}
	var (
		sender, pinnedBy nullableUser
		msgType          string
		attID            *uuid.UUID
		attName, attMime *string
		attURL           *string
		attSize          *int64
	)

	err := row.Scan(
		&message.ID, &message.CourseID, &message.SenderID, &message.ParentMessageID, &message.Content,
		&msgType, &message.CreatedAt, &message.Pinned, &message.PinnedAt, &message.PinnedByID, &message.Deleted,
		&sender.ID, &sender.DisplayName, &sender.Email, &sender.Role,
		&pinnedBy.ID, &pinnedBy.DisplayName, &pinnedBy.Email, &pinnedBy.Role,
		&attID, &attName, &attMime, &attSize, &attURL,
	)
	if err != nil {
		return nil, err
	}

	message.Type = domain.MessageType(msgType)
	message.Sender = sender.summary()
	message.PinnedBy = pinnedBy.summary()
	if attID != nil {
		message.Attachment = &domain.Attachment{
			ID:        *attID,
			MessageID: message.ID,
			FileName:  lo.FromPtr(attName),
			MimeType:  lo.FromPtr(attMime),
			Size:      lo.FromPtr(attSize),
			URL:       lo.FromPtr(attURL),
		}
	}
	return message, nil
}

func (r *pgMessageReader) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + messageJoins + ` WHERE m.id = $1`

	message, err := scanMessage(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, unavailable(r.log, "get message", err)
	}
	return message, nil
}

func (r *pgMessageReader) List(ctx context.Context, q ListQuery) ([]*domain.Message, error) {
	where := []string{"m.course_id = $1", "NOT m.deleted"}
	args := []any{q.CourseID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch q.Scope {
	case ScopeTopLevel:
		where = append(where, "m.parent_message_id IS NULL")
	case ScopeReplies:
		where = append(where, "m.parent_message_id = "+next(q.ParentID))
	case ScopeSearch:
		pattern := next("%" + escapeLike(q.Term) + "%")
		where = append(where, fmt.Sprintf("(m.content ILIKE %s OR a.file_name ILIKE %s)", pattern, pattern))
	}

	if q.After != nil {
		where = append(where, fmt.Sprintf("(m.created_at, m.id) > (%s, %s)", next(q.After.CreatedAt), next(q.After.ID)))
	}

	query := `SELECT ` + messageColumns + messageJoins +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY m.created_at ASC, m.id ASC LIMIT ` + next(q.Limit)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(r.log, "list messages", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0, q.Limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable(r.log, "scan message", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(r.log, "list messages", err)
	}
	return messages, nil
}

func (r *pgMessageReader) Position(ctx context.Context, courseID, id uuid.UUID) (domain.Position, error) {
	var pos domain.Position
	err := r.q.QueryRow(ctx,
		`SELECT created_at, id FROM messages WHERE id = $1 AND course_id = $2`,
		id, courseID,
	).Scan(&pos.CreatedAt, &pos.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pos, apperrors.ErrInvalidCursor
		}
		return pos, unavailable(r.log, "resolve cursor", err)
	}
	return pos, nil
}

func (r *pgMessageReader) ReplySummaries(ctx context.Context, parentIDs []uuid.UUID) (map[uuid.UUID]domain.ReplySummary, error) {
	summaries := make(map[uuid.UUID]domain.ReplySummary, len(parentIDs))
	ids := lo.Uniq(parentIDs)
	for _, id := range ids {
		summaries[id] = domain.ReplySummary{}
	}
	if len(ids) == 0 {
		return summaries, nil
	}
	idArg := lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })

	rows, err := r.q.Query(ctx, `
		SELECT parent_message_id, COUNT(*)
		FROM messages
		WHERE parent_message_id = ANY($1::uuid[]) AND NOT deleted
		GROUP BY parent_message_id
	`, idArg)
	if err != nil {
		return nil, unavailable(r.log, "count replies", err)
	}
	for rows.Next() {
		var parentID uuid.UUID
		var count int
		if err := rows.Scan(&parentID, &count); err != nil {
			rows.Close()
			return nil, unavailable(r.log, "scan reply count", err)
		}
		summaries[parentID] = domain.ReplySummary{ReplyCount: count}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable(r.log, "count replies", err)
	}

	rows, err = r.q.Query(ctx, `
		SELECT DISTINCT ON (m.parent_message_id)
			m.parent_message_id, m.id, m.content, m.created_at,
			s.id, s.display_name, s.email, s.global_role,
			a.file_name
		FROM messages m
		LEFT JOIN users s ON s.id = m.sender_id
		LEFT JOIN message_attachments a ON a.message_id = m.id
		WHERE m.parent_message_id = ANY($1::uuid[]) AND NOT m.deleted
		ORDER BY m.parent_message_id, m.created_at DESC, m.id DESC
	`, idArg)
	if err != nil {
		return nil, unavailable(r.log, "latest replies", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			parentID uuid.UUID
			reply    domain.Message
			sender   nullableUser
			fileName *string
		)
		if err := rows.Scan(&parentID, &reply.ID, &reply.Content, &reply.CreatedAt,
			&sender.ID, &sender.DisplayName, &sender.Email, &sender.Role, &fileName); err != nil {
			return nil, unavailable(r.log, "scan latest reply", err)
		}
		reply.Sender = sender.summary()
		if fileName != nil {
			reply.Attachment = &domain.Attachment{FileName: *fileName}
		}
		summary := summaries[parentID]
		summary.LatestReply = domain.NewLatestReply(&reply)
		summaries[parentID] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(r.log, "latest replies", err)
	}
	return summaries, nil
}

type pgMessageTx struct {
	pgMessageReader
}

func (t *pgMessageTx) lockRow(ctx context.Context, id uuid.UUID, mode string) (*domain.Message, error) {
	message := &domain.Message{}
	var msgType string
	err := t.q.QueryRow(ctx, `
		SELECT id, course_id, sender_id, parent_message_id, type, created_at, pinned, deleted
		FROM messages WHERE id = $1 `+mode,
		id,
	).Scan(&message.ID, &message.CourseID, &message.SenderID, &message.ParentMessageID,
		&msgType, &message.CreatedAt, &message.Pinned, &message.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, unavailable(t.log, "lock message", err)
	}
	message.Type = domain.MessageType(msgType)
	return message, nil
}

func (t *pgMessageTx) LockForShare(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return t.lockRow(ctx, id, "FOR SHARE")
}

func (t *pgMessageTx) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return t.lockRow(ctx, id, "FOR UPDATE")
}

func (t *pgMessageTx) LockCoursePins(ctx context.Context, courseID uuid.UUID) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "course-pin:"+courseID.String())
	if err != nil {
		return unavailable(t.log, "lock course pins", err)
	}
	return nil
}

func (t *pgMessageTx) Insert(ctx context.Context, message *domain.Message) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO messages (id, course_id, sender_id, parent_message_id, content, type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, message.ID, message.CourseID, message.SenderID, message.ParentMessageID, message.Content, string(message.Type),
	).Scan(&message.CreatedAt)
	if err != nil {
		return unavailable(t.log, "insert message", err)
	}
	return nil
}

func (t *pgMessageTx) InsertAttachment(ctx context.Context, attachment *domain.Attachment) error {
	if attachment.ID == uuid.Nil {
		attachment.ID = uuid.New()
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO message_attachments (id, message_id, file_name, mime_type, size, url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, attachment.ID, attachment.MessageID, attachment.FileName, attachment.MimeType, attachment.Size, attachment.URL)
	if err != nil {
		return unavailable(t.log, "insert attachment", err)
	}
	return nil
}

func (t *pgMessageTx) ClearPins(ctx context.Context, courseID, exceptID uuid.UUID) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE messages SET pinned = false, pinned_at = NULL, pinned_by_id = NULL
		WHERE course_id = $1 AND pinned AND id <> $2
	`, courseID, exceptID)
	if err != nil {
		return 0, unavailable(t.log, "clear pins", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgMessageTx) SetPin(ctx context.Context, id, actorID uuid.UUID, at time.Time) error {
	_, err := t.q.Exec(ctx, `
		UPDATE messages SET pinned = true, pinned_at = $2, pinned_by_id = $3
		WHERE id = $1
	`, id, at, actorID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			t.log.Warn("Pin uniqueness violated", "message_id", id, "constraint", pgErr.ConstraintName)
		}
		return unavailable(t.log, "set pin", err)
	}
	return nil
}

func (t *pgMessageTx) ClearPin(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE messages SET pinned = false, pinned_at = NULL, pinned_by_id = NULL
		WHERE id = $1 AND pinned
	`, id)
	if err != nil {
		return false, unavailable(t.log, "clear pin", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgMessageTx) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `UPDATE messages SET deleted = true WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return false, unavailable(t.log, "soft delete message", err)
	}
	return tag.RowsAffected() > 0, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
