package repository

import (
	"context"
	"errors"
	"sync"

	"course_messaging/internal/domain"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CourseRepository reads course ownership and enrollment. The tables are
// administered elsewhere; this side never writes them.
type CourseRepository interface {
	GetMembership(ctx context.Context, courseID, userID uuid.UUID) (domain.Membership, error)
	Exists(ctx context.Context, courseID uuid.UUID) (bool, error)
	ListCourseIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type courseRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewCourseRepository(db *pgxpool.Pool, log logger.Logger) CourseRepository {
	return &courseRepository{db: db, log: log}
}

func (r *courseRepository) GetMembership(ctx context.Context, courseID, userID uuid.UUID) (domain.Membership, error) {
	var membership domain.Membership
	query := `
		SELECT c.lecturer_id = $2,
			EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = c.id AND e.user_id = $2)
		FROM courses c
		WHERE c.id = $1
	`

	err := r.db.QueryRow(ctx, query, courseID, userID).Scan(&membership.IsLecturer, &membership.IsEnrolled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return membership, apperrors.ErrCourseNotFound
		}
		return membership, unavailable(r.log, "get membership", err)
	}
	return membership, nil
}

func (r *courseRepository) Exists(ctx context.Context, courseID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists)
	if err != nil {
		return false, unavailable(r.log, "course exists", err)
	}
	return exists, nil
}

func (r *courseRepository) ListCourseIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM courses WHERE lecturer_id = $1
		UNION
		SELECT course_id FROM enrollments WHERE user_id = $1
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, unavailable(r.log, "list user courses", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(r.log, "scan course id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemoryCourses is the in-process roster used with the memory driver and in tests.
type MemoryCourses struct {
	mu        sync.RWMutex
	lecturers map[uuid.UUID]uuid.UUID
	enrolled  map[uuid.UUID]map[uuid.UUID]struct{}
}

func NewMemoryCourses() *MemoryCourses {
	return &MemoryCourses{
		lecturers: make(map[uuid.UUID]uuid.UUID),
		enrolled:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *MemoryCourses) AddCourse(courseID, lecturerID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lecturers[courseID] = lecturerID
	if _, ok := c.enrolled[courseID]; !ok {
		c.enrolled[courseID] = make(map[uuid.UUID]struct{})
	}
}

func (c *MemoryCourses) Enroll(courseID, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.enrolled[courseID]; !ok {
		c.enrolled[courseID] = make(map[uuid.UUID]struct{})
	}
	c.enrolled[courseID][userID] = struct{}{}
}

func (c *MemoryCourses) GetMembership(ctx context.Context, courseID, userID uuid.UUID) (domain.Membership, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lecturer, ok := c.lecturers[courseID]
	if !ok {
		return domain.Membership{}, apperrors.ErrCourseNotFound
	}
	_, enrolled := c.enrolled[courseID][userID]
	return domain.Membership{IsLecturer: lecturer == userID, IsEnrolled: enrolled}, nil
}

func (c *MemoryCourses) Exists(ctx context.Context, courseID uuid.UUID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.lecturers[courseID]
	return ok, nil
}

func (c *MemoryCourses) ListCourseIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []uuid.UUID
	for courseID, lecturer := range c.lecturers {
		if lecturer == userID {
			ids = append(ids, courseID)
			continue
		}
		if _, ok := c.enrolled[courseID][userID]; ok {
			ids = append(ids, courseID)
		}
	}
	return ids, nil
}
