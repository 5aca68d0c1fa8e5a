package repository

import (
	"course_messaging/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Repositories struct {
	Message   MessageRepository
	Course    CourseRepository
	RateLimit RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Message: NewMessageRepository(db, log),
		Course:  NewCourseRepository(db, log),
	}

	if redis != nil {
		repos.RateLimit = NewRateLimitRepository(redis, log)
	} else {
		log.Warn("Redis is not configured, message rate limiting is disabled")
	}

	log.Info("Postgres repositories initialized")
	return repos
}

// NewMemoryRepositories wires the in-process stores. Rate limiting still
// uses redis when a client is given.
func NewMemoryRepositories(store *MemoryStore, courses *MemoryCourses, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Message: store,
		Course:  courses,
	}
	if redis != nil {
		repos.RateLimit = NewRateLimitRepository(redis, log)
	}

	log.Warn("Using in-memory storage, data is lost on restart")
	return repos
}
