package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"course_messaging/internal/config"
	apperrors "course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterRepo struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (r *counterRepo) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if r.counts == nil {
		r.counts = map[string]int64{}
	}
	r.counts[key]++
	return r.counts[key], nil
}

func TestRateLimitAllow(t *testing.T) {
	svc := NewRateLimitService(&counterRepo{}, config.RateLimitConfig{Messages: 2, Window: time.Minute}, logger.Nop())
	user := uuid.New()

	remaining, err := svc.Allow(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = svc.Allow(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = svc.Allow(context.Background(), user)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	_, err = svc.Allow(context.Background(), uuid.New())
	assert.NoError(t, err, "counters are per user")
}

func TestRateLimitFailsOpen(t *testing.T) {
	svc := NewRateLimitService(&counterRepo{err: errors.New("redis down")}, config.RateLimitConfig{Messages: 1, Window: time.Minute}, logger.Nop())

	for i := 0; i < 3; i++ {
		_, err := svc.Allow(context.Background(), uuid.New())
		assert.NoError(t, err)
	}
}
