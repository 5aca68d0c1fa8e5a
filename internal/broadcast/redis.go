package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"course_messaging/internal/domain"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "course:"
	channelSuffix  = ":events"
	channelPattern = channelPrefix + "*" + channelSuffix
)

func courseChannel(courseID uuid.UUID) string {
	return channelPrefix + courseID.String() + channelSuffix
}

func courseFromChannel(channel string) (uuid.UUID, error) {
	if !strings.HasPrefix(channel, channelPrefix) || !strings.HasSuffix(channel, channelSuffix) {
		return uuid.Nil, fmt.Errorf("unexpected channel %q", channel)
	}
	return uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(channel, channelPrefix), channelSuffix))
}

// RedisRelay publishes every event once to the course's redis channel and
// feeds what it receives back into the local hub, so sessions on every
// instance see the same stream. While the relay is not subscribed, events go
// to local sessions only.
type RedisRelay struct {
	client    *redis.Client
	hub       *Hub
	metrics   *Metrics
	log       logger.Logger
	listening atomic.Bool
}

func NewRedisRelay(client *redis.Client, hub *Hub, metrics *Metrics, log logger.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		hub:     hub,
		metrics: metrics,
		log:     log.With("component", "redis_relay"),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event domain.Event) error {
	if !r.listening.Load() {
		return r.hub.Publish(ctx, event)
	}

	frame, err := Encode(event)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, courseChannel(event.CourseID), frame).Err(); err != nil {
		r.metrics.PublishFailures.Inc()
		// Local sessions still get the event.
		r.hub.Deliver(event.CourseID, frame)
		return fmt.Errorf("publish to redis: %w", err)
	}

	r.metrics.Published.WithLabelValues(string(event.Kind)).Inc()
	return nil
}

// Listening reports whether the course channel subscription is live.
func (r *RedisRelay) Listening() bool {
	return r.listening.Load()
}

// Start subscribes to every course channel and returns once the subscription
// is confirmed. Messages are relayed into the hub until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", channelPattern, err)
	}

	r.listening.Store(true)
	r.log.Info("Relay subscribed", "pattern", channelPattern)
	go r.run(ctx, pubsub)
	return nil
}

func (r *RedisRelay) run(ctx context.Context, pubsub *redis.PubSub) {
	defer func() {
		r.listening.Store(false)
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.log.Warn("Relay subscription closed, delivering to local sessions only")
				return
			}
			courseID, err := courseFromChannel(msg.Channel)
			if err != nil {
				r.log.Warn("Ignoring relay message", "channel", msg.Channel, "error", err)
				continue
			}
			r.hub.Deliver(courseID, []byte(msg.Payload))
		}
	}
}
