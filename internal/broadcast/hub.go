package broadcast

import (
	"context"
	"fmt"
	"sync"

	"course_messaging/internal/domain"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode renders an event envelope once; the same bytes go to every session.
func Encode(event domain.Event) ([]byte, error) {
	frame, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event.Kind, err)
	}
	return frame, nil
}

// Session is one websocket connection as seen by the hub. Frames are queued
// on a bounded buffer drained by the connection's writer.
type Session struct {
	ID     uuid.UUID
	UserID uuid.UUID

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewSession(userID uuid.UUID, buffer int) *Session {
	return &Session{
		ID:     uuid.New(),
		UserID: userID,
		send:   make(chan []byte, buffer),
	}
}

// Send is closed once the session is dropped or unregistered.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// Enqueue never blocks; it reports false when the session is closed or its
// buffer is full.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}

// Hub fans events out to the sessions subscribed to a course in this process.
type Hub struct {
	mu       sync.RWMutex
	courses  map[uuid.UUID]map[*Session]struct{}
	sessions map[*Session]map[uuid.UUID]struct{}

	metrics *Metrics
	log     logger.Logger
}

func NewHub(metrics *Metrics, log logger.Logger) *Hub {
	return &Hub{
		courses:  make(map[uuid.UUID]map[*Session]struct{}),
		sessions: make(map[*Session]map[uuid.UUID]struct{}),
		metrics:  metrics,
		log:      log.With("component", "hub"),
	}
}

func (h *Hub) Register(s *Session, courseIDs []uuid.UUID) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.sessions[s] = make(map[uuid.UUID]struct{})
		h.metrics.Sessions.Inc()
	}
	for _, courseID := range courseIDs {
		h.subscribeLocked(s, courseID)
	}
	h.mu.Unlock()

	h.log.Debug("Session registered", "session_id", s.ID, "user_id", s.UserID, "courses", len(courseIDs))
}

// Subscribe adds a registered session to one more course channel.
func (h *Hub) Subscribe(s *Session, courseID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		h.subscribeLocked(s, courseID)
	}
}

func (h *Hub) subscribeLocked(s *Session, courseID uuid.UUID) {
	subscribers, ok := h.courses[courseID]
	if !ok {
		subscribers = make(map[*Session]struct{})
		h.courses[courseID] = subscribers
	}
	subscribers[s] = struct{}{}
	h.sessions[s][courseID] = struct{}{}
}

// Unregister removes the session from every course and closes its buffer.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	courseIDs, ok := h.sessions[s]
	if ok {
		for courseID := range courseIDs {
			delete(h.courses[courseID], s)
			if len(h.courses[courseID]) == 0 {
				delete(h.courses, courseID)
			}
		}
		delete(h.sessions, s)
		h.metrics.Sessions.Dec()
	}
	h.mu.Unlock()

	s.close()
}

// Publish delivers to this process only. It serves when no relay is live.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	frame, err := Encode(event)
	if err != nil {
		return err
	}
	h.metrics.Published.WithLabelValues(string(event.Kind)).Inc()
	h.Deliver(event.CourseID, frame)
	return nil
}

// Deliver queues an encoded frame on every session of the course. Sessions
// whose buffer is full are dropped rather than waited for.
func (h *Hub) Deliver(courseID uuid.UUID, frame []byte) {
	h.mu.RLock()
	var slow []*Session
	for s := range h.courses[courseID] {
		if !s.Enqueue(frame) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.log.Warn("Dropping slow session", "session_id", s.ID, "user_id", s.UserID, "course_id", courseID)
		h.metrics.DroppedSessions.Inc()
		h.Unregister(s)
	}
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Subscribers(courseID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.courses[courseID])
}
