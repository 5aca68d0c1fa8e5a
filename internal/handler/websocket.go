package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"course_messaging/internal/broadcast"
	"course_messaging/internal/config"
	"course_messaging/internal/domain"
	"course_messaging/internal/middleware"
	"course_messaging/internal/service"
	"course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ActionCourseMessage = "course_message"
	ActionPinMessage    = "pin_message"
	ActionUnpinMessage  = "unpin_message"
	ActionJoinCourse    = "join_course"
	ActionPing          = "ping"

	maxFrameSize  = 64 << 10
	writeWait     = 10 * time.Second
	actionTimeout = 15 * time.Second
)

type wsRequest struct {
	Action    string              `json:"action" validate:"required"`
	RequestID string              `json:"requestId"`
	Data      jsoniter.RawMessage `json:"data"`
}

type courseMessageData struct {
	CourseID        uuid.UUID  `json:"courseId" validate:"required"`
	Content         string     `json:"content" validate:"required"`
	ParentMessageID *uuid.UUID `json:"parentMessageId"`
}

type pinData struct {
	CourseID  uuid.UUID `json:"courseId" validate:"required"`
	MessageID uuid.UUID `json:"messageId" validate:"required"`
}

type joinCourseData struct {
	CourseID uuid.UUID `json:"courseId" validate:"required"`
}

type wsAck struct {
	Event     string           `json:"event"`
	RequestID string           `json:"requestId,omitempty"`
	Status    string           `json:"status"`
	Data      any              `json:"data,omitempty"`
	Error     *errors.APIError `json:"error,omitempty"`
}

// WebSocketHandler is the socket entry path. Each connection is one hub
// session subscribed to every course its user belongs to; actions go through
// the same services as REST and are answered with an ack.
type WebSocketHandler struct {
	authService    service.AuthService
	membership     service.MembershipService
	messageService service.MessageService
	rateLimit      service.RateLimitService
	hub            *broadcast.Hub
	cfg            config.WebSocketConfig
	upgrader       websocket.Upgrader
	validate       *validator.Validate
	log            logger.Logger
}

func NewWebSocketHandler(services *service.Services, hub *broadcast.Hub, cfg *config.Config, log logger.Logger) *WebSocketHandler {
	origin := cfg.Server.ClientOrigin
	return &WebSocketHandler{
		authService:    services.Auth,
		membership:     services.Membership,
		messageService: services.Message,
		rateLimit:      services.RateLimit,
		hub:            hub,
		cfg:            cfg.WebSocket,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return origin == "*" || r.Header.Get("Origin") == "" || r.Header.Get("Origin") == origin
			},
		},
		validate: validator.New(),
		log:      log.With("component", "websocket"),
	}
}

func (h *WebSocketHandler) Handle(c *gin.Context) {
	token, ok := middleware.BearerToken(c.Request)
	if !ok {
		c.Error(errors.ErrUnauthorized)
		return
	}
	actor, err := h.authService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.Error(err)
		return
	}

	courseIDs, err := h.membership.CoursesForUser(c.Request.Context(), actor.ID)
	if err != nil {
		c.Error(err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	session := broadcast.NewSession(actor.ID, h.cfg.SendBuffer)
	h.hub.Register(session, courseIDs)

	go h.writePump(conn, session)
	h.readPump(c.Request.Context(), conn, session, actor)
}

func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, session *broadcast.Session, actor domain.Actor) {
	defer h.hub.Unregister(session)

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, packet, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("WebSocket read error", "session_id", session.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var req wsRequest
		if err := json.Unmarshal(packet, &req); err != nil {
			h.reply(session, failure("", fmt.Errorf("%w: unable to parse command, requires json", errors.ErrInvalidInput)))
			continue
		}

		h.reply(session, h.dispatch(ctx, actor, session, req))
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, session *broadcast.Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-session.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("WebSocket write error", "session_id", session.ID, "error", err)
				h.hub.Unregister(session)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Unregister(session)
				return
			}
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, actor domain.Actor, session *broadcast.Session, req wsRequest) wsAck {
	if err := h.validate.Struct(req); err != nil {
		return failure(req.RequestID, fmt.Errorf("%w: action is required", errors.ErrInvalidInput))
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	switch req.Action {
	case ActionPing:
		return success(req.RequestID, "pong")

	case ActionCourseMessage:
		var data courseMessageData
		if err := h.decode(req.Data, &data); err != nil {
			return failure(req.RequestID, err)
		}
		if _, err := h.rateLimit.Allow(ctx, actor.ID); err != nil {
			return failure(req.RequestID, err)
		}

		var (
			result *domain.CreateMessageResult
			err    error
		)
		if data.ParentMessageID != nil {
			result, err = h.messageService.CreateReply(ctx, actor, data.CourseID, *data.ParentMessageID, data.Content)
		} else {
			result, err = h.messageService.CreateMessage(ctx, actor, service.CreateMessageInput{
				CourseID: data.CourseID,
				Content:  &data.Content,
				Type:     domain.MessageTypeText,
			})
		}
		if err != nil {
			return failure(req.RequestID, err)
		}
		return success(req.RequestID, result)

	case ActionPinMessage, ActionUnpinMessage:
		var data pinData
		if err := h.decode(req.Data, &data); err != nil {
			return failure(req.RequestID, err)
		}

		pin := h.messageService.Pin
		if req.Action == ActionUnpinMessage {
			pin = h.messageService.Unpin
		}
		message, err := pin(ctx, actor, data.CourseID, data.MessageID)
		if err != nil {
			return failure(req.RequestID, err)
		}
		return success(req.RequestID, message)

	case ActionJoinCourse:
		var data joinCourseData
		if err := h.decode(req.Data, &data); err != nil {
			return failure(req.RequestID, err)
		}
		membership, err := h.membership.CheckMembership(ctx, data.CourseID, actor.ID)
		if err != nil {
			return failure(req.RequestID, err)
		}
		h.hub.Subscribe(session, data.CourseID)
		return success(req.RequestID, membership)

	default:
		return failure(req.RequestID, fmt.Errorf("%w: unknown action %q", errors.ErrInvalidInput, req.Action))
	}
}

func (h *WebSocketHandler) decode(raw jsoniter.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: data is required", errors.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed data", errors.ErrInvalidInput)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrInvalidInput, err.Error())
	}
	return nil
}

func (h *WebSocketHandler) reply(session *broadcast.Session, ack wsAck) {
	frame, err := json.Marshal(ack)
	if err != nil {
		h.log.Error("Failed to encode ack", "error", err)
		return
	}
	if !session.Enqueue(frame) {
		h.log.Debug("Ack dropped, session buffer full", "session_id", session.ID)
	}
}

func success(requestID string, data any) wsAck {
	return wsAck{Event: "ack", RequestID: requestID, Status: "ok", Data: data}
}

func failure(requestID string, err error) wsAck {
	status := errors.HTTPStatusFromError(err)
	return wsAck{
		Event:     "ack",
		RequestID: requestID,
		Status:    "error",
		Error:     errors.NewAPIError(errors.PublicMessage(err), status),
	}
}
