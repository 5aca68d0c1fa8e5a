package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"course_messaging/internal/domain"
	"course_messaging/internal/middleware"
	"course_messaging/internal/service"
	"course_messaging/pkg/errors"
	"course_messaging/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	messageService service.MessageService
	log            logger.Logger
}

func NewMessageHandler(messageService service.MessageService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		log:            log,
	}
}

type CreateMessageRequest struct {
	Content         string     `json:"content" binding:"required"`
	ParentMessageID *uuid.UUID `json:"parentMessageId"`
}

type CreateFileMessageRequest struct {
	Attachment      domain.AttachmentInput `json:"attachment" binding:"required"`
	Caption         *string                `json:"caption"`
	ParentMessageID *uuid.UUID             `json:"parentMessageId"`
}

func (h *MessageHandler) List(c *gin.Context) {
	actor, courseID, ok := h.courseRequest(c)
	if !ok {
		return
	}
	req, ok := pageRequest(c)
	if !ok {
		return
	}

	page, err := h.messageService.FetchPage(c.Request.Context(), actor, courseID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *MessageHandler) Search(c *gin.Context) {
	actor, courseID, ok := h.courseRequest(c)
	if !ok {
		return
	}
	req, ok := pageRequest(c)
	if !ok {
		return
	}

	page, err := h.messageService.Search(c.Request.Context(), actor, courseID, c.Query("q"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *MessageHandler) Create(c *gin.Context) {
	actor, courseID, ok := h.courseRequest(c)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(fmt.Errorf("%w: %s", errors.ErrInvalidInput, err.Error()))
		return
	}

	var (
		result *domain.CreateMessageResult
		err    error
	)
	if req.ParentMessageID != nil {
		result, err = h.messageService.CreateReply(c.Request.Context(), actor, courseID, *req.ParentMessageID, req.Content)
	} else {
		result, err = h.messageService.CreateMessage(c.Request.Context(), actor, service.CreateMessageInput{
			CourseID: courseID,
			Content:  &req.Content,
			Type:     domain.MessageTypeText,
		})
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *MessageHandler) CreateFile(c *gin.Context) {
	actor, courseID, ok := h.courseRequest(c)
	if !ok {
		return
	}

	var req CreateFileMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(fmt.Errorf("%w: %s", errors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.messageService.CreateFileMessage(c.Request.Context(), actor, courseID, service.FileMessageInput{
		Attachment:      req.Attachment,
		Caption:         req.Caption,
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *MessageHandler) Get(c *gin.Context) {
	actor, courseID, messageID, ok := h.messageRequest(c)
	if !ok {
		return
	}

	message, err := h.messageService.GetMessage(c.Request.Context(), actor, courseID, messageID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, message)
}

// Attachment redirects to the stored file of a FILE message.
func (h *MessageHandler) Attachment(c *gin.Context) {
	actor, courseID, messageID, ok := h.messageRequest(c)
	if !ok {
		return
	}

	message, err := h.messageService.GetMessage(c.Request.Context(), actor, courseID, messageID)
	if err != nil {
		c.Error(err)
		return
	}
	if message.Attachment == nil {
		c.Error(errors.NewAPIError("message has no attachment", http.StatusNotFound))
		return
	}
	c.Redirect(http.StatusFound, message.Attachment.URL)
}

func (h *MessageHandler) Replies(c *gin.Context) {
	actor, courseID, messageID, ok := h.messageRequest(c)
	if !ok {
		return
	}
	req, ok := pageRequest(c)
	if !ok {
		return
	}

	page, err := h.messageService.FetchReplies(c.Request.Context(), actor, courseID, messageID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *MessageHandler) Pin(c *gin.Context) {
	actor, courseID, messageID, ok := h.messageRequest(c)
	if !ok {
		return
	}

	message, err := h.messageService.Pin(c.Request.Context(), actor, courseID, messageID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Unpin(c *gin.Context) {
	actor, courseID, messageID, ok := h.messageRequest(c)
	if !ok {
		return
	}

	message, err := h.messageService.Unpin(c.Request.Context(), actor, courseID, messageID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	actor, courseID, messageID, ok := h.messageRequest(c)
	if !ok {
		return
	}

	message, err := h.messageService.SoftDelete(c.Request.Context(), actor, courseID, messageID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) courseRequest(c *gin.Context) (domain.Actor, uuid.UUID, bool) {
	actor, ok := middleware.Actor(c)
	if !ok {
		c.Error(errors.ErrUnauthorized)
		return actor, uuid.Nil, false
	}
	courseID, err := uuid.Parse(c.Param("courseId"))
	if err != nil {
		c.Error(errors.NewAPIError("invalid course ID", http.StatusBadRequest))
		return actor, uuid.Nil, false
	}
	return actor, courseID, true
}

func (h *MessageHandler) messageRequest(c *gin.Context) (domain.Actor, uuid.UUID, uuid.UUID, bool) {
	actor, courseID, ok := h.courseRequest(c)
	if !ok {
		return actor, courseID, uuid.Nil, false
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.Error(errors.NewAPIError("invalid message ID", http.StatusBadRequest))
		return actor, courseID, uuid.Nil, false
	}
	return actor, courseID, messageID, true
}

func pageRequest(c *gin.Context) (service.PageRequest, bool) {
	req := service.PageRequest{Cursor: c.Query("cursor")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(fmt.Errorf("%w: limit must be a number", errors.ErrInvalidInput))
			return req, false
		}
		req.Limit = limit
	}
	return req, true
}
