package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/core"
	"github.com/ieum-labs/roomsync/internal/proto"
	"github.com/ieum-labs/roomsync/internal/store"
)

// MessageHandlers provides HTTP handlers for the send path. Persistence
// happens here, before the core publishes; a failed send surfaces as an
// HTTP error and is never silently dropped.
type MessageHandlers struct {
	service *core.Service
	store   store.Store
	limiter *rateLimiter
	log     *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(service *core.Service, st store.Store, limiter *rateLimiter, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		service: service,
		store:   st,
		limiter: limiter,
		log:     logger,
	}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	RoomID int64             `json:"roomId" binding:"required"`
	Text   string            `json:"text"`
	Media  []store.MediaItem `json:"media"`
}

// MessageResponse wraps a created message.
type MessageResponse struct {
	Message proto.MessageData `json:"message"`
}

// SendMessage persists a message and triggers the room broadcast.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if !h.limiter.allow() {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), req.RoomID, uid, req.Text, req.Media)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownRoom):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		case errors.Is(err, core.ErrNotParticipant):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a room participant"})
		default:
			var coreErr *core.CoreError
			if errors.As(err, &coreErr) {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: coreErr.Message})
				return
			}
			h.log.Error().Err(err).Int64("room_id", req.RoomID).Msg("failed to send message")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, MessageResponse{Message: proto.MessageFromStore(msg)})
}

// DeleteMessage soft-deletes a message. Only the sender may delete.
// DELETE /api/messages/:id
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	id := c.Param("id")
	msg, err := h.store.GetMessage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if msg.SenderID != uid {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the sender can delete a message"})
		return
	}

	if err := h.store.SoftDeleteMessage(c.Request.Context(), id); err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("failed to delete message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}
