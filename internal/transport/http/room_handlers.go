package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/core"
	"github.com/ieum-labs/roomsync/internal/proto"
	"github.com/ieum-labs/roomsync/internal/store"
)

// RoomHandlers provides HTTP handlers for room management and the history
// fetch path of client reconciliation.
type RoomHandlers struct {
	store   store.Store
	service *core.Service
	log     *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, service *core.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store:   st,
		service: service,
		log:     logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name           string  `json:"name" binding:"required,min=1,max=64"`
	Type           string  `json:"type"`
	ParticipantIDs []int64 `json:"participantIds"`
}

// AddParticipantRequest represents the add participant request body.
type AddParticipantRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	ParticipantCount int    `json:"participantCount,omitempty"`
	UnreadCount      int64  `json:"unreadCount"`
	LastMessageID    string `json:"lastMessageId,omitempty"`
	LastMessageAt    string `json:"lastMessageAt,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

// HistoryResponse is the one-shot snapshot the reconciliation buffer seeds
// from. Messages are newest first; clients reverse to chronological order.
type HistoryResponse struct {
	Messages []proto.MessageData `json:"messages"`
	HasMore  bool                `json:"hasMore"`
}

func roomResponse(room *store.Room, participantCount int, unread int64) RoomResponse {
	resp := RoomResponse{
		ID:               room.ID,
		Name:             room.Name,
		Type:             string(room.Type),
		ParticipantCount: participantCount,
		UnreadCount:      unread,
		CreatedAt:        room.CreatedAt.UTC().Format(time.RFC3339),
	}
	if room.LastMessageID != nil {
		resp.LastMessageID = *room.LastMessageID
	}
	if room.LastMessageAt != nil {
		resp.LastMessageAt = room.LastMessageAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	roomType := store.RoomTypeGroup
	if req.Type == string(store.RoomTypeDirect) {
		roomType = store.RoomTypeDirect
	}

	// Creator is always a participant.
	participants := append([]int64{uid}, req.ParticipantIDs...)

	room, err := h.store.CreateRoom(c.Request.Context(), req.Name, roomType, participants)
	if err != nil {
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_name", room.Name).Int64("room_id", room.ID).Int64("creator_id", uid).Msg("room created")
	c.JSON(http.StatusCreated, roomResponse(room, len(participants), 0))
}

// ListRooms lists rooms the authenticated user participates in, with
// viewer-relative unread counts.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	rooms, err := h.store.ListRoomsForUser(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, sum := range rooms {
		response = append(response, roomResponse(&sum.Room, sum.ParticipantCount, sum.UnreadCount))
	}

	c.JSON(http.StatusOK, response)
}

// GetRoom retrieves a single room.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	room, err := h.store.GetRoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to get room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	participants, err := h.store.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to list participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	unread, err := h.store.CountUnreadForUser(c.Request.Context(), roomID, uid)
	if err != nil {
		h.log.Warn().Err(err).Int64("room_id", roomID).Msg("failed to count unread")
	}

	c.JSON(http.StatusOK, roomResponse(room, len(participants), unread))
}

// AddParticipant adds a user to the room's authoritative participant list.
// POST /api/rooms/:id/participants
func (h *RoomHandlers) AddParticipant(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if _, err := h.store.GetRoomByID(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.AddParticipant(c.Request.Context(), roomID, req.UserID); err != nil {
		h.log.Error().Err(err).Int64("room_id", roomID).Int64("user_id", req.UserID).Msg("failed to add participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// History serves the paged message snapshot, newest first.
// GET /api/rooms/:id/messages?limit=&skip=
func (h *RoomHandlers) History(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	messages, err := h.service.History(c.Request.Context(), roomID, limit, skip)
	if err != nil {
		if errors.Is(err, core.ErrUnknownRoom) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to fetch history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]proto.MessageData, 0, len(messages))
	for _, msg := range messages {
		out = append(out, proto.MessageFromStore(msg))
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Messages: out,
		HasMore:  len(messages) == limit,
	})
}
