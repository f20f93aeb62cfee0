package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/core"
)

// RoomHandlers provides HTTP handlers for room lifecycle endpoints.
type RoomHandlers struct {
	directory *core.Directory
	rooms     *core.Rooms
	log       *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(directory *core.Directory, rooms *core.Rooms, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		directory: directory,
		rooms:     rooms,
		log:       logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	DisplayName string `json:"display_name" binding:"omitempty,min=1,max=32"`
}

// JoinRoomRequest represents the join room request body.
type JoinRoomRequest struct {
	Code        string `json:"code" binding:"required"`
	DisplayName string `json:"display_name" binding:"omitempty,min=1,max=32"`
}

// LeaveRoomRequest represents the leave room request body.
type LeaveRoomRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

// RoomRefResponse identifies a created or joined room.
type RoomRefResponse struct {
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

// LeaveResponse reports how many member rows the leave removed.
type LeaveResponse struct {
	Removed int64 `json:"removed"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID      string  `json:"id"`
	Code    string  `json:"code"`
	Status  string  `json:"status"`
	HostUID *string `json:"host_uid"`
	Seed    string  `json:"seed"`
}

// MemberResponse represents a room member in API responses.
type MemberResponse struct {
	UID         string  `json:"uid"`
	SeatIndex   int     `json:"seat_index"`
	DisplayName string  `json:"display_name"`
	CharacterID *string `json:"character_id"`
	IsReady     bool    `json:"is_ready"`
}

// SnapshotResponse is the room plus its members ordered by seat.
type SnapshotResponse struct {
	Room    RoomResponse     `json:"room"`
	Members []MemberResponse `json:"members"`
}

// CharacterResponse represents a catalog entry in API responses.
type CharacterResponse struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	ModelURL *string `json:"model_url,omitempty"`
}

// httpStatusOf maps a domain error onto an HTTP status.
func httpStatusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotMember), errors.Is(err, core.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotJoinable),
		errors.Is(err, core.ErrNotAllReady),
		errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrCharacterUnavailable):
		return http.StatusConflict
	case errors.Is(err, core.ErrAllocationExhausted),
		errors.Is(err, core.ErrSeatAllocationExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *RoomHandlers) writeError(c *gin.Context, err error) {
	c.JSON(httpStatusOf(err), ErrorResponse{Error: err.Error(), Code: core.CodeOf(err)})
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, ok := callerUID(c)
	if !ok {
		h.log.Error().Msg("uid not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = callerUsername(c)
	}

	ref, err := h.directory.CreateRoom(c.Request.Context(), uid, displayName)
	if err != nil {
		// A partial create still reports the room so the client can
		// recover by joining it.
		if errors.Is(err, core.ErrPartialCreate) && ref != nil {
			h.log.Error().Err(err).Str("room_id", ref.RoomID).Msg("room created without host membership")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "room created but join failed, retry join", Code: core.CodeOf(err)})
			return
		}
		h.log.Error().Err(err).Str("uid", uid).Msg("failed to create room")
		h.writeError(c, err)
		return
	}

	h.log.Info().Str("room_id", ref.RoomID).Str("code", ref.Code).Str("uid", uid).Msg("room created successfully")
	c.JSON(http.StatusCreated, RoomRefResponse{RoomID: ref.RoomID, Code: ref.Code})
}

// JoinRoom handles joining a room by code.
// POST /api/rooms/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	uid, ok := callerUID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid join room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = callerUsername(c)
	}

	ref, err := h.directory.JoinRoom(c.Request.Context(), req.Code, uid, displayName)
	if err != nil {
		h.log.Debug().Err(err).Str("code", req.Code).Str("uid", uid).Msg("join room failed")
		h.writeError(c, err)
		return
	}

	h.log.Info().Str("room_id", ref.RoomID).Str("uid", uid).Msg("member joined room")
	c.JSON(http.StatusOK, RoomRefResponse{RoomID: ref.RoomID, Code: ref.Code})
}

// LeaveRoom handles leaving a room.
// POST /api/rooms/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	uid, ok := callerUID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req LeaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid leave room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.directory.LeaveRoom(c.Request.Context(), req.RoomID, uid)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", req.RoomID).Str("uid", uid).Msg("leave room failed")
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, LeaveResponse{Removed: res.Removed})
}

// Members returns the room's current snapshot.
// GET /api/rooms/:id/members
func (h *RoomHandlers) Members(c *gin.Context) {
	roomID := c.Param("id")

	snap, err := h.rooms.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := SnapshotResponse{
		Room: RoomResponse{
			ID:      snap.Room.ID,
			Code:    snap.Room.Code,
			Status:  string(snap.Room.Status),
			HostUID: snap.Room.HostUID,
			Seed:    snap.Room.Seed,
		},
		Members: make([]MemberResponse, 0, len(snap.Members)),
	}
	for _, m := range snap.Members {
		resp.Members = append(resp.Members, MemberResponse{
			UID:         m.UID,
			SeatIndex:   m.SeatIndex,
			DisplayName: m.DisplayName,
			CharacterID: m.CharacterID,
			IsReady:     m.IsReady,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// Characters lists the assignable character pool.
// GET /api/characters
func (h *RoomHandlers) Characters(c *gin.Context) {
	chars, err := h.rooms.Characters(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list characters")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]CharacterResponse, 0, len(chars))
	for _, ch := range chars {
		resp = append(resp, CharacterResponse{
			ID:       ch.ID,
			Label:    ch.Label,
			ModelURL: ch.ModelURL,
		})
	}

	c.JSON(http.StatusOK, resp)
}
