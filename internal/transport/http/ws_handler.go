package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/auth"
	"github.com/greenroom-app/greenroom-server/internal/core"
	"github.com/greenroom-app/greenroom-server/internal/hub"
	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/proto"
	"github.com/greenroom-app/greenroom-server/internal/session"
)

// WSHandler upgrades HTTP connections and bridges them to a session actor.
type WSHandler struct {
	authService *auth.Service
	rooms       *core.Rooms
	bus         notify.Bus
	hub         *hub.Hub
	swapTimeout time.Duration
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(authService *auth.Service, rooms *core.Rooms, bus notify.Bus, h *hub.Hub, swapTimeout time.Duration, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		authService: authService,
		rooms:       rooms,
		bus:         bus,
		hub:         h,
		swapTimeout: swapTimeout,
		log:         logger,
	}
}

// Handle authenticates the upgrade request and runs the connection.
// GET /ws?room_id=<id>&token=<jwt>
func (h *WSHandler) Handle(c *gin.Context) {
	// Browsers cannot set headers on websocket upgrades, so the token
	// rides a query parameter.
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing token"})
		return
	}
	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}

	roomID := c.Query("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room_id is required"})
		return
	}

	// Only members get the change feed. Join happens over REST first.
	if _, err := h.rooms.Member(c.Request.Context(), roomID, claims.UID); err != nil {
		h.log.Debug().Err(err).Str("room_id", roomID).Str("uid", claims.UID).Msg("ws membership check failed")
		c.JSON(httpStatusOf(err), ErrorResponse{Error: err.Error(), Code: core.CodeOf(err)})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sess := session.New(session.Config{
		RoomID:      roomID,
		UID:         claims.UID,
		SessionID:   uuid.NewString(),
		Rooms:       h.rooms,
		Bus:         h.bus,
		Hub:         h.hub,
		SwapTimeout: h.swapTimeout,
		Logger:      h.log,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	cancel() // stop the other goroutine and the actor
	<-errCh
	<-done

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("uid", claims.UID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("type", inbound.Type).Msg("failed to map inbound")
			return err
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if cmd != nil {
			select {
			case sess.Commands() <- *cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	for {
		select {
		case event, ok := <-sess.Events():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
