package server

import (
	"net/http"

	"cotowatch/core/room"
	"cotowatch/logger"

	"github.com/gorilla/websocket"
)

// RoomSocket upgrades /ws/rooms/{id} after checking the caller may watch the room.
type RoomSocket struct {
	registry *room.Registry
	sessions *room.Handler
	upgrader websocket.Upgrader
}

func NewRoomSocket(registry *room.Registry, sessions *room.Handler) *RoomSocket {
	return &RoomSocket{
		registry: registry,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs behind OptionalAuth: guests connect without a token.
func (h *RoomSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	rm, err := h.registry.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := UserFromContext(ctx)
	if err := h.registry.Authorize(ctx, rm, user); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.Int64("room", id), logger.ErrorField(err))
		return
	}
	logger.Debug("room connection opened",
		logger.Int64("room", id),
		logger.Int64("user", user.ID),
		logger.String("remote", r.RemoteAddr))
	h.sessions.Serve(ctx, conn, rm, user)
}
