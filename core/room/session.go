package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"cotowatch/logger"
	"cotowatch/metrics"
	"cotowatch/model"

	"github.com/gorilla/websocket"
)

// StateCache holds playback state and presence. cache.RoomCache and
// cache.MemoryRoomCache satisfy it.
type StateCache interface {
	SetPlaybackState(ctx context.Context, roomID int64, state *model.RoomPlaybackState) error
	GetPlaybackState(ctx context.Context, roomID int64) (*model.RoomPlaybackState, error)
	UpdateUserPresence(ctx context.Context, roomID, userID int64) error
	RemoveUserPresence(ctx context.Context, roomID, userID int64) error
}

// Resolver supplies the static content of a room.
type Resolver interface {
	Resolve(ctx context.Context, room *model.Room) (*int64, string, error)
}

// Handler runs the realtime side of rooms: it opens sessions for upgraded
// connections and applies their inbound messages.
type Handler struct {
	hub      *Hub
	registry *Registry
	cache    StateCache
	content  Resolver
	now      func() time.Time
}

func NewHandler(hub *Hub, registry *Registry, cache StateCache, content Resolver) *Handler {
	return &Handler{hub: hub, registry: registry, cache: cache, content: content, now: time.Now}
}

// Serve drives one websocket connection until it closes.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn, room *model.Room, user *model.User) {
	client := NewClient(conn, room.ID, user)
	s, err := h.Open(ctx, room, client)
	if err != nil {
		logger.Warn("failed to open room session",
			logger.Int64("room", room.ID),
			logger.ErrorField(err))
		conn.Close()
		return
	}
	go client.WritePump()
	client.ReadPump(ctx, s.Handle)
	s.Close(context.WithoutCancel(ctx))
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosed
)

// Session is one participant connection moving through connecting, open and closed.
type Session struct {
	h      *Handler
	room   *model.Room
	client *Client

	mu    sync.Mutex
	state sessionState
}

// Open subscribes client to the room topic and sends it the chat history, the
// participant list and the current playback state.
func (h *Handler) Open(ctx context.Context, room *model.Room, client *Client) (*Session, error) {
	s := &Session{h: h, room: room, client: client}
	if err := h.hub.Subscribe(ctx, client); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.state = stateOpen
	s.mu.Unlock()
	metrics.WSConnections.Inc()

	history, err := h.registry.History(ctx, room.ID, HistoryLimit)
	if err != nil {
		logger.Warn("failed to load chat history", logger.Int64("room", room.ID), logger.ErrorField(err))
	}
	client.enqueue(historyPayload(history))

	names, err := h.registry.ParticipantNames(ctx, room.ID)
	if err != nil {
		logger.Warn("failed to load participants", logger.Int64("room", room.ID), logger.ErrorField(err))
	}
	client.enqueue(participantsPayload(names))
	client.enqueue(playerStatePayload(s.playbackState(ctx)))

	s.touchPresence(ctx)
	logger.Info("room session opened",
		logger.Int64("room", room.ID),
		logger.String("client", client.ID),
		logger.String("user", client.User.DisplayName()))
	return s, nil
}

// Close unsubscribes and tells the remaining members who is left. It is safe to call twice.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.state != stateOpen {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	s.mu.Unlock()

	s.h.hub.Unsubscribe(s.client)
	metrics.WSConnections.Dec()

	if s.client.Replaced() {
		return
	}
	if s.client.User.Authenticated() {
		if err := s.h.cache.RemoveUserPresence(ctx, s.room.ID, s.client.User.ID); err != nil {
			logger.Warn("failed to remove presence", logger.Int64("room", s.room.ID), logger.ErrorField(err))
		}
	}
	s.publishParticipants(ctx)
	logger.Info("room session closed",
		logger.Int64("room", s.room.ID),
		logger.String("client", s.client.ID))
}

// Handle applies one inbound frame. Frames that are not JSON objects, or whose
// type is unknown, are rebroadcast verbatim.
func (s *Session) Handle(ctx context.Context, data []byte) {
	in := parseInbound(data)
	msgType := ""
	if in != nil {
		msgType = in.str("type")
	}
	metrics.RoomMessages.WithLabelValues(metricLabel(msgType)).Inc()

	switch msgType {
	case MsgChat:
		s.handleChat(ctx, in)
	case MsgParticipantsUpdate:
		s.publishParticipants(ctx)
	case MsgPlaylistSelect:
		s.handlePlaylistSelect(ctx, in)
	case MsgPlay, MsgPause, MsgSeek, MsgKeyframe:
		s.handlePlayback(ctx, msgType, in, data)
	case MsgPing:
		s.touchPresence(ctx)
		s.client.enqueue(pongPayload(s.h.now().UnixMilli()))
	case MsgRequestState:
		s.client.enqueue(playerStatePayload(s.playbackState(ctx)))
	default:
		s.publish(ctx, data)
	}
}

func (s *Session) handleChat(ctx context.Context, in inbound) {
	text := strings.TrimSpace(in.str("message"))
	if text == "" {
		return
	}
	user := s.client.User
	system := in.boolean("system")

	label := user.DisplayName()
	if system {
		label = model.SystemUsername
	}
	msg := &model.ChatMessage{
		RoomID:    s.room.ID,
		Username:  label,
		Content:   text,
		IsSystem:  system || !user.Authenticated(),
		CreatedAt: s.h.now(),
	}
	if user.Authenticated() && !system {
		id := user.ID
		msg.UserID = &id
	}
	if err := s.h.registry.SaveMessage(ctx, msg); err != nil {
		logger.Error("failed to save chat message",
			logger.Int64("room", s.room.ID),
			logger.ErrorField(err))
	}
	s.publish(ctx, messagePayload(ChatLine{Username: label, Message: text, System: system}))
}

func (s *Session) handlePlaylistSelect(ctx context.Context, in inbound) {
	item := in.object("item")
	state := &model.RoomPlaybackState{
		Time:      0,
		Ts:        s.timestamp(in),
		IsPlaying: true,
		VideoID:   item.videoID("video_id"),
		HLSURL:    item.str("hls_url"),
	}
	s.saveState(ctx, state)
	s.publish(ctx, playlistChangePayload(in["item"], s.client.User.DisplayName()))
}

func (s *Session) handlePlayback(ctx context.Context, msgType string, in inbound, raw []byte) {
	offset, _ := in.number("time")
	current := s.playbackState(ctx)
	state := &model.RoomPlaybackState{
		Time:      offset,
		Ts:        s.timestamp(in),
		IsPlaying: msgType == MsgPlay || msgType == MsgKeyframe,
		VideoID:   current.VideoID,
		HLSURL:    current.HLSURL,
	}
	s.saveState(ctx, state)
	s.publish(ctx, raw)
}

// playbackState returns the cached state, or the room's static content paused at 0.
func (s *Session) playbackState(ctx context.Context) *model.RoomPlaybackState {
	st, err := s.h.cache.GetPlaybackState(ctx, s.room.ID)
	if err != nil {
		logger.Warn("failed to read playback state", logger.Int64("room", s.room.ID), logger.ErrorField(err))
	}
	if st != nil {
		return st
	}
	videoID, url, err := s.h.content.Resolve(ctx, s.room)
	if err != nil {
		logger.Warn("failed to resolve room content", logger.Int64("room", s.room.ID), logger.ErrorField(err))
	}
	return &model.RoomPlaybackState{
		Time:      0,
		Ts:        s.h.now().UnixMilli(),
		IsPlaying: false,
		VideoID:   videoID,
		HLSURL:    url,
	}
}

func (s *Session) saveState(ctx context.Context, state *model.RoomPlaybackState) {
	if err := s.h.cache.SetPlaybackState(ctx, s.room.ID, state); err != nil {
		logger.Warn("failed to store playback state", logger.Int64("room", s.room.ID), logger.ErrorField(err))
	}
}

func (s *Session) timestamp(in inbound) int64 {
	if ts, ok := in.number("ts"); ok && ts > 0 && ts < maxExactInt {
		return int64(ts)
	}
	return s.h.now().UnixMilli()
}

func (s *Session) touchPresence(ctx context.Context) {
	if !s.client.User.Authenticated() {
		return
	}
	if err := s.h.cache.UpdateUserPresence(ctx, s.room.ID, s.client.User.ID); err != nil {
		logger.Warn("failed to update presence", logger.Int64("room", s.room.ID), logger.ErrorField(err))
	}
}

func (s *Session) publishParticipants(ctx context.Context) {
	names, err := s.h.registry.ParticipantNames(ctx, s.room.ID)
	if err != nil {
		logger.Warn("failed to load participants", logger.Int64("room", s.room.ID), logger.ErrorField(err))
		return
	}
	s.publish(ctx, participantsPayload(names))
}

func (s *Session) publish(ctx context.Context, payload []byte) {
	if err := s.h.hub.Publish(ctx, s.client.topic(), payload); err != nil {
		logger.Warn("failed to publish to room",
			logger.Int64("room", s.room.ID),
			logger.ErrorField(err))
	}
}

func metricLabel(msgType string) string {
	switch msgType {
	case MsgChat, MsgParticipantsUpdate, MsgPlaylistSelect, MsgPlay, MsgPause,
		MsgSeek, MsgKeyframe, MsgPing, MsgRequestState:
		return msgType
	}
	return "other"
}
