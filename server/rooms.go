package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"cotowatch/core/room"
	"cotowatch/model"

	"github.com/gorilla/mux"
)

// RoomAPI serves the room lifecycle over HTTP.
type RoomAPI struct {
	registry *room.Registry
	access   SessionAccess
}

func NewRoomAPI(registry *room.Registry, access SessionAccess) *RoomAPI {
	return &RoomAPI{registry: registry, access: access}
}

// roomView is a room as its viewer may see it. The access code only reaches the host.
type roomView struct {
	*model.Room
	ContentType  string   `json:"contentType"`
	AccessCode   string   `json:"accessCode,omitempty"`
	Participants []string `json:"participants"`
	IsHost       bool     `json:"isHost"`
}

func (h *RoomAPI) view(ctx context.Context, rm *model.Room, viewer *model.User) (*roomView, error) {
	names, err := h.registry.ParticipantNames(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	v := &roomView{
		Room:         rm,
		ContentType:  rm.ContentType(),
		Participants: names,
		IsHost:       viewer.Authenticated() && viewer.ID == rm.HostID,
	}
	if v.IsHost && rm.AccessCode != nil {
		v.AccessCode = *rm.AccessCode
	}
	return v, nil
}

func (h *RoomAPI) respondRoom(w http.ResponseWriter, r *http.Request, status int, rm *model.Room) {
	v, err := h.view(r.Context(), rm, UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, map[string]interface{}{"room": v})
}

func roomID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, room.ErrNotFound
	}
	return id, nil
}

type createRoomRequest struct {
	Name       string `json:"name"`
	VideoID    *int64 `json:"videoId"`
	PlaylistID *int64 `json:"playlistId"`
	Capacity   int    `json:"capacity"`
	IsPrivate  bool   `json:"isPrivate"`
	AccessCode string `json:"accessCode"`
}

// CreateRoomHandler creates a room hosted by the caller.
func (h *RoomAPI) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rm, err := h.registry.Create(r.Context(), UserFromContext(r.Context()), room.CreateParams{
		Name:       req.Name,
		VideoID:    req.VideoID,
		PlaylistID: req.PlaylistID,
		Capacity:   req.Capacity,
		IsPrivate:  req.IsPrivate,
		AccessCode: req.AccessCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondRoom(w, r, http.StatusCreated, rm)
}

// ListRoomsHandler lists public rooms, newest first.
func (h *RoomAPI) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	rooms, err := h.registry.ListPublic(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []*model.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// MyRoomsHandler lists the rooms the caller hosts, private ones with their codes.
func (h *RoomAPI) MyRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	user := UserFromContext(r.Context())
	rooms, err := h.registry.ListHosted(r.Context(), user, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]*roomView, 0, len(rooms))
	for _, rm := range rooms {
		v, err := h.view(r.Context(), rm, user)
		if err != nil {
			writeError(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": views})
}

// GetRoomHandler returns one room. Private rooms are hidden from callers that
// have no access to them.
func (h *RoomAPI) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := h.authorized(w, r)
	if !ok {
		return
	}
	h.respondRoom(w, r, http.StatusOK, rm)
}

// MessagesHandler returns the recent chat history, oldest first.
func (h *RoomAPI) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := h.authorized(w, r)
	if !ok {
		return
	}
	msgs, err := h.registry.History(r.Context(), rm.ID, room.HistoryLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (h *RoomAPI) authorized(w http.ResponseWriter, r *http.Request) (*model.Room, bool) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	rm, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if err := h.registry.Authorize(r.Context(), rm, UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return rm, true
}

type updateRoomRequest struct {
	Name           *string `json:"name"`
	Capacity       *int    `json:"capacity"`
	IsPrivate      *bool   `json:"isPrivate"`
	RegenerateCode bool    `json:"regenerateCode"`
}

// UpdateRoomHandler changes a room's settings. Host only.
func (h *RoomAPI) UpdateRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rm, err := h.registry.Update(r.Context(), id, UserFromContext(r.Context()), room.UpdateParams{
		Name:           req.Name,
		Capacity:       req.Capacity,
		IsPrivate:      req.IsPrivate,
		RegenerateCode: req.RegenerateCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondRoom(w, r, http.StatusOK, rm)
}

// DeleteRoomHandler removes a room with its participants and history. Host only.
func (h *RoomAPI) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.registry.Delete(r.Context(), id, UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JoinRoomHandler enrolls the caller. Private rooms need a proven access code first.
func (h *RoomAPI) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := h.authorized(w, r)
	if !ok {
		return
	}
	h.join(w, r, rm)
}

type joinByCodeRequest struct {
	AccessCode string `json:"accessCode"`
}

// JoinByCodeHandler proves the caller's session knows a private room's code and
// enrolls them.
func (h *RoomAPI) JoinByCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req joinByCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rm, err := h.registry.ProveAccess(r.Context(), req.AccessCode, UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.join(w, r, rm)
}

func (h *RoomAPI) join(w http.ResponseWriter, r *http.Request, rm *model.Room) {
	err := h.registry.Join(r.Context(), rm.ID, UserFromContext(r.Context()))
	if err != nil && !errors.Is(err, room.ErrAlreadyMember) {
		writeError(w, r, err)
		return
	}
	h.respondRoom(w, r, http.StatusOK, rm)
}

// LeaveRoomHandler removes the caller from the participants.
func (h *RoomAPI) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.registry.Leave(r.Context(), id, UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateCodeHandler replaces a private room's access code. Host only.
func (h *RoomAPI) RegenerateCodeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code, err := h.registry.RegenerateAccessCode(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessCode": code})
}

// LogoutHandler forgets every private room the caller's session proved access to.
func (h *RoomAPI) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	if u.SessionID != "" {
		if err := h.access.RevokeSession(r.Context(), u.SessionID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
