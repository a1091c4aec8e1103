package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cotowatch/logger"
	"cotowatch/model"
	"cotowatch/repository"
)

// codeAttempts bounds retries when a generated access code collides with another room.
const codeAttempts = 5

// AccessProofs remembers which sessions have proven an access code.
// cache.AccessStore and cache.MemoryAccessStore satisfy it.
type AccessProofs interface {
	Grant(ctx context.Context, session string, roomID int64) error
	Has(ctx context.Context, session string, roomID int64) (bool, error)
}

// Publisher fans a payload out to a topic. *Hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Registry owns rooms, their participant sets and access codes.
type Registry struct {
	repo            repository.RoomRepository
	access          AccessProofs
	publisher       Publisher
	onDelete        func(ctx context.Context, roomID int64)
	defaultCapacity int
}

type RegistryOption func(*Registry)

// WithPublisher makes Join and Leave announce the new participant list.
func WithPublisher(p Publisher) RegistryOption {
	return func(r *Registry) { r.publisher = p }
}

// WithDefaultCapacity sets the capacity used when Create is given none.
func WithDefaultCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.defaultCapacity = n
		}
	}
}

// WithDeleteHook runs fn after a room is deleted, for cache cleanup.
func WithDeleteHook(fn func(ctx context.Context, roomID int64)) RegistryOption {
	return func(r *Registry) { r.onDelete = fn }
}

func NewRegistry(repo repository.RoomRepository, access AccessProofs, opts ...RegistryOption) *Registry {
	r := &Registry{repo: repo, access: access, defaultCapacity: model.DefaultRoomCapacity}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateParams describes a new room. Exactly one of VideoID and PlaylistID must be set.
type CreateParams struct {
	Name       string
	VideoID    *int64
	PlaylistID *int64
	Capacity   int
	IsPrivate  bool
	AccessCode string // optional; generated for private rooms when empty
}

// Create stores a room and enrolls its host.
func (r *Registry) Create(ctx context.Context, host *model.User, p CreateParams) (*model.Room, error) {
	if !host.Authenticated() {
		return nil, ErrForbidden
	}
	if (p.VideoID == nil) == (p.PlaylistID == nil) {
		return nil, ErrInvalidContent
	}
	capacity := p.Capacity
	if capacity <= 0 {
		capacity = r.defaultCapacity
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = host.Username + "'s room"
	}

	supplied := ""
	if p.IsPrivate && p.AccessCode != "" {
		supplied = NormalizeAccessCode(p.AccessCode)
		if !ValidAccessCode(supplied) {
			return nil, ErrInvalidAccessCode
		}
	}

	for attempt := 1; ; attempt++ {
		room := &model.Room{
			Name:       name,
			HostID:     host.ID,
			VideoID:    p.VideoID,
			PlaylistID: p.PlaylistID,
			Capacity:   capacity,
			IsPrivate:  p.IsPrivate,
			CreatedAt:  time.Now(),
		}
		if p.IsPrivate {
			code := supplied
			if code == "" {
				var err error
				if code, err = NewAccessCode(); err != nil {
					return nil, fmt.Errorf("generate access code: %w", err)
				}
			}
			room.AccessCode = &code
		}

		hostEntry := &model.RoomParticipant{UserID: host.ID, Username: host.Username}
		err := r.repo.Create(ctx, room, hostEntry)
		if err == nil {
			logger.Info("room created",
				logger.Int64("room", room.ID),
				logger.Int64("host", host.ID),
				logger.Bool("private", room.IsPrivate),
				logger.String("content", room.ContentType()))
			return room, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) || supplied != "" || attempt >= codeAttempts {
			return nil, fmt.Errorf("create room: %w", err)
		}
		logger.Warn("access code collision, regenerating", logger.Int("attempt", attempt))
	}
}

// Get returns the room or ErrNotFound.
func (r *Registry) Get(ctx context.Context, roomID int64) (*model.Room, error) {
	room, err := r.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrNotFound
	}
	return room, nil
}

// Join adds user to the room. A full room yields ErrCapacityExceeded; a repeat join
// yields ErrAlreadyMember and changes nothing.
func (r *Registry) Join(ctx context.Context, roomID int64, user *model.User) error {
	if !user.Authenticated() {
		return ErrForbidden
	}
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return err
	}
	err = r.repo.AddParticipant(ctx, &model.RoomParticipant{
		RoomID:   room.ID,
		UserID:   user.ID,
		Username: user.Username,
	}, room.Capacity)
	switch {
	case errors.Is(err, repository.ErrCapacityExceeded):
		return ErrCapacityExceeded
	case errors.Is(err, repository.ErrDuplicate):
		return ErrAlreadyMember
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("join room %d: %w", roomID, err)
	}

	logger.Info("user joined room", logger.Int64("room", roomID), logger.Int64("user", user.ID))
	r.announceParticipants(ctx, roomID)
	return nil
}

// Leave removes user from the room. Leaving a room one is not in is a no-op.
func (r *Registry) Leave(ctx context.Context, roomID int64, user *model.User) error {
	if !user.Authenticated() {
		return nil
	}
	if err := r.repo.RemoveParticipant(ctx, roomID, user.ID); err != nil {
		return fmt.Errorf("leave room %d: %w", roomID, err)
	}
	logger.Info("user left room", logger.Int64("room", roomID), logger.Int64("user", user.ID))
	r.announceParticipants(ctx, roomID)
	return nil
}

// ResolveByAccessCode finds the private room holding code. Codes match case-insensitively.
func (r *Registry) ResolveByAccessCode(ctx context.Context, code string) (*model.Room, error) {
	code = NormalizeAccessCode(code)
	if !ValidAccessCode(code) {
		return nil, ErrNotFound
	}
	room, err := r.repo.GetByAccessCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrNotFound
	}
	return room, nil
}

// ProveAccess resolves code and remembers the proof for the user's session.
func (r *Registry) ProveAccess(ctx context.Context, code string, user *model.User) (*model.Room, error) {
	room, err := r.ResolveByAccessCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if user == nil || user.SessionID == "" {
		return nil, ErrForbidden
	}
	if err := r.access.Grant(ctx, user.SessionID, room.ID); err != nil {
		return nil, fmt.Errorf("remember access proof: %w", err)
	}
	return room, nil
}

// RegenerateAccessCode replaces the code of a private room. The old code stops
// resolving immediately.
func (r *Registry) RegenerateAccessCode(ctx context.Context, roomID int64, actor *model.User) (string, error) {
	room, err := r.hostRoom(ctx, roomID, actor)
	if err != nil {
		return "", err
	}
	if !room.IsPrivate {
		return "", ErrNotPrivate
	}
	if err := r.assignNewCode(ctx, room); err != nil {
		return "", err
	}
	return *room.AccessCode, nil
}

// UpdateParams holds optional changes; nil fields are left alone.
type UpdateParams struct {
	Name           *string
	Capacity       *int
	IsPrivate      *bool
	RegenerateCode bool
}

// Update changes room settings. Going private issues a code, going public drops it.
func (r *Registry) Update(ctx context.Context, roomID int64, actor *model.User, p UpdateParams) (*model.Room, error) {
	room, err := r.hostRoom(ctx, roomID, actor)
	if err != nil {
		return nil, err
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		room.Name = strings.TrimSpace(*p.Name)
	}
	if p.Capacity != nil && *p.Capacity > 0 && *p.Capacity != room.Capacity {
		count, err := r.repo.CountParticipants(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("count participants of room %d: %w", roomID, err)
		}
		if int64(*p.Capacity) < count {
			return nil, ErrCapacityTooSmall
		}
		room.Capacity = *p.Capacity
	}
	newCode := p.RegenerateCode
	if p.IsPrivate != nil && *p.IsPrivate != room.IsPrivate {
		room.IsPrivate = *p.IsPrivate
		if room.IsPrivate {
			newCode = true
		} else {
			room.AccessCode = nil
			newCode = false
		}
	}
	if newCode {
		if !room.IsPrivate {
			return nil, ErrNotPrivate
		}
		if err := r.assignNewCode(ctx, room); err != nil {
			return nil, err
		}
		return room, nil
	}
	if err := r.repo.Update(ctx, room); err != nil {
		return nil, fmt.Errorf("update room %d: %w", roomID, err)
	}
	return room, nil
}

func (r *Registry) assignNewCode(ctx context.Context, room *model.Room) error {
	for attempt := 1; ; attempt++ {
		code, err := NewAccessCode()
		if err != nil {
			return fmt.Errorf("generate access code: %w", err)
		}
		room.AccessCode = &code
		err = r.repo.Update(ctx, room)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) || attempt >= codeAttempts {
			return fmt.Errorf("store access code: %w", err)
		}
	}
}

// Delete removes the room and its chat history. Only the host may delete.
func (r *Registry) Delete(ctx context.Context, roomID int64, actor *model.User) error {
	if _, err := r.hostRoom(ctx, roomID, actor); err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, roomID); err != nil {
		return fmt.Errorf("delete room %d: %w", roomID, err)
	}
	if r.onDelete != nil {
		r.onDelete(ctx, roomID)
	}
	logger.Info("room deleted", logger.Int64("room", roomID), logger.Int64("host", actor.ID))
	return nil
}

// ListPublic returns public rooms, newest first.
func (r *Registry) ListPublic(ctx context.Context, limit, offset int) ([]*model.Room, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return r.repo.ListPublic(ctx, limit, offset)
}

// ListHosted returns the rooms user hosts, private ones included, newest first.
func (r *Registry) ListHosted(ctx context.Context, user *model.User, limit, offset int) ([]*model.Room, error) {
	if !user.Authenticated() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return r.repo.ListByHost(ctx, user.ID, limit, offset)
}

// Authorize decides whether user may open the room's realtime channel. Public rooms
// are open to everyone. Private rooms admit the host, enrolled participants and
// sessions that proved the access code.
func (r *Registry) Authorize(ctx context.Context, room *model.Room, user *model.User) error {
	if !room.IsPrivate {
		return nil
	}
	if user.Authenticated() {
		if user.ID == room.HostID {
			return nil
		}
		p, err := r.repo.GetParticipant(ctx, room.ID, user.ID)
		if err != nil {
			return err
		}
		if p != nil {
			return nil
		}
	}
	if user != nil && user.SessionID != "" {
		ok, err := r.access.Has(ctx, user.SessionID, room.ID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrForbidden
}

// ParticipantNames lists participant usernames in join order.
func (r *Registry) ParticipantNames(ctx context.Context, roomID int64) ([]string, error) {
	ps, err := r.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Username)
	}
	return names, nil
}

// SaveMessage stores a chat line.
func (r *Registry) SaveMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.repo.CreateMessage(ctx, msg)
}

// History returns up to limit recent messages, oldest first.
func (r *Registry) History(ctx context.Context, roomID int64, limit int) ([]*model.ChatMessage, error) {
	return r.repo.RecentMessages(ctx, roomID, limit)
}

func (r *Registry) hostRoom(ctx context.Context, roomID int64, actor *model.User) (*model.Room, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !actor.Authenticated() || actor.ID != room.HostID {
		return nil, ErrForbidden
	}
	return room, nil
}

func (r *Registry) announceParticipants(ctx context.Context, roomID int64) {
	if r.publisher == nil {
		return
	}
	names, err := r.ParticipantNames(ctx, roomID)
	if err != nil {
		logger.Warn("failed to load participants", logger.Int64("room", roomID), logger.ErrorField(err))
		return
	}
	if err := r.publisher.Publish(ctx, Topic(roomID), participantsPayload(names)); err != nil {
		logger.Warn("failed to publish participants", logger.Int64("room", roomID), logger.ErrorField(err))
	}
}
