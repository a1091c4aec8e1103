package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cotowatch/model"
)

// Memory repositories back STORE_DRIVER=memory and the tests. They copy values
// in and out so callers never share pointers with the store.

type MemoryVideoRepository struct {
	mu     sync.RWMutex
	nextID int64
	videos map[int64]model.Video
}

func NewMemoryVideoRepository() *MemoryVideoRepository {
	return &MemoryVideoRepository{videos: make(map[int64]model.Video)}
}

func (r *MemoryVideoRepository) Create(_ context.Context, v *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	v.ID = r.nextID
	if v.HLSStatus == "" {
		v.HLSStatus = model.HLSPending
	}
	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	r.videos[v.ID] = *v
	return nil
}

func (r *MemoryVideoRepository) GetByID(_ context.Context, id int64) (*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *MemoryVideoRepository) List(_ context.Context, f VideoFilter) ([]*model.Video, error) {
	term := strings.ToLower(strings.TrimSpace(f.Query))
	r.mu.RLock()
	out := make([]*model.Video, 0, len(r.videos))
	for _, v := range r.videos {
		if f.OwnerID != 0 && v.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && v.HLSStatus != f.Status {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(v.Title), term) &&
			!strings.Contains(strings.ToLower(v.Description), term) {
			continue
		}
		v := v
		out = append(out, &v)
	}
	r.mu.RUnlock()

	sortKey := f.NormalizedSort()
	desc := strings.HasPrefix(sortKey, "-")
	less := func(a, b *model.Video) int {
		switch strings.TrimPrefix(sortKey, "-") {
		case "title":
			// matches the case-insensitive collation of the MySQL column
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case "hls_progress":
			return a.HLSProgress - b.HLSProgress
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	sort.Slice(out, func(i, j int) bool {
		c := less(out[i], out[j])
		if c == 0 {
			c = int(out[i].ID - out[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	return page(out, f.Limit, f.Offset), nil
}

func (r *MemoryVideoRepository) UpdateDetails(_ context.Context, id int64, title, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return ErrNotFound
	}
	v.Title = title
	v.Description = description
	v.UpdatedAt = time.Now()
	r.videos[id] = v
	return nil
}

func (r *MemoryVideoRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	delete(r.videos, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryVideoRepository) UpdateMetadata(_ context.Context, id int64, duration *float64, fileSize int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return ErrNotFound
	}
	if duration != nil {
		d := *duration
		v.Duration = &d
	} else {
		v.Duration = nil
	}
	v.FileSize = fileSize
	r.videos[id] = v
	return nil
}

func (r *MemoryVideoRepository) GetJobState(_ context.Context, id int64) (*model.JobState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	st := v.JobState()
	return &st, nil
}

func (r *MemoryVideoRepository) SaveJobState(_ context.Context, id int64, st model.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return ErrNotFound
	}
	v.ApplyJobState(st)
	v.UpdatedAt = time.Now()
	r.videos[id] = v
	return nil
}

type MemoryRoomRepository struct {
	mu           sync.Mutex
	nextRoomID   int64
	nextPartID   int64
	nextMsgID    int64
	rooms        map[int64]model.Room
	participants map[int64][]model.RoomParticipant
	messages     map[int64][]model.ChatMessage
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{
		rooms:        make(map[int64]model.Room),
		participants: make(map[int64][]model.RoomParticipant),
		messages:     make(map[int64][]model.ChatMessage),
	}
}

func (r *MemoryRoomRepository) Create(_ context.Context, room *model.Room, host *model.RoomParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room.AccessCode != nil {
		for _, other := range r.rooms {
			if other.AccessCode != nil && *other.AccessCode == *room.AccessCode {
				return ErrDuplicate
			}
		}
	}
	r.nextRoomID++
	room.ID = r.nextRoomID
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	r.rooms[room.ID] = *room
	if host != nil {
		host.RoomID = room.ID
		r.addParticipantLocked(host)
	}
	return nil
}

func (r *MemoryRoomRepository) addParticipantLocked(p *model.RoomParticipant) {
	r.nextPartID++
	p.ID = r.nextPartID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	r.participants[p.RoomID] = append(r.participants[p.RoomID], *p)
}

func (r *MemoryRoomRepository) GetByID(_ context.Context, id int64) (*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (r *MemoryRoomRepository) GetByAccessCode(_ context.Context, code string) (*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if room.IsPrivate && room.AccessCode != nil && *room.AccessCode == code {
			room := room
			return &room, nil
		}
	}
	return nil, nil
}

func (r *MemoryRoomRepository) Update(_ context.Context, room *model.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	if room.AccessCode != nil {
		for id, other := range r.rooms {
			if id != room.ID && other.AccessCode != nil && *other.AccessCode == *room.AccessCode {
				return ErrDuplicate
			}
		}
	}
	r.rooms[room.ID] = *room
	return nil
}

func (r *MemoryRoomRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	delete(r.rooms, id)
	delete(r.participants, id)
	delete(r.messages, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRoomRepository) ListPublic(_ context.Context, limit, offset int) ([]*model.Room, error) {
	r.mu.Lock()
	out := make([]*model.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if room.IsPrivate {
			continue
		}
		room := room
		out = append(out, &room)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), nil
}

func (r *MemoryRoomRepository) ListByHost(_ context.Context, hostID int64, limit, offset int) ([]*model.Room, error) {
	r.mu.Lock()
	out := make([]*model.Room, 0)
	for _, room := range r.rooms {
		if room.HostID != hostID {
			continue
		}
		room := room
		out = append(out, &room)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), nil
}

func (r *MemoryRoomRepository) AddParticipant(_ context.Context, p *model.RoomParticipant, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[p.RoomID]; !ok {
		return ErrNotFound
	}
	list := r.participants[p.RoomID]
	for _, existing := range list {
		if existing.UserID == p.UserID {
			return ErrDuplicate
		}
	}
	if len(list) >= capacity {
		return ErrCapacityExceeded
	}
	r.addParticipantLocked(p)
	return nil
}

func (r *MemoryRoomRepository) GetParticipant(_ context.Context, roomID, userID int64) (*model.RoomParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[roomID] {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (r *MemoryRoomRepository) RemoveParticipant(_ context.Context, roomID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.participants[roomID]
	for i, p := range list {
		if p.UserID == userID {
			r.participants[roomID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRoomRepository) ListParticipants(_ context.Context, roomID int64) ([]*model.RoomParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.RoomParticipant, 0, len(r.participants[roomID]))
	for _, p := range r.participants[roomID] {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (r *MemoryRoomRepository) CountParticipants(_ context.Context, roomID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.participants[roomID])), nil
}

func (r *MemoryRoomRepository) CreateMessage(_ context.Context, msg *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextMsgID++
	msg.ID = r.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	r.messages[msg.RoomID] = append(r.messages[msg.RoomID], *msg)
	return nil
}

func (r *MemoryRoomRepository) RecentMessages(_ context.Context, roomID int64, limit int) ([]*model.ChatMessage, error) {
	r.mu.Lock()
	all := make([]model.ChatMessage, len(r.messages[roomID]))
	copy(all, r.messages[roomID])
	r.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*model.ChatMessage, len(all))
	for i := range all {
		out[i] = &all[i]
	}
	return out, nil
}

type MemoryPlaylistRepository struct {
	mu        sync.Mutex
	nextID    int64
	nextItem  int64
	playlists map[int64]model.Playlist
	items     map[int64][]model.PlaylistItem
}

func NewMemoryPlaylistRepository() *MemoryPlaylistRepository {
	return &MemoryPlaylistRepository{
		playlists: make(map[int64]model.Playlist),
		items:     make(map[int64][]model.PlaylistItem),
	}
}

func (r *MemoryPlaylistRepository) Create(_ context.Context, p *model.Playlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	stored := *p
	stored.Items = nil
	r.playlists[p.ID] = stored
	return nil
}

func (r *MemoryPlaylistRepository) GetByID(_ context.Context, id int64) (*model.Playlist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.playlists[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryPlaylistRepository) AppendItem(_ context.Context, item *model.PlaylistItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.playlists[item.PlaylistID]; !ok {
		return ErrNotFound
	}
	maxOrder := 0
	for _, it := range r.items[item.PlaylistID] {
		if it.Season == item.Season && it.Episode == item.Episode {
			return ErrDuplicate
		}
		if it.Order > maxOrder {
			maxOrder = it.Order
		}
	}
	r.nextItem++
	item.ID = r.nextItem
	item.Order = maxOrder + 1
	r.items[item.PlaylistID] = append(r.items[item.PlaylistID], *item)
	return nil
}

func (r *MemoryPlaylistRepository) Items(_ context.Context, playlistID int64) ([]*model.PlaylistItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.PlaylistItem, 0, len(r.items[playlistID]))
	for _, it := range r.items[playlistID] {
		it := it
		out = append(out, &it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
