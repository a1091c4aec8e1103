package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	accessKey        = "room_access:%s:%d" // String: proof that a session knows a room's code
	accessSessionSet = "room_access:%s"    // Set: room IDs granted to a session, used for revoke
)

// AccessStore remembers which sessions have proven a private room's access code.
// A grant expires after ttl without use and is dropped on logout.
type AccessStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAccessStore(client *redis.Client, ttl time.Duration) *AccessStore {
	return &AccessStore{client: client, ttl: ttl}
}

// Grant records the proof for session.
func (s *AccessStore) Grant(ctx context.Context, session string, roomID int64) error {
	if s.client == nil {
		return errNoClient
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(accessKey, session, roomID), 1, s.ttl)
	pipe.SAdd(ctx, fmt.Sprintf(accessSessionSet, session), roomID)
	pipe.Expire(ctx, fmt.Sprintf(accessSessionSet, session), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Has reports whether session holds a live grant and slides its expiry.
func (s *AccessStore) Has(ctx context.Context, session string, roomID int64) (bool, error) {
	if s.client == nil {
		return false, errNoClient
	}
	ok, err := s.client.Expire(ctx, fmt.Sprintf(accessKey, session, roomID), s.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		s.client.Expire(ctx, fmt.Sprintf(accessSessionSet, session), s.ttl)
	}
	return ok, nil
}

// RevokeSession drops every grant held by session.
func (s *AccessStore) RevokeSession(ctx context.Context, session string) error {
	if s.client == nil {
		return errNoClient
	}
	setKey := fmt.Sprintf(accessSessionSet, session)
	rooms, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(rooms)+1)
	for _, r := range rooms {
		keys = append(keys, fmt.Sprintf("room_access:%s:%s", session, r))
	}
	keys = append(keys, setKey)
	return s.client.Del(ctx, keys...).Err()
}

// MemoryAccessStore is the in-process AccessStore.
type MemoryAccessStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	grants map[string]map[int64]time.Time
	now    func() time.Time
}

func NewMemoryAccessStore(ttl time.Duration) *MemoryAccessStore {
	return &MemoryAccessStore{ttl: ttl, grants: make(map[string]map[int64]time.Time), now: time.Now}
}

func (s *MemoryAccessStore) Grant(_ context.Context, session string, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, ok := s.grants[session]
	if !ok {
		rooms = make(map[int64]time.Time)
		s.grants[session] = rooms
	}
	rooms[roomID] = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryAccessStore) Has(_ context.Context, session string, roomID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.grants[session][roomID]
	if !ok {
		return false, nil
	}
	now := s.now()
	if !now.Before(deadline) {
		delete(s.grants[session], roomID)
		return false, nil
	}
	s.grants[session][roomID] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryAccessStore) RevokeSession(_ context.Context, session string) error {
	s.mu.Lock()
	delete(s.grants, session)
	s.mu.Unlock()
	return nil
}
