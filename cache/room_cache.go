package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cotowatch/model"

	"github.com/go-redis/redis/v8"
)

const (
	roomPlaybackKey = "room:%d:playback"    // String: whole RoomPlaybackState JSON
	roomPresenceKey = "room:%d:presence:%d" // String: heartbeat per user
	roomPresenceSet = "room:%d:online_users"
	roomTTL         = 24 * time.Hour
	presenceTTL     = 60 * time.Second
)

var errNoClient = errors.New("Redis client not initialized")

// RoomCache keeps per-room playback state and presence in Redis.
// Playback writes replace the whole value so concurrent writers resolve last-write-wins.
type RoomCache struct {
	client *redis.Client
}

func NewRoomCache(client *redis.Client) *RoomCache {
	return &RoomCache{client: client}
}

// SetPlaybackState overwrites the state of a room.
func (c *RoomCache) SetPlaybackState(ctx context.Context, roomID int64, state *model.RoomPlaybackState) error {
	if c.client == nil {
		return errNoClient
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal playback state: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf(roomPlaybackKey, roomID), data, roomTTL).Err()
}

// GetPlaybackState returns nil, nil on a cache miss.
func (c *RoomCache) GetPlaybackState(ctx context.Context, roomID int64) (*model.RoomPlaybackState, error) {
	if c.client == nil {
		return nil, errNoClient
	}
	data, err := c.client.Get(ctx, fmt.Sprintf(roomPlaybackKey, roomID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var state model.RoomPlaybackState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playback state: %w", err)
	}
	return &state, nil
}

// DeletePlaybackState drops the room's state.
func (c *RoomCache) DeletePlaybackState(ctx context.Context, roomID int64) error {
	if c.client == nil {
		return errNoClient
	}
	return c.client.Del(ctx, fmt.Sprintf(roomPlaybackKey, roomID)).Err()
}

// UpdateUserPresence refreshes a user's heartbeat in a room.
func (c *RoomCache) UpdateUserPresence(ctx context.Context, roomID, userID int64) error {
	if c.client == nil {
		return errNoClient
	}
	presenceKey := fmt.Sprintf(roomPresenceKey, roomID, userID)
	onlineSetKey := fmt.Sprintf(roomPresenceSet, roomID)

	pipe := c.client.Pipeline()
	pipe.Set(ctx, presenceKey, time.Now().UnixMilli(), presenceTTL)
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Expire(ctx, onlineSetKey, roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveUserPresence clears a user's heartbeat.
func (c *RoomCache) RemoveUserPresence(ctx context.Context, roomID, userID int64) error {
	if c.client == nil {
		return errNoClient
	}
	pipe := c.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(roomPresenceKey, roomID, userID))
	pipe.SRem(ctx, fmt.Sprintf(roomPresenceSet, roomID), userID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetActiveOnlineUsers returns users whose heartbeat has not expired and prunes the rest.
func (c *RoomCache) GetActiveOnlineUsers(ctx context.Context, roomID int64) ([]int64, error) {
	if c.client == nil {
		return nil, errNoClient
	}
	onlineSetKey := fmt.Sprintf(roomPresenceSet, roomID)
	members, err := c.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}

	active := make([]int64, 0, len(members))
	expired := make([]interface{}, 0)
	for _, m := range members {
		userID, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		n, err := c.client.Exists(ctx, fmt.Sprintf(roomPresenceKey, roomID, userID)).Result()
		if err != nil {
			continue
		}
		if n > 0 {
			active = append(active, userID)
		} else {
			expired = append(expired, m)
		}
	}
	if len(expired) > 0 {
		c.client.SRem(ctx, onlineSetKey, expired...)
	}
	return active, nil
}

// MemoryRoomCache is the single-process stand-in used when Redis is disabled.
type MemoryRoomCache struct {
	mu       sync.RWMutex
	playback map[int64]model.RoomPlaybackState
	presence map[int64]map[int64]time.Time
	now      func() time.Time
}

func NewMemoryRoomCache() *MemoryRoomCache {
	return &MemoryRoomCache{
		playback: make(map[int64]model.RoomPlaybackState),
		presence: make(map[int64]map[int64]time.Time),
		now:      time.Now,
	}
}

func (c *MemoryRoomCache) SetPlaybackState(_ context.Context, roomID int64, state *model.RoomPlaybackState) error {
	c.mu.Lock()
	c.playback[roomID] = *state
	c.mu.Unlock()
	return nil
}

func (c *MemoryRoomCache) GetPlaybackState(_ context.Context, roomID int64) (*model.RoomPlaybackState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.playback[roomID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (c *MemoryRoomCache) DeletePlaybackState(_ context.Context, roomID int64) error {
	c.mu.Lock()
	delete(c.playback, roomID)
	delete(c.presence, roomID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryRoomCache) UpdateUserPresence(_ context.Context, roomID, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.presence[roomID]
	if !ok {
		users = make(map[int64]time.Time)
		c.presence[roomID] = users
	}
	users[userID] = c.now().Add(presenceTTL)
	return nil
}

func (c *MemoryRoomCache) RemoveUserPresence(_ context.Context, roomID, userID int64) error {
	c.mu.Lock()
	delete(c.presence[roomID], userID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryRoomCache) GetActiveOnlineUsers(_ context.Context, roomID int64) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	active := make([]int64, 0)
	for userID, deadline := range c.presence[roomID] {
		if now.Before(deadline) {
			active = append(active, userID)
		} else {
			delete(c.presence[roomID], userID)
		}
	}
	return active, nil
}
