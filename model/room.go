package model

import "time"

// Room is a watch party. Exactly one of VideoID and PlaylistID is set.
type Room struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string    `json:"name" gorm:"size:200;not null"`
	HostID     int64     `json:"hostId" gorm:"index;not null"`
	VideoID    *int64    `json:"videoId,omitempty" gorm:"index"`
	PlaylistID *int64    `json:"playlistId,omitempty" gorm:"index"`
	Capacity   int       `json:"capacity" gorm:"default:10"`
	IsPrivate  bool      `json:"isPrivate" gorm:"default:false"`
	AccessCode *string   `json:"-" gorm:"size:8;uniqueIndex"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index"`
}

func (Room) TableName() string {
	return "rooms"
}

// ContentType is "video" or "playlist".
func (r *Room) ContentType() string {
	switch {
	case r.VideoID != nil:
		return "video"
	case r.PlaylistID != nil:
		return "playlist"
	}
	return ""
}

// RoomParticipant is one row of a room's participant set.
type RoomParticipant struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID   int64     `json:"roomId" gorm:"not null;uniqueIndex:idx_room_user"`
	UserID   int64     `json:"userId" gorm:"not null;uniqueIndex:idx_room_user"`
	Username string    `json:"username" gorm:"size:150"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (RoomParticipant) TableName() string {
	return "room_participants"
}

// ChatMessage is an immutable chat line. A nil UserID marks a system message.
type ChatMessage struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID    int64     `json:"roomId" gorm:"not null;index:idx_room_created"`
	UserID    *int64    `json:"userId,omitempty"`
	Username  string    `json:"username" gorm:"size:150"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	IsSystem  bool      `json:"isSystem" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_room_created"`
}

func (ChatMessage) TableName() string {
	return "room_chat_messages"
}

// RoomPlaybackState lives only in the cache. Ts is milliseconds since epoch.
type RoomPlaybackState struct {
	Time      float64 `json:"time"`
	Ts        int64   `json:"ts"`
	IsPlaying bool    `json:"is_playing"`
	VideoID   *int64  `json:"video_id"`
	HLSURL    string  `json:"hls_url"`
}

const (
	DefaultRoomCapacity = 10
	AccessCodeLength    = 8

	SystemUsername = "System"
	GuestUsername  = "Guest"
)
