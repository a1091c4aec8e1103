package model

import "time"

// Playlist groups episodic videos.
type Playlist struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Title     string         `json:"title" gorm:"size:200;not null"`
	OwnerID   int64          `json:"ownerId" gorm:"index;not null"`
	CreatedAt time.Time      `json:"createdAt"`
	Items     []PlaylistItem `json:"items,omitempty" gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE"`
}

func (Playlist) TableName() string {
	return "playlists"
}

// PlaylistItem places a video at (season, episode) inside a playlist.
type PlaylistItem struct {
	ID         int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	PlaylistID int64 `json:"playlistId" gorm:"not null;uniqueIndex:idx_playlist_episode"`
	Season     int   `json:"season" gorm:"not null;default:1;uniqueIndex:idx_playlist_episode"`
	Episode    int   `json:"episode" gorm:"not null;default:1;uniqueIndex:idx_playlist_episode"`
	Order      int   `json:"order" gorm:"column:display_order;not null;index"`
	VideoID    int64 `json:"videoId" gorm:"not null;index"`
}

func (PlaylistItem) TableName() string {
	return "playlist_items"
}
