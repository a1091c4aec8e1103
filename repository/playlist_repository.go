package repository

import (
	"context"
	"errors"

	"cotowatch/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlaylistRepository persists playlists and their ordered items.
type PlaylistRepository interface {
	Create(ctx context.Context, p *model.Playlist) error
	GetByID(ctx context.Context, id int64) (*model.Playlist, error)
	// AppendItem assigns the next display order; ErrDuplicate when (season, episode) is taken.
	AppendItem(ctx context.Context, item *model.PlaylistItem) error
	Items(ctx context.Context, playlistID int64) ([]*model.PlaylistItem, error)
}

type gormPlaylistRepository struct {
	db *gorm.DB
}

func NewGormPlaylistRepository(db *gorm.DB) PlaylistRepository {
	return &gormPlaylistRepository{db: db}
}

func (r *gormPlaylistRepository) Create(ctx context.Context, p *model.Playlist) error {
	return r.db.WithContext(ctx).Omit("Items").Create(p).Error
}

func (r *gormPlaylistRepository) GetByID(ctx context.Context, id int64) (*model.Playlist, error) {
	var p model.Playlist
	err := r.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormPlaylistRepository) AppendItem(ctx context.Context, item *model.PlaylistItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Playlist
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").First(&p, item.PlaylistID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var dup int64
		if err := tx.Model(&model.PlaylistItem{}).
			Where("playlist_id = ? AND season = ? AND episode = ?", item.PlaylistID, item.Season, item.Episode).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return ErrDuplicate
		}

		var maxOrder *int
		if err := tx.Model(&model.PlaylistItem{}).
			Where("playlist_id = ?", item.PlaylistID).
			Select("MAX(display_order)").
			Scan(&maxOrder).Error; err != nil {
			return err
		}
		item.Order = 1
		if maxOrder != nil {
			item.Order = *maxOrder + 1
		}
		return tx.Create(item).Error
	})
}

func (r *gormPlaylistRepository) Items(ctx context.Context, playlistID int64) ([]*model.PlaylistItem, error) {
	var items []*model.PlaylistItem
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("display_order ASC").
		Find(&items).Error
	return items, err
}
