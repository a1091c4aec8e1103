package repository

import (
	"context"
	"errors"
	"time"

	"cotowatch/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCapacityExceeded is returned by AddParticipant when the room is full.
	ErrCapacityExceeded = errors.New("room is full")
	// ErrDuplicate is returned when a unique row already exists.
	ErrDuplicate = errors.New("already exists")
)

// RoomRepository persists rooms, their participant sets and chat history.
type RoomRepository interface {
	// Create inserts room and enrolls host in one transaction.
	Create(ctx context.Context, room *model.Room, host *model.RoomParticipant) error
	GetByID(ctx context.Context, id int64) (*model.Room, error)
	GetByAccessCode(ctx context.Context, code string) (*model.Room, error)
	Update(ctx context.Context, room *model.Room) error
	// Delete removes the room with its participants and chat history.
	Delete(ctx context.Context, id int64) error
	ListPublic(ctx context.Context, limit, offset int) ([]*model.Room, error)
	ListByHost(ctx context.Context, hostID int64, limit, offset int) ([]*model.Room, error)

	// AddParticipant inserts p unless the room already holds capacity participants.
	AddParticipant(ctx context.Context, p *model.RoomParticipant, capacity int) error
	GetParticipant(ctx context.Context, roomID, userID int64) (*model.RoomParticipant, error)
	RemoveParticipant(ctx context.Context, roomID, userID int64) error
	ListParticipants(ctx context.Context, roomID int64) ([]*model.RoomParticipant, error)
	CountParticipants(ctx context.Context, roomID int64) (int64, error)

	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	// RecentMessages returns up to limit newest messages, oldest first.
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]*model.ChatMessage, error)
}

type gormRoomRepository struct {
	db *gorm.DB
}

func NewGormRoomRepository(db *gorm.DB) RoomRepository {
	return &gormRoomRepository{db: db}
}

func (r *gormRoomRepository) Create(ctx context.Context, room *model.Room, host *model.RoomParticipant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return translate(err)
		}
		if host == nil {
			return nil
		}
		host.RoomID = room.ID
		if host.JoinedAt.IsZero() {
			host.JoinedAt = time.Now()
		}
		return tx.Create(host).Error
	})
}

func (r *gormRoomRepository) GetByID(ctx context.Context, id int64) (*model.Room, error) {
	var room model.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

func (r *gormRoomRepository) GetByAccessCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	err := r.db.WithContext(ctx).
		Where("access_code = ? AND is_private = ?", code, true).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

func (r *gormRoomRepository) Update(ctx context.Context, room *model.Room) error {
	return translate(r.db.WithContext(ctx).Save(room).Error)
}

// translate maps driver errors onto the package sentinels. The connection must
// be opened with TranslateError enabled.
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *gormRoomRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&model.RoomParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Room{}, id).Error
	})
}

func (r *gormRoomRepository) ListPublic(ctx context.Context, limit, offset int) ([]*model.Room, error) {
	var rooms []*model.Room
	err := r.db.WithContext(ctx).
		Where("is_private = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rooms).Error
	return rooms, err
}

func (r *gormRoomRepository) ListByHost(ctx context.Context, hostID int64, limit, offset int) ([]*model.Room, error) {
	var rooms []*model.Room
	err := r.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rooms).Error
	return rooms, err
}

// AddParticipant locks the room row so concurrent joins cannot overshoot capacity.
func (r *gormRoomRepository) AddParticipant(ctx context.Context, p *model.RoomParticipant, capacity int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", p.RoomID).First(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var existing int64
		if err := tx.Model(&model.RoomParticipant{}).
			Where("room_id = ? AND user_id = ?", p.RoomID, p.UserID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicate
		}

		var count int64
		if err := tx.Model(&model.RoomParticipant{}).
			Where("room_id = ?", p.RoomID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(capacity) {
			return ErrCapacityExceeded
		}

		if p.JoinedAt.IsZero() {
			p.JoinedAt = time.Now()
		}
		return tx.Create(p).Error
	})
}

func (r *gormRoomRepository) GetParticipant(ctx context.Context, roomID, userID int64) (*model.RoomParticipant, error) {
	var p model.RoomParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormRoomRepository) RemoveParticipant(ctx context.Context, roomID, userID int64) error {
	return r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&model.RoomParticipant{}).Error
}

func (r *gormRoomRepository) ListParticipants(ctx context.Context, roomID int64) ([]*model.RoomParticipant, error) {
	var ps []*model.RoomParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC, id ASC").
		Find(&ps).Error
	return ps, err
}

func (r *gormRoomRepository) CountParticipants(ctx context.Context, roomID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.RoomParticipant{}).
		Where("room_id = ?", roomID).
		Count(&count).Error
	return count, err
}

func (r *gormRoomRepository) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *gormRoomRepository) RecentMessages(ctx context.Context, roomID int64, limit int) ([]*model.ChatMessage, error) {
	var messages []*model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// newest-first from the query, callers want oldest-first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
