package repository

import (
	"context"
	"errors"
	"strings"

	"cotowatch/model"

	"gorm.io/gorm"
)

// ErrNotFound is returned by operations that require an existing row.
var ErrNotFound = errors.New("record not found")

// DefaultVideoSort lists the newest uploads first.
const DefaultVideoSort = "-created_at"

// videoSorts maps the accepted ?sort= values onto ORDER BY clauses.
var videoSorts = map[string]string{
	"created_at":    "created_at ASC, id ASC",
	"-created_at":   "created_at DESC, id DESC",
	"title":         "title ASC, id ASC",
	"-title":        "title DESC, id DESC",
	"hls_progress":  "hls_progress ASC, id ASC",
	"-hls_progress": "hls_progress DESC, id DESC",
}

// VideoFilter narrows a video listing. Zero fields do not filter.
type VideoFilter struct {
	OwnerID int64
	Status  model.HLSStatus
	// Query matches title or description, case-insensitively.
	Query string
	// Sort is one of created_at, title, hls_progress, optionally prefixed with '-'.
	// Anything else falls back to DefaultVideoSort.
	Sort   string
	Limit  int
	Offset int
}

// NormalizedSort returns f.Sort if it is accepted, DefaultVideoSort otherwise.
func (f VideoFilter) NormalizedSort() string {
	if _, ok := videoSorts[f.Sort]; ok {
		return f.Sort
	}
	return DefaultVideoSort
}

// VideoRepository persists video assets and is the job state store of the HLS pipeline.
type VideoRepository interface {
	Create(ctx context.Context, v *model.Video) error
	GetByID(ctx context.Context, id int64) (*model.Video, error)
	List(ctx context.Context, f VideoFilter) ([]*model.Video, error)
	UpdateDetails(ctx context.Context, id int64, title, description string) error
	Delete(ctx context.Context, id int64) error

	UpdateMetadata(ctx context.Context, id int64, duration *float64, fileSize int64) error
	GetJobState(ctx context.Context, id int64) (*model.JobState, error)
	SaveJobState(ctx context.Context, id int64, st model.JobState) error
}

type gormVideoRepository struct {
	db *gorm.DB
}

func NewGormVideoRepository(db *gorm.DB) VideoRepository {
	return &gormVideoRepository{db: db}
}

func (r *gormVideoRepository) Create(ctx context.Context, v *model.Video) error {
	if v.HLSStatus == "" {
		v.HLSStatus = model.HLSPending
	}
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *gormVideoRepository) GetByID(ctx context.Context, id int64) (*model.Video, error) {
	var v model.Video
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *gormVideoRepository) List(ctx context.Context, f VideoFilter) ([]*model.Video, error) {
	var videos []*model.Video
	q := r.db.WithContext(ctx).Omit("hls_log")
	if f.OwnerID != 0 {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("hls_status = ?", f.Status)
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	q = q.Order(videoSorts[f.NormalizedSort()])
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	err := q.Offset(f.Offset).Find(&videos).Error
	return videos, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func (r *gormVideoRepository) UpdateDetails(ctx context.Context, id int64, title, description string) error {
	res := r.db.WithContext(ctx).Model(&model.Video{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"title":       title,
			"description": description,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&model.Video{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (r *gormVideoRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.Video{}, id).Error
}

func (r *gormVideoRepository) UpdateMetadata(ctx context.Context, id int64, duration *float64, fileSize int64) error {
	res := r.db.WithContext(ctx).Model(&model.Video{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"duration":  duration,
			"file_size": fileSize,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&model.Video{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (r *gormVideoRepository) GetJobState(ctx context.Context, id int64) (*model.JobState, error) {
	v, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	st := v.JobState()
	return &st, nil
}

// SaveJobState writes the job columns in a single UPDATE.
func (r *gormVideoRepository) SaveJobState(ctx context.Context, id int64, st model.JobState) error {
	var manifest interface{}
	if st.Manifest != "" {
		manifest = st.Manifest
	}
	return r.db.WithContext(ctx).Model(&model.Video{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"hls_progress": st.Progress,
			"hls_status":   st.Status,
			"hls_log":      st.Log,
			"hls_manifest": manifest,
		}).Error
}
