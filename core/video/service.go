package video

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cotowatch/core/hls"
	"cotowatch/logger"
	"cotowatch/model"
	"cotowatch/repository"
	"cotowatch/storage"
)

var (
	ErrNotFound         = errors.New("video not found")
	ErrForbidden        = errors.New("not the owner of this video")
	ErrDuplicateEpisode = errors.New("playlist already has this season and episode")
	ErrInvalidVideo     = errors.New("video needs a title and a source file")
	ErrInvalidPlaylist  = errors.New("playlist needs a title")
)

type deleter interface {
	Delete(ctx context.Context, key string) error
}

// Service registers uploaded videos, starts their HLS jobs and cleans up after them.
type Service struct {
	videos    repository.VideoRepository
	playlists repository.PlaylistRepository
	sources   deleter
	media     storage.Storage
	jobs      hls.Dispatcher
}

// NewService wires the service. sources holds uploads; media holds published streams.
// They may be the same store.
func NewService(videos repository.VideoRepository, playlists repository.PlaylistRepository, sources deleter, media storage.Storage, jobs hls.Dispatcher) *Service {
	return &Service{videos: videos, playlists: playlists, sources: sources, media: media, jobs: jobs}
}

// Register stores a freshly uploaded video and queues exactly one HLS job for it.
func (s *Service) Register(ctx context.Context, v *model.Video) error {
	if strings.TrimSpace(v.Title) == "" || v.SourcePath == "" {
		return ErrInvalidVideo
	}
	v.HLSStatus = model.HLSPending
	v.HLSProgress = 0
	v.HLSManifest = nil
	if err := s.videos.Create(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	if err := s.jobs.Enqueue(ctx, v.ID); err != nil {
		return fmt.Errorf("queue hls job for video %d: %w", v.ID, err)
	}
	logger.Info("video registered",
		logger.Int64("video", v.ID),
		logger.Int64("owner", v.OwnerID),
		logger.String("source", v.SourcePath))
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Video, error) {
	v, err := s.videos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// List returns the actor's own videos. Limit defaults to 20 and is capped at 100.
func (s *Service) List(ctx context.Context, actor *model.User, f repository.VideoFilter) ([]*model.Video, error) {
	if !actor.Authenticated() {
		return nil, ErrForbidden
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.OwnerID = actor.ID
	f.Sort = f.NormalizedSort()
	return s.videos.List(ctx, f)
}

// GetOwned returns a video only to its owner.
func (s *Service) GetOwned(ctx context.Context, id int64, actor *model.User) (*model.Video, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Authenticated() || actor.ID != v.OwnerID {
		return nil, ErrForbidden
	}
	return v, nil
}

// Progress returns the polling view of a video's HLS job to the video's owner.
func (s *Service) Progress(ctx context.Context, id int64, actor *model.User) (model.HLSProgressView, error) {
	v, err := s.GetOwned(ctx, id, actor)
	if err != nil {
		return model.HLSProgressView{}, err
	}
	return v.ProgressView(), nil
}

// Details holds editable video fields; nil fields are left alone.
type Details struct {
	Title       *string
	Description *string
}

// Update edits the title and description. Owner only; the title cannot be blanked.
func (s *Service) Update(ctx context.Context, id int64, actor *model.User, d Details) (*model.Video, error) {
	v, err := s.GetOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if d.Title != nil {
		title := strings.TrimSpace(*d.Title)
		if title == "" {
			return nil, ErrInvalidVideo
		}
		v.Title = title
	}
	if d.Description != nil {
		v.Description = *d.Description
	}
	if err := s.videos.UpdateDetails(ctx, id, v.Title, v.Description); err != nil {
		return nil, fmt.Errorf("update video %d: %w", id, err)
	}
	return v, nil
}

// Delete removes the source, the manifest with its segments, then the record.
// File removal failures are logged and never stop the deletion.
func (s *Service) Delete(ctx context.Context, id int64, actor *model.User) error {
	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Authenticated() || actor.ID != v.OwnerID {
		return ErrForbidden
	}

	if v.SourcePath != "" {
		if err := s.sources.Delete(ctx, v.SourcePath); err != nil {
			logger.Warn("failed to delete source", logger.Int64("video", id), logger.ErrorField(err))
		}
	}
	if v.HLSManifest != nil {
		s.deleteStream(ctx, id, *v.HLSManifest)
	}
	if err := s.videos.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete video %d: %w", id, err)
	}
	logger.Info("video deleted", logger.Int64("video", id))
	return nil
}

func (s *Service) deleteStream(ctx context.Context, id int64, manifest string) {
	if err := s.media.Delete(ctx, manifest); err != nil {
		logger.Warn("failed to delete manifest", logger.Int64("video", id), logger.ErrorField(err))
	}
	objects, err := s.media.List(ctx, storage.Dir(manifest))
	if errors.Is(err, storage.ErrListingUnsupported) {
		logger.Warn("storage cannot list segments, leaving them", logger.Int64("video", id))
		return
	}
	if err != nil {
		logger.Warn("failed to list segments", logger.Int64("video", id), logger.ErrorField(err))
		return
	}
	removed := 0
	for _, obj := range objects {
		if path.Ext(obj.Key) != ".ts" {
			continue
		}
		if err := s.media.Delete(ctx, obj.Key); err != nil {
			logger.Warn("failed to delete segment",
				logger.Int64("video", id),
				logger.String("key", obj.Key),
				logger.ErrorField(err))
			continue
		}
		removed++
	}
	logger.Debug("segments deleted", logger.Int64("video", id), logger.Int("count", removed))
}

func (s *Service) CreatePlaylist(ctx context.Context, p *model.Playlist) error {
	if strings.TrimSpace(p.Title) == "" {
		return ErrInvalidPlaylist
	}
	return s.playlists.Create(ctx, p)
}

// AppendToPlaylist places a video at the end of a playlist.
func (s *Service) AppendToPlaylist(ctx context.Context, playlistID int64, item *model.PlaylistItem, actor *model.User) error {
	p, err := s.playlists.GetByID(ctx, playlistID)
	if err != nil {
		return err
	}
	if p == nil {
		return repository.ErrNotFound
	}
	if !actor.Authenticated() || actor.ID != p.OwnerID {
		return ErrForbidden
	}
	if _, err := s.Get(ctx, item.VideoID); err != nil {
		return err
	}
	if item.Season <= 0 {
		item.Season = 1
	}
	if item.Episode <= 0 {
		item.Episode = 1
	}
	item.PlaylistID = playlistID
	err = s.playlists.AppendItem(ctx, item)
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrDuplicateEpisode
	}
	return err
}

func (s *Service) PlaylistItems(ctx context.Context, playlistID int64) ([]*model.PlaylistItem, error) {
	return s.playlists.Items(ctx, playlistID)
}
