package room

import (
	"context"

	"cotowatch/model"
)

type videoLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Video, error)
}

type playlistLookup interface {
	Items(ctx context.Context, playlistID int64) ([]*model.PlaylistItem, error)
}

type urlMapper interface {
	URL(key string) string
}

// ContentResolver finds what a room plays before anyone has pressed play.
type ContentResolver struct {
	videos    videoLookup
	playlists playlistLookup
	urls      urlMapper
}

func NewContentResolver(videos videoLookup, playlists playlistLookup, urls urlMapper) *ContentResolver {
	return &ContentResolver{videos: videos, playlists: playlists, urls: urls}
}

// Resolve returns the room's video, or the first item of its playlist, and the
// public manifest URL when the video has finished processing.
func (r *ContentResolver) Resolve(ctx context.Context, room *model.Room) (*int64, string, error) {
	var videoID *int64
	switch {
	case room.VideoID != nil:
		id := *room.VideoID
		videoID = &id
	case room.PlaylistID != nil:
		items, err := r.playlists.Items(ctx, *room.PlaylistID)
		if err != nil {
			return nil, "", err
		}
		if len(items) == 0 {
			return nil, "", nil
		}
		id := items[0].VideoID
		videoID = &id
	default:
		return nil, "", nil
	}

	v, err := r.videos.GetByID(ctx, *videoID)
	if err != nil {
		return nil, "", err
	}
	if v == nil || v.HLSManifest == nil {
		return videoID, "", nil
	}
	return videoID, r.urls.URL(*v.HLSManifest), nil
}
