package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrListingUnsupported is returned by List on backends that cannot enumerate keys.
var ErrListingUnsupported = errors.New("storage backend does not support listing")

// ObjectInfo describes one stored file.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Storage holds media files addressed by slash-separated keys relative to the media root,
// e.g. "streams/12/master.m3u8".
type Storage interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the objects directly under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// PublishDir makes every file of a local directory available under prefix.
	PublishDir(ctx context.Context, localDir, prefix string) error
	// URL is what players fetch for key.
	URL(key string) string
}

// Stats summarises a listing.
type Stats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// Summarize folds objects into Stats.
func Summarize(objects []ObjectInfo) Stats {
	var st Stats
	for _, o := range objects {
		st.TotalObjects++
		st.TotalSize += o.Size
		if o.LastModified.After(st.LastModified) {
			st.LastModified = o.LastModified
		}
	}
	return st
}

// contentType guesses the MIME type players expect for HLS output.
func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4", ".m4s":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Dir returns the parent prefix of key, without a trailing slash.
func Dir(key string) string {
	d := path.Dir(strings.TrimPrefix(key, "/"))
	if d == "." {
		return ""
	}
	return d
}

func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}
