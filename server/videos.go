package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"cotowatch/core/video"
	"cotowatch/logger"
	"cotowatch/model"
	"cotowatch/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxUploadMemory = 32 << 20

// Uploads lands uploaded files under the media root. *storage.LocalStorage satisfies it.
type Uploads interface {
	Path(key string) (string, error)
}

// VideoAPI serves uploads, HLS progress and playlists.
type VideoAPI struct {
	videos  *video.Service
	uploads Uploads
}

func NewVideoAPI(videos *video.Service, uploads Uploads) *VideoAPI {
	return &VideoAPI{videos: videos, uploads: uploads}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, video.ErrNotFound
	}
	return id, nil
}

// UploadVideoHandler stores the "file" form field under uploads/ and registers the
// video, which queues its HLS job.
func (h *VideoAPI) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing 'file' in form")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".bin"
	}
	key := path.Join("uploads", uuid.NewString()+ext)
	dest, err := h.uploads.Path(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := saveUploadedFile(file, dest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v := &model.Video{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: r.FormValue("description"),
		OwnerID:     UserFromContext(r.Context()).ID,
		SourcePath:  key,
		FileSize:    size,
	}
	if err := h.videos.Register(r.Context(), v); err != nil {
		if v.ID == 0 {
			os.Remove(dest)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"video": v})
}

func saveUploadedFile(file multipart.File, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	defer out.Close()

	n, err := io.Copy(out, file)
	if err != nil {
		return 0, fmt.Errorf("failed to copy uploaded file to %s: %w", dest, err)
	}
	return n, nil
}

// ListVideosHandler lists the caller's videos. Query params: status, q, sort
// (created_at, title or hls_progress, "-" prefix for descending), limit, offset.
func (h *VideoAPI) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter := repository.VideoFilter{
		Status: model.HLSStatus(q.Get("status")),
		Query:  strings.TrimSpace(q.Get("q")),
		Sort:   q.Get("sort"),
		Limit:  limit,
		Offset: offset,
	}
	videos, err := h.videos.List(r.Context(), UserFromContext(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if videos == nil {
		videos = []*model.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"videos": videos})
}

func (h *VideoAPI) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.videos.GetOwned(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"video": v})
}

type updateVideoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// UpdateVideoHandler edits the title and description. Owner only.
func (h *VideoAPI) UpdateVideoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.videos.Update(r.Context(), id, UserFromContext(r.Context()),
		video.Details{Title: req.Title, Description: req.Description})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"video": v})
}

// HLSProgressHandler is polled by the upload page while the job runs.
func (h *VideoAPI) HLSProgressHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.videos.Progress(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *VideoAPI) DeleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.videos.Delete(r.Context(), id, UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPlaylistRequest struct {
	Title string `json:"title"`
}

func (h *VideoAPI) CreatePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := &model.Playlist{Title: strings.TrimSpace(req.Title), OwnerID: UserFromContext(r.Context()).ID}
	if err := h.videos.CreatePlaylist(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"playlist": p})
}

type appendItemRequest struct {
	VideoID int64 `json:"videoId"`
	Season  int   `json:"season"`
	Episode int   `json:"episode"`
}

// AppendItemHandler adds a video to the end of a playlist. Owner only.
func (h *VideoAPI) AppendItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req appendItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item := &model.PlaylistItem{VideoID: req.VideoID, Season: req.Season, Episode: req.Episode}
	if err := h.videos.AppendToPlaylist(r.Context(), id, item, UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Debug("playlist item appended",
		logger.Int64("playlist", id),
		logger.Int64("video", item.VideoID),
		logger.Int("order", item.Order))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"item": item})
}

func (h *VideoAPI) PlaylistItemsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.videos.PlaylistItems(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*model.PlaylistItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
