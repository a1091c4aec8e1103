package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cotowatch/config"
	"cotowatch/db"
	"cotowatch/logger"
	"cotowatch/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const mediaPrefix = "/media/"

// objectOpener streams stored objects. *storage.MinioStorage satisfies it.
type objectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

// NewRouter mounts every endpoint. a must have dispatch and rooms enabled.
func NewRouter(a *App) *mux.Router {
	rooms := NewRoomAPI(a.Registry, a.Access)
	videos := NewVideoAPI(a.Videos, a.Sources)
	socket := NewRoomSocket(a.Registry, a.Sessions)
	authed := func(h http.HandlerFunc) http.HandlerFunc { return AuthMiddleware(a.Tokens, h) }
	optional := func(h http.HandlerFunc) http.HandlerFunc { return OptionalAuth(a.Tokens, h) }

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", healthHandler(a)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/api/auth/logout", authed(rooms.LogoutHandler)).Methods(http.MethodPost)

	router.HandleFunc("/api/rooms", optional(rooms.ListRoomsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms", authed(rooms.CreateRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/mine", authed(rooms.MyRoomsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/join-by-code", authed(rooms.JoinByCodeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{id:[0-9]+}", optional(rooms.GetRoomHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{id:[0-9]+}", authed(rooms.UpdateRoomHandler)).Methods(http.MethodPatch)
	router.HandleFunc("/api/rooms/{id:[0-9]+}", authed(rooms.DeleteRoomHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/rooms/{id:[0-9]+}/messages", optional(rooms.MessagesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{id:[0-9]+}/join", authed(rooms.JoinRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{id:[0-9]+}/leave", authed(rooms.LeaveRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{id:[0-9]+}/access-code", authed(rooms.RegenerateCodeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/ws/rooms/{id:[0-9]+}", optional(socket.ServeHTTP)).Methods(http.MethodGet)

	router.HandleFunc("/api/videos", authed(videos.ListVideosHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/videos", authed(videos.UploadVideoHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/videos/{id:[0-9]+}", authed(videos.GetVideoHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/videos/{id:[0-9]+}", authed(videos.UpdateVideoHandler)).Methods(http.MethodPatch)
	router.HandleFunc("/api/videos/{id:[0-9]+}", authed(videos.DeleteVideoHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/videos/{id:[0-9]+}/hls", authed(videos.HLSProgressHandler)).Methods(http.MethodGet)

	router.HandleFunc("/api/playlists", authed(videos.CreatePlaylistHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/playlists/{id:[0-9]+}/items", optional(videos.PlaylistItemsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists/{id:[0-9]+}/items", authed(videos.AppendItemHandler)).Methods(http.MethodPost)

	// Only HLS output is public; uploaded sources stay private.
	if opener, ok := a.Media.(objectOpener); ok {
		router.PathPrefix(mediaPrefix + "streams/").Handler(objectHandler(opener))
	} else {
		streams := http.FileServer(http.Dir(filepath.Join(a.Config.MediaRoot, "streams")))
		router.PathPrefix(mediaPrefix + "streams/").Handler(http.StripPrefix(mediaPrefix+"streams/", streams))
	}
	return router
}

func healthHandler(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.redis {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.CheckRedis(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// objectHandler proxies HLS files out of object storage.
func objectHandler(store objectOpener) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, mediaPrefix)

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		obj, info, err := store.Open(ctx, key)
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Warn("failed to open media object", logger.String("key", key), logger.ErrorField(err))
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		defer obj.Close()

		w.Header().Set("Content-Type", info.ContentType)
		if strings.HasSuffix(key, ".ts") {
			w.Header().Set("Cache-Control", "public, max-age=31536000")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}
		if _, err := io.Copy(w, obj); err != nil {
			logger.Warn("error serving media object", logger.String("key", key), logger.ErrorField(err))
		}
	})
}

// Start runs the HTTP server with in-process job workers until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		app.Close(closeCtx)
	}()
	if err := app.EnableDispatch(ctx); err != nil {
		return err
	}
	if err := app.EnableRooms(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     NewRouter(app),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			logger.String("addr", cfg.HTTPAddr),
			logger.String("store", cfg.StoreDriver),
			logger.String("storage", cfg.StorageDriver),
			logger.String("jobs", cfg.JobQueue))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
