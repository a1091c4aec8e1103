package server

import (
	"context"
	"fmt"
	"os"

	"cotowatch/cache"
	"cotowatch/config"
	"cotowatch/core/auth"
	"cotowatch/core/hls"
	"cotowatch/core/room"
	"cotowatch/core/video"
	"cotowatch/db"
	"cotowatch/logger"
	"cotowatch/pkg/rabbitmq"
	"cotowatch/repository"
	"cotowatch/storage"
)

// RoomStateCache is what rooms keep outside the database.
type RoomStateCache interface {
	room.StateCache
	DeletePlaybackState(ctx context.Context, roomID int64) error
}

// SessionAccess holds the per-session proofs for private rooms.
type SessionAccess interface {
	room.AccessProofs
	RevokeSession(ctx context.Context, session string) error
}

// App holds every long-lived component of one process. Commands build it with
// NewApp and switch on the parts they need.
type App struct {
	Config *config.Config

	VideoStore    repository.VideoRepository
	PlaylistStore repository.PlaylistRepository
	RoomStore     repository.RoomRepository

	Sources *storage.LocalStorage
	Media   storage.Storage

	Orchestrator *hls.Orchestrator
	Reaper       *hls.SourceReaper
	Jobs         hls.Dispatcher
	Videos       *video.Service

	Cache    RoomStateCache
	Access   SessionAccess
	Hub      *room.Hub
	Registry *room.Registry
	Sessions *room.Handler
	Tokens   *auth.TokenManager

	local    *hls.LocalDispatcher
	producer *rabbitmq.Producer
	redis    bool
	gorm     bool
}

// NewApp opens the stores and builds the HLS pipeline.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.StoreDriver {
	case "memory":
		a.VideoStore = repository.NewMemoryVideoRepository()
		a.PlaylistStore = repository.NewMemoryPlaylistRepository()
		a.RoomStore = repository.NewMemoryRoomRepository()
		logger.Warn("using in-memory store, nothing survives a restart")
	case "mysql", "":
		conn, err := db.ConnectGormDB(cfg)
		if err != nil {
			return nil, err
		}
		a.gorm = true
		a.VideoStore = repository.NewGormVideoRepository(conn)
		a.PlaylistStore = repository.NewGormPlaylistRepository(conn)
		a.RoomStore = repository.NewGormRoomRepository(conn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if err := os.MkdirAll(cfg.StreamsDir, 0755); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("create streams dir: %w", err)
	}
	a.Sources = storage.NewLocalStorage(cfg.MediaRoot, cfg.PublicStreamURL)

	switch cfg.StorageDriver {
	case "minio":
		m, err := storage.NewMinioStorage(ctx, cfg)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Media = m
	case "local", "":
		a.Media = a.Sources
	default:
		a.Close(ctx)
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	hlsLog := logger.Named("hls")
	runner := hls.ExecRunner{}
	a.Reaper = hls.NewSourceReaper(a.Sources, hls.ReaperConfig{
		Delay:    cfg.DeleteDelay,
		Retry:    cfg.DeleteRetry,
		Attempts: uint(cfg.DeleteAttempts),
	}, hlsLog)
	a.Orchestrator = hls.NewOrchestrator(hls.OrchestratorDeps{
		Store:     a.VideoStore,
		Prober:    hls.NewFFprobeProber(cfg.FFprobePath, runner),
		Planner:   hls.NewPlanner(),
		Encoder:   hls.NewSupervisor(cfg.FFmpegPath, cfg.SegmentSeconds, runner, hlsLog),
		Sources:   a.Sources,
		Publisher: a.Media,
		Reaper:    a.Reaper,
		WorkDir:   cfg.MediaRoot,
		Log:       hlsLog,
	})
	return a, nil
}

// EnableDispatch builds the job dispatcher for cfg.JobQueue and the video service on top of it.
func (a *App) EnableDispatch(ctx context.Context) error {
	switch a.Config.JobQueue {
	case "rabbitmq":
		conn, err := rabbitmq.Dial(ctx, a.Config.RabbitMQURL, logger.Named("rabbitmq"))
		if err != nil {
			return fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		p, err := rabbitmq.NewProducer(conn, rabbitmq.TopologyFromConfig(a.Config))
		if err != nil {
			return err
		}
		a.producer = p
		a.Jobs = p
	case "local", "":
		a.local = hls.NewLocalDispatcher(hls.LocalDispatcherConfig{
			Runner:    a.Orchestrator,
			Workers:   a.Config.HLSWorkers,
			QueueSize: a.Config.HLSQueueSize,
			Log:       logger.Named("hls"),
		})
		a.local.Start()
		a.Jobs = a.local
	default:
		return fmt.Errorf("unknown job queue %q", a.Config.JobQueue)
	}
	a.Videos = video.NewService(a.VideoStore, a.PlaylistStore, a.Sources, a.Media, a.Jobs)
	return nil
}

// EnableRooms builds the realtime side. With Redis, state and fan-out are shared
// between instances; without it everything stays in this process.
func (a *App) EnableRooms(ctx context.Context) error {
	cfg := a.Config
	var broker room.Broker
	if cfg.RedisEnabled {
		if err := db.ConnectRedis(cfg); err != nil {
			return err
		}
		a.redis = true
		a.Cache = cache.NewRoomCache(db.RedisClient)
		a.Access = cache.NewAccessStore(db.RedisClient, cfg.RoomAccessTTL)
		broker = room.NewRedisBroker(db.PubSubClient)
		logger.Info("Connected to Redis", logger.String("addr", cfg.RedisAddr()))
	} else {
		a.Cache = cache.NewMemoryRoomCache()
		a.Access = cache.NewMemoryAccessStore(cfg.RoomAccessTTL)
		logger.Warn("Redis disabled, rooms are local to this instance")
	}

	a.Hub = room.NewHub(broker)
	go a.Hub.Run(ctx)

	a.Registry = room.NewRegistry(a.RoomStore, a.Access,
		room.WithPublisher(a.Hub),
		room.WithDefaultCapacity(cfg.DefaultCapacity),
		room.WithDeleteHook(func(ctx context.Context, roomID int64) {
			if err := a.Cache.DeletePlaybackState(ctx, roomID); err != nil {
				logger.Warn("failed to clear playback state", logger.Int64("room", roomID), logger.ErrorField(err))
			}
			a.Hub.CloseTopic(room.Topic(roomID))
		}),
	)
	content := room.NewContentResolver(a.VideoStore, a.PlaylistStore, a.Media)
	a.Sessions = room.NewHandler(a.Hub, a.Registry, a.Cache, content)
	a.Tokens = auth.NewTokenManager(cfg.JWTSecret, 0)
	return nil
}

// Close stops workers, waits for pending source deletions and closes connections.
func (a *App) Close(ctx context.Context) {
	if a.local != nil {
		if err := a.local.Shutdown(ctx); err != nil {
			logger.Warn("job workers did not stop in time", logger.ErrorField(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("failed to close job producer", logger.ErrorField(err))
		}
	}
	if a.Reaper != nil {
		if err := a.Reaper.Wait(ctx); err != nil {
			logger.Warn("source deletions still pending", logger.ErrorField(err))
		}
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.redis {
		if err := db.CloseRedis(); err != nil {
			logger.Warn("failed to close Redis", logger.ErrorField(err))
		}
	}
	if a.gorm {
		if err := db.CloseGormDB(); err != nil {
			logger.Warn("failed to close database", logger.ErrorField(err))
		}
	}
}
