package hls

import (
	"context"
	"errors"
	"sync"
	"time"

	"cotowatch/logger"
	"cotowatch/metrics"

	"go.uber.org/zap"
)

// ErrDispatcherClosed is returned by Enqueue after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher admits HLS jobs. The creation path calls Enqueue exactly once per video.
type Dispatcher interface {
	Enqueue(ctx context.Context, videoID int64) error
}

// JobRunner runs one job. *Orchestrator satisfies it.
type JobRunner interface {
	Run(ctx context.Context, videoID int64) error
}

type LocalDispatcherConfig struct {
	Runner    JobRunner
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Log       *zap.Logger
}

// LocalDispatcher runs jobs on an in-process worker pool.
type LocalDispatcher struct {
	runner  JobRunner
	workers int
	timeout time.Duration
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan int64
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[int64]struct{}
	started  bool

	// failed receives job errors; nil in production.
	failed func(videoID int64, err error)
}

const (
	defaultJobWorkers   = 2
	defaultJobQueueSize = 64
	defaultJobTimeout   = 6 * time.Hour
)

func NewLocalDispatcher(cfg LocalDispatcherConfig) *LocalDispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultJobWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultJobQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	log := cfg.Log
	if log == nil {
		log = logger.Named("hls")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{
		runner:   cfg.Runner,
		workers:  workers,
		timeout:  timeout,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan int64, queueSize),
		inFlight: make(map[int64]struct{}),
	}
}

func (d *LocalDispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue blocks while the queue is full, until ctx ends or the dispatcher shuts down.
func (d *LocalDispatcher) Enqueue(ctx context.Context, videoID int64) error {
	select {
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- videoID:
		metrics.HLSQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}
}

// Shutdown stops accepting work and waits for running jobs. Queued jobs are dropped.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *LocalDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case id := <-d.queue:
			metrics.HLSQueueDepth.Set(float64(len(d.queue)))
			if !d.begin(id) {
				d.log.Info("hls job already running, skipping", logger.Int64("video_id", id))
				continue
			}
			d.process(id)
			d.finish(id)
		}
	}
}

func (d *LocalDispatcher) process(id int64) {
	// Running jobs are not cancelled by Shutdown; only the timeout bounds them.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.runner.Run(ctx, id); err != nil {
		d.log.Error("hls job failed", logger.Int64("video_id", id), logger.ErrorField(err))
		if d.failed != nil {
			d.failed(id, err)
		}
	}
}

func (d *LocalDispatcher) begin(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[id]; ok {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *LocalDispatcher) finish(id int64) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}
