package hls

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cotowatch/logger"
	"cotowatch/metrics"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Deleter removes a stored file. storage.Storage satisfies it.
type Deleter interface {
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ReaperConfig controls deferred source deletion.
type ReaperConfig struct {
	Delay    time.Duration
	Retry    time.Duration
	Attempts uint
}

// SourceReaper deletes source files some time after their job finished, retrying
// on failure. It never reports back to the job.
type SourceReaper struct {
	store Deleter
	cfg   ReaperConfig
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSourceReaper(store Deleter, cfg ReaperConfig, log *zap.Logger) *SourceReaper {
	if cfg.Attempts == 0 {
		cfg.Attempts = 10
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 3 * time.Second
	}
	if log == nil {
		log = logger.Named("hls")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SourceReaper{store: store, cfg: cfg, log: log, ctx: ctx, cancel: cancel}
}

// Schedule deletes key after the configured delay, in the background.
func (r *SourceReaper) Schedule(key string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.cfg.Delay > 0 {
			t := time.NewTimer(r.cfg.Delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-r.ctx.Done():
				r.log.Warn("source deletion abandoned at shutdown", logger.String("key", key))
				return
			}
		}
		if err := r.deleteWithRetry(key); err != nil {
			metrics.SourceDeleteFailures.Inc()
			r.log.Error("giving up on source deletion", logger.String("key", key), logger.ErrorField(err))
			return
		}
		r.log.Info("source file deleted", logger.String("key", key))
	}()
}

func (r *SourceReaper) deleteWithRetry(key string) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		if err := r.store.Delete(r.ctx, key); err != nil {
			r.log.Warn("source deletion failed", logger.String("key", key), logger.Int("attempt", attempt), logger.ErrorField(err))
			return struct{}{}, err
		}
		exists, err := r.store.Exists(r.ctx, key)
		if err != nil {
			return struct{}{}, err
		}
		if exists {
			return struct{}{}, fmt.Errorf("%s still present after delete", key)
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(r.ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.Retry)),
		backoff.WithMaxTries(r.cfg.Attempts),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}

// Wait blocks until all scheduled deletions have finished or ctx ends. Pending
// deletions are abandoned when ctx ends.
func (r *SourceReaper) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
