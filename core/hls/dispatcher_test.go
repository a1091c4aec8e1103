package hls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJobRunner struct {
	mu   sync.Mutex
	ran  []int64
	fail map[int64]error
	done chan int64
}

func (r *recordingJobRunner) Run(_ context.Context, id int64) error {
	r.mu.Lock()
	r.ran = append(r.ran, id)
	err := r.fail[id]
	r.mu.Unlock()
	r.done <- id
	return err
}

func TestLocalDispatcherRunsEnqueuedJobs(t *testing.T) {
	runner := &recordingJobRunner{done: make(chan int64, 8), fail: map[int64]error{2: errors.New("exit status 1")}}
	d := NewLocalDispatcher(LocalDispatcherConfig{Runner: runner, Workers: 2, QueueSize: 4})
	var failedMu sync.Mutex
	var failed []int64
	d.failed = func(id int64, _ error) {
		failedMu.Lock()
		failed = append(failed, id)
		failedMu.Unlock()
	}
	d.Start()

	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, d.Enqueue(ctx, id))
	}
	seen := map[int64]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-runner.done:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("job not run")
		}
	}
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, seen)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(shutdownCtx))

	failedMu.Lock()
	assert.Equal(t, []int64{2}, failed)
	failedMu.Unlock()

	assert.ErrorIs(t, d.Enqueue(ctx, 4), ErrDispatcherClosed)
}

func TestLocalDispatcherEnqueueHonoursContext(t *testing.T) {
	d := NewLocalDispatcher(LocalDispatcherConfig{Runner: &recordingJobRunner{done: make(chan int64, 1)}, QueueSize: 1})
	// not started: the second enqueue has nowhere to go
	require.NoError(t, d.Enqueue(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Enqueue(ctx, 2), context.DeadlineExceeded)
}

func TestLocalDispatcherSkipsInFlightDuplicates(t *testing.T) {
	d := NewLocalDispatcher(LocalDispatcherConfig{Runner: &recordingJobRunner{done: make(chan int64, 1)}})
	assert.True(t, d.begin(7))
	assert.False(t, d.begin(7))
	d.finish(7)
	assert.True(t, d.begin(7))
}
