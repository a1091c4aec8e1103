package hls

import (
	"context"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"cotowatch/model"
)

const (
	// MaxLogChars bounds the rolling job log.
	MaxLogChars = 8000

	minProgressStep  = 1
	minPersistPeriod = 2 * time.Second
)

// JobStateWriter persists job state. repository.VideoRepository satisfies it.
type JobStateWriter interface {
	SaveJobState(ctx context.Context, id int64, st model.JobState) error
}

// reportState is the rate limiter's bookkeeping for one job run.
type reportState struct {
	lastPersistedTime     time.Time
	lastPersistedProgress int
	persistedNonzero      bool
}

// Reporter buffers a job's progress, status and log, writing through to the store
// only when the change is worth a write.
type Reporter struct {
	store   JobStateWriter
	videoID int64
	now     func() time.Time

	mu    sync.Mutex
	state model.JobState
	rs    reportState
}

func NewReporter(store JobStateWriter, videoID int64) *Reporter {
	return &Reporter{store: store, videoID: videoID, now: time.Now}
}

// Snapshot returns the in-memory state, including unflushed log lines.
func (r *Reporter) Snapshot() model.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset starts a fresh run: progress 0, pending, empty log.
func (r *Reporter) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = model.JobState{Status: model.HLSPending}
	r.rs = reportState{}
	return r.persistLocked(ctx)
}

// Status moves the job to s and persists immediately.
func (r *Reporter) Status(ctx context.Context, s model.HLSStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = s
	if note != "" {
		r.appendLocked(note)
	}
	return r.persistLocked(ctx)
}

// Progress records an overall percentage. Values below the current one are ignored
// so the stored sequence never decreases within a run.
func (r *Reporter) Progress(ctx context.Context, pct float64, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := int(math.Floor(pct))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > r.state.Progress {
		r.state.Progress = p
	}
	if !r.shouldPersistLocked(force) {
		return nil
	}
	return r.persistLocked(ctx)
}

// Log appends a line. It is written out with the next persisted update, or now if
// the time threshold has passed.
func (r *Reporter) Log(ctx context.Context, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(line)
	if r.now().Sub(r.rs.lastPersistedTime) < minPersistPeriod {
		return nil
	}
	return r.persistLocked(ctx)
}

// Done publishes the manifest with a forced 100%.
func (r *Reporter) Done(ctx context.Context, manifest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = model.HLSDone
	r.state.Progress = 100
	r.state.Manifest = manifest
	r.appendLocked("done: " + manifest)
	return r.persistLocked(ctx)
}

// Fail marks the run as failed and records why. Progress is left where it was.
func (r *Reporter) Fail(ctx context.Context, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = model.HLSError
	if cause != nil {
		r.appendLocked("error: " + cause.Error())
	}
	return r.persistLocked(ctx)
}

func (r *Reporter) shouldPersistLocked(force bool) bool {
	if force {
		return true
	}
	if r.state.Progress > 0 && !r.rs.persistedNonzero {
		return true
	}
	if r.state.Progress-r.rs.lastPersistedProgress >= minProgressStep {
		return true
	}
	return r.now().Sub(r.rs.lastPersistedTime) >= minPersistPeriod
}

func (r *Reporter) persistLocked(ctx context.Context) error {
	if err := r.store.SaveJobState(ctx, r.videoID, r.state); err != nil {
		return err
	}
	r.rs.lastPersistedTime = r.now()
	r.rs.lastPersistedProgress = r.state.Progress
	if r.state.Progress > 0 {
		r.rs.persistedNonzero = true
	}
	return nil
}

func (r *Reporter) appendLocked(line string) {
	if r.state.Log != "" {
		r.state.Log += "\n"
	}
	r.state.Log = TrimLog(r.state.Log+line, MaxLogChars)
}

// TrimLog keeps the last max bytes of s without splitting a UTF-8 sequence.
func TrimLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
