package hls

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"cotowatch/logger"
	"cotowatch/metrics"
	"cotowatch/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrVideoNotFound is returned when a job names a video that does not exist.
var ErrVideoNotFound = errors.New("video not found")

// JobStore is the persistence the orchestrator needs. repository.VideoRepository satisfies it.
type JobStore interface {
	JobStateWriter
	GetByID(ctx context.Context, id int64) (*model.Video, error)
	UpdateMetadata(ctx context.Context, id int64, duration *float64, fileSize int64) error
}

// SourceStore resolves upload keys to local files and removes them.
type SourceStore interface {
	Deleter
	Path(key string) (string, error)
}

// Publisher makes finished HLS output available to players.
type Publisher interface {
	PublishDir(ctx context.Context, localDir, prefix string) error
}

// Encoder runs the supervised encode. *Supervisor satisfies it.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest, rep *Reporter) (string, error)
}

// PlanMaker decides how to encode a probed source. *Planner satisfies it.
type PlanMaker interface {
	Plan(info MediaInfo) EncodePlan
}

// Orchestrator runs one HLS job per call: probe, plan, encode, publish, then schedule
// removal of the source.
type Orchestrator struct {
	store     JobStore
	prober    Prober
	planner   PlanMaker
	encoder   Encoder
	sources   SourceStore
	publisher Publisher
	reaper    *SourceReaper
	workDir   string // local directory holding streams/<id>
	log       *zap.Logger
}

// OrchestratorDeps lists the collaborators; every field is required except Reaper and Log.
type OrchestratorDeps struct {
	Store     JobStore
	Prober    Prober
	Planner   PlanMaker
	Encoder   Encoder
	Sources   SourceStore
	Publisher Publisher
	Reaper    *SourceReaper
	WorkDir   string
	Log       *zap.Logger
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.Named("hls")
	}
	return &Orchestrator{
		store:     d.Store,
		prober:    d.Prober,
		planner:   d.Planner,
		encoder:   d.Encoder,
		sources:   d.Sources,
		publisher: d.Publisher,
		reaper:    d.Reaper,
		workDir:   d.WorkDir,
		log:       log,
	}
}

// StreamPrefix is the storage prefix of a video's HLS output.
func StreamPrefix(videoID int64) string {
	return path.Join("streams", strconv.FormatInt(videoID, 10))
}

// ManifestKey is the storage key of a video's manifest.
func ManifestKey(videoID int64) string {
	return path.Join(StreamPrefix(videoID), ManifestName)
}

// Run executes the job for videoID. Failures are recorded on the video and returned.
func (o *Orchestrator) Run(ctx context.Context, videoID int64) (err error) {
	runID := uuid.NewString()
	log := o.log.With(logger.Int64("video_id", videoID), logger.String("run_id", runID))
	started := time.Now()
	planPath := "unknown"

	metrics.HLSJobsActive.Inc()
	defer func() {
		metrics.HLSJobsActive.Dec()
		outcome := "done"
		if err != nil {
			outcome = "error"
		}
		metrics.HLSJobDuration.WithLabelValues(outcome, planPath).Observe(time.Since(started).Seconds())
	}()

	v, err := o.store.GetByID(ctx, videoID)
	if err != nil {
		return fmt.Errorf("load video %d: %w", videoID, err)
	}
	if v == nil {
		return fmt.Errorf("video %d: %w", videoID, ErrVideoNotFound)
	}

	rep := NewReporter(o.store, videoID)
	if err := rep.Reset(ctx); err != nil {
		return fmt.Errorf("reset job state for video %d: %w", videoID, err)
	}
	fail := func(stage string, cause error) error {
		metrics.HLSJobFailures.WithLabelValues(stage).Inc()
		if !errors.Is(cause, ErrEncoderFailed) {
			if ferr := rep.Fail(ctx, cause); ferr != nil {
				log.Error("failed to persist job failure", logger.ErrorField(ferr))
			}
		}
		log.Error("hls job failed", logger.String("stage", stage), logger.ErrorField(cause))
		return fmt.Errorf("hls job for video %d: %w", videoID, cause)
	}

	src, err := o.sources.Path(v.SourcePath)
	if err != nil {
		return fail("pending", err)
	}
	if _, err := os.Stat(src); err != nil {
		return fail("pending", fmt.Errorf("source file: %w", err))
	}

	info, perr := o.prober.Probe(ctx, src)
	if perr != nil {
		log.Warn("probe incomplete, continuing", logger.ErrorField(perr))
		_ = rep.Log(ctx, "probe: "+perr.Error())
	}
	if err := o.recordMetadata(ctx, v, src, info); err != nil {
		log.Warn("failed to record metadata", logger.ErrorField(err))
	}
	duration := info.Duration
	if duration <= 0 && v.Duration != nil {
		duration = *v.Duration
	}
	if duration <= 0 {
		_ = rep.Log(ctx, "duration unknown, progress percentage disabled")
	}

	plan := o.planner.Plan(info)
	planPath = "transcode"
	if plan.Remux {
		planPath = "remux"
	}
	log.Info("hls job planned",
		logger.String("plan", plan.String()),
		logger.String("video_codec", info.VideoCodec),
		logger.String("audio_codec", info.AudioCodec),
		logger.Float64("fps", info.FrameRate),
		logger.Float64("duration", duration))

	outDir := o.outputDir(videoID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fail("pending", fmt.Errorf("create output dir: %w", err))
	}

	if _, err := o.encoder.Encode(ctx, EncodeRequest{
		Input:     src,
		OutputDir: outDir,
		Duration:  duration,
		Plan:      plan,
	}, rep); err != nil {
		stage := string(rep.Snapshot().Status)
		var encErr *EncoderError
		if errors.As(err, &encErr) {
			stage = string(encErr.Stage)
		}
		return fail(stage, err)
	}

	if err := o.publisher.PublishDir(ctx, outDir, StreamPrefix(videoID)); err != nil {
		return fail("publish", fmt.Errorf("publish output: %w", err))
	}
	if err := rep.Done(ctx, ManifestKey(videoID)); err != nil {
		return fail("publish", fmt.Errorf("persist manifest: %w", err))
	}
	log.Info("hls job done", logger.Duration("elapsed", time.Since(started)))

	if o.reaper != nil {
		o.reaper.Schedule(v.SourcePath)
	}
	return nil
}

// ExtractMetadata records duration and size for videoID. It does nothing when both
// are already known.
func (o *Orchestrator) ExtractMetadata(ctx context.Context, videoID int64) error {
	v, err := o.store.GetByID(ctx, videoID)
	if err != nil {
		return err
	}
	if v == nil {
		return ErrVideoNotFound
	}
	if v.HasMetadata() {
		return nil
	}
	src, err := o.sources.Path(v.SourcePath)
	if err != nil {
		return err
	}
	info, perr := o.prober.Probe(ctx, src)
	if perr != nil {
		o.log.Warn("probe incomplete", logger.Int64("video_id", videoID), logger.ErrorField(perr))
	}
	return o.recordMetadata(ctx, v, src, info)
}

func (o *Orchestrator) recordMetadata(ctx context.Context, v *model.Video, src string, info MediaInfo) error {
	if v.HasMetadata() {
		return nil
	}
	duration := v.Duration
	if (duration == nil || *duration <= 0) && info.Duration > 0 {
		d := info.Duration
		duration = &d
	}
	size := v.FileSize
	if size <= 0 {
		if st, err := os.Stat(src); err == nil {
			size = st.Size()
		}
	}
	if err := o.store.UpdateMetadata(ctx, v.ID, duration, size); err != nil {
		return err
	}
	v.Duration = duration
	v.FileSize = size
	return nil
}

func (o *Orchestrator) outputDir(videoID int64) string {
	return filepath.Join(o.workDir, filepath.FromSlash(StreamPrefix(videoID)))
}
