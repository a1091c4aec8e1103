package hls

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"cotowatch/model"
	"cotowatch/repository"
	"cotowatch/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProber struct {
	info  MediaInfo
	err   error
	calls atomic.Int32
}

func (p *countingProber) Probe(context.Context, string) (MediaInfo, error) {
	p.calls.Add(1)
	return p.info, p.err
}

type fixedPlanner struct{ plan EncodePlan }

func (p fixedPlanner) Plan(MediaInfo) EncodePlan { return p.plan }

// fileEncoder writes a manifest and segments instead of running ffmpeg.
type fileEncoder struct {
	err      error
	segments int
	got      EncodeRequest
}

func (e *fileEncoder) Encode(ctx context.Context, req EncodeRequest, rep *Reporter) (string, error) {
	e.got = req
	if e.err != nil {
		_ = rep.Fail(ctx, e.err)
		return "", e.err
	}
	for i := 0; i < e.segments; i++ {
		if err := os.WriteFile(filepath.Join(req.OutputDir, "seg"+strconv.Itoa(i)+".ts"), []byte("ts"), 0644); err != nil {
			return "", err
		}
	}
	manifest := filepath.Join(req.OutputDir, ManifestName)
	return manifest, os.WriteFile(manifest, []byte("#EXTM3U\n"), 0644)
}

type orchestratorFixture struct {
	videos  *repository.MemoryVideoRepository
	media   *storage.LocalStorage
	root    string
	prober  *countingProber
	encoder *fileEncoder
	reaper  *SourceReaper
	orch    *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	root := t.TempDir()
	f := &orchestratorFixture{
		videos:  repository.NewMemoryVideoRepository(),
		media:   storage.NewLocalStorage(root, "/media"),
		root:    root,
		prober:  &countingProber{info: MediaInfo{Duration: 120, VideoCodec: "h264", AudioCodec: "aac", FrameRate: 60}},
		encoder: &fileEncoder{segments: 3},
	}
	f.reaper = NewSourceReaper(f.media, ReaperConfig{Retry: time.Millisecond, Attempts: 2}, nil)
	f.orch = NewOrchestrator(OrchestratorDeps{
		Store:     f.videos,
		Prober:    f.prober,
		Planner:   fixedPlanner{plan: EncodePlan{Remux: true}},
		Encoder:   f.encoder,
		Sources:   f.media,
		Publisher: f.media,
		Reaper:    f.reaper,
		WorkDir:   root,
	})
	return f
}

func (f *orchestratorFixture) upload(t *testing.T, key string) *model.Video {
	t.Helper()
	p, err := f.media.Path(key)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("source bytes"), 0644))
	v := &model.Video{Title: "clip", OwnerID: 1, SourcePath: key}
	require.NoError(t, f.videos.Create(context.Background(), v))
	return v
}

func TestOrchestratorRunPublishesAndDeletesSource(t *testing.T) {
	f := newOrchestratorFixture(t)
	v := f.upload(t, "uploads/clip.mp4")
	ctx := context.Background()

	require.NoError(t, f.orch.Run(ctx, v.ID))

	got, err := f.videos.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HLSDone, got.HLSStatus)
	assert.Equal(t, 100, got.HLSProgress)
	require.NotNil(t, got.HLSManifest)
	assert.Equal(t, "streams/1/master.m3u8", *got.HLSManifest)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 120.0, *got.Duration)
	assert.Equal(t, int64(len("source bytes")), got.FileSize)
	assert.Equal(t, 120.0, f.encoder.got.Duration)

	ok, err := f.media.Exists(ctx, "streams/1/master.m3u8")
	require.NoError(t, err)
	assert.True(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.reaper.Wait(waitCtx))
	ok, err = f.media.Exists(ctx, "uploads/clip.mp4")
	require.NoError(t, err)
	assert.False(t, ok, "source removed after publication")
}

func TestOrchestratorRunReturnsEncoderFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.encoder.err = &EncoderError{Stage: model.HLSRemux, ExitCode: 1, Tail: "boom", Err: errors.New("exit status 1")}
	v := f.upload(t, "uploads/bad.mp4")
	ctx := context.Background()

	err := f.orch.Run(ctx, v.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoderFailed)

	got, _ := f.videos.GetByID(ctx, v.ID)
	assert.Equal(t, model.HLSError, got.HLSStatus)
	assert.Nil(t, got.HLSManifest)

	ok, _ := f.media.Exists(ctx, "uploads/bad.mp4")
	assert.True(t, ok, "source is kept for a manual retry")
}

func TestOrchestratorRunContinuesWithoutDuration(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.prober.info = MediaInfo{}
	f.prober.err = errors.New("moov atom not found")
	v := f.upload(t, "uploads/odd.mkv")

	require.NoError(t, f.orch.Run(context.Background(), v.ID))
	assert.Zero(t, f.encoder.got.Duration)

	got, _ := f.videos.GetByID(context.Background(), v.ID)
	assert.Equal(t, model.HLSDone, got.HLSStatus)
	assert.Contains(t, got.HLSLog, "moov atom not found")
}

func TestOrchestratorRunMissingVideo(t *testing.T) {
	f := newOrchestratorFixture(t)
	assert.ErrorIs(t, f.orch.Run(context.Background(), 99), ErrVideoNotFound)
}

func TestExtractMetadataIsIdempotent(t *testing.T) {
	f := newOrchestratorFixture(t)
	v := f.upload(t, "uploads/meta.mp4")
	ctx := context.Background()

	require.NoError(t, f.orch.ExtractMetadata(ctx, v.ID))
	require.NoError(t, f.orch.ExtractMetadata(ctx, v.ID))
	require.NoError(t, f.orch.ExtractMetadata(ctx, v.ID))
	assert.Equal(t, int32(1), f.prober.calls.Load())

	got, _ := f.videos.GetByID(ctx, v.ID)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 120.0, *got.Duration)
}
