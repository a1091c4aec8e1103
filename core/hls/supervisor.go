package hls

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cotowatch/logger"
	"cotowatch/model"

	"go.uber.org/zap"
)

const (
	ManifestName    = "master.m3u8"
	segmentPattern  = "seg%d.ts"
	intermediateExt = ".mp4"

	// Share of the overall percentage given to the transcode pass; segmenting gets the rest.
	transcodeShare = 80.0
	// 100 is reserved for the published manifest.
	maxPassProgress = 99.0
)

// ErrEncoderFailed matches every EncoderError.
var ErrEncoderFailed = errors.New("encoder failed")

// EncoderError reports a failed encoder invocation.
type EncoderError struct {
	Stage    model.HLSStatus
	ExitCode int
	Tail     string
	Err      error
}

func (e *EncoderError) Error() string {
	tail := lastLine(e.Tail)
	if tail == "" {
		return fmt.Sprintf("%s pass failed (exit %d): %v", e.Stage, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s pass failed (exit %d): %s", e.Stage, e.ExitCode, tail)
}

func (e *EncoderError) Unwrap() []error { return []error{ErrEncoderFailed, e.Err} }

// EncodeRequest describes one supervised encode.
type EncodeRequest struct {
	Input     string
	OutputDir string
	Duration  float64 // seconds, 0 when unknown
	Plan      EncodePlan
}

// Supervisor runs ffmpeg passes and turns their progress stream into reporter updates.
type Supervisor struct {
	ffmpegPath     string
	segmentSeconds int
	runner         Runner
	log            *zap.Logger
	remove         func(string) error
}

func NewSupervisor(ffmpegPath string, segmentSeconds int, runner Runner, log *zap.Logger) *Supervisor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logger.Named("hls")
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}
	return &Supervisor{
		ffmpegPath:     ffmpegPath,
		segmentSeconds: segmentSeconds,
		runner:         runner,
		log:            log,
		remove:         os.Remove,
	}
}

// Encode produces OutputDir/master.m3u8 and its segments. On failure the reporter has
// already been moved to error and the returned error wraps ErrEncoderFailed.
func (s *Supervisor) Encode(ctx context.Context, req EncodeRequest, rep *Reporter) (string, error) {
	manifest := filepath.Join(req.OutputDir, ManifestName)

	if req.Plan.Remux {
		if err := rep.Status(ctx, model.HLSRemux, "remux: "+req.Plan.String()); err != nil {
			return "", err
		}
		if err := s.segmentPass(ctx, model.HLSRemux, req.Input, req, 0, 100, rep); err != nil {
			return "", err
		}
		return manifest, nil
	}

	if err := rep.Status(ctx, model.HLSTranscode, "transcode: "+req.Plan.String()); err != nil {
		return "", err
	}
	intermediate := filepath.Join(req.OutputDir, "intermediate"+intermediateExt)
	if err := s.run(ctx, model.HLSTranscode, s.transcodeArgs(req.Input, intermediate, req.Plan), req.Duration, 0, transcodeShare, rep); err != nil {
		return "", err
	}

	if err := rep.Status(ctx, model.HLSSegment, "segment: stream copy into "+strconv.Itoa(s.segmentSeconds)+"s segments"); err != nil {
		return "", err
	}
	if err := s.segmentPass(ctx, model.HLSSegment, intermediate, req, transcodeShare, 100-transcodeShare, rep); err != nil {
		return "", err
	}

	if err := s.remove(intermediate); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove intermediate file", logger.String("path", intermediate), logger.ErrorField(err))
		_ = rep.Log(ctx, "warning: intermediate file not removed: "+err.Error())
	}
	return manifest, nil
}

func (s *Supervisor) segmentPass(ctx context.Context, stage model.HLSStatus, input string, req EncodeRequest, base, span float64, rep *Reporter) error {
	if err := clearSegments(req.OutputDir); err != nil {
		s.log.Warn("failed to clear previous segments", logger.String("dir", req.OutputDir), logger.ErrorField(err))
	}
	// Segment lines keep the status text moving when the duration is unknown.
	watcher, err := WatchSegments(req.OutputDir, s.log, func(name string, n int) {
		if lerr := rep.Log(ctx, fmt.Sprintf("%s: %s written (%d)", stage, name, n)); lerr != nil {
			s.log.Warn("failed to persist job log", logger.ErrorField(lerr))
		}
	})
	if err != nil {
		s.log.Debug("segment watcher unavailable", logger.ErrorField(err))
	}
	runErr := s.run(ctx, stage, s.segmentArgs(input, req.OutputDir), req.Duration, base, span, rep)
	if watcher != nil {
		n := watcher.Close()
		if runErr == nil {
			_ = rep.Log(ctx, fmt.Sprintf("%s: wrote %d segments", stage, n))
		}
	}
	return runErr
}

// run executes one ffmpeg pass whose progress maps onto [base, base+span] overall.
func (s *Supervisor) run(ctx context.Context, stage model.HLSStatus, args []string, duration, base, span float64, rep *Reporter) error {
	s.log.Info("starting encoder pass", logger.String("stage", string(stage)), logger.String("args", strings.Join(args, " ")))

	parser := NewProgressParser()
	tail, err := s.runner.Stream(ctx, s.ffmpegPath, args, func(line string) {
		upd, ok := parser.Feed(line)
		if !ok {
			return
		}
		if upd.HasElapsed {
			if pct, known := Percent(upd.Elapsed, duration); known {
				overall := base + span*pct/100
				if overall > maxPassProgress {
					overall = maxPassProgress
				}
				if perr := rep.Progress(ctx, overall, false); perr != nil {
					s.log.Warn("failed to persist progress", logger.ErrorField(perr))
				}
			}
		}
		if upd.BlockDone {
			if lerr := rep.Log(ctx, string(stage)+": "+upd.Summary); lerr != nil {
				s.log.Warn("failed to persist job log", logger.ErrorField(lerr))
			}
		}
	})
	if err != nil {
		encErr := &EncoderError{Stage: stage, ExitCode: ExitCode(err), Tail: tail, Err: err}
		if tail != "" {
			_ = rep.Log(ctx, strings.TrimSpace(tail))
		}
		if ferr := rep.Fail(ctx, encErr); ferr != nil {
			s.log.Error("failed to persist job failure", logger.ErrorField(ferr))
		}
		return encErr
	}

	if duration > 0 && base+span < 100 {
		if perr := rep.Progress(ctx, base+span, true); perr != nil {
			s.log.Warn("failed to persist progress", logger.ErrorField(perr))
		}
	}
	return nil
}

func (s *Supervisor) transcodeArgs(input, output string, plan EncodePlan) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-i", input,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-vf", "scale=w=1920:h=1080:force_original_aspect_ratio=decrease,pad=ceil(iw/2)*2:ceil(ih/2)*2,fps=60",
		"-c:v", "libx264",
		"-preset", plan.Preset,
		"-crf", strconv.Itoa(plan.CRF),
		"-maxrate", maxRate,
		"-bufsize", bufSize,
		"-threads", strconv.Itoa(plan.Threads),
		"-x264-params", "rc-lookahead=" + strconv.Itoa(plan.Lookahead),
		"-c:a", "aac",
		"-b:a", audioRate,
		"-ar", audioSample,
		"-ac", "2",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		output,
	}
}

func (s *Supervisor) segmentArgs(input, outDir string) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-i", input,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c", "copy",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.segmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outDir, segmentPattern),
		"-progress", "pipe:1",
		filepath.Join(outDir, ManifestName),
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
