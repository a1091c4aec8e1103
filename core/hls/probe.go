package hls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MediaInfo is what the planner needs to know about a source. Zero values mean unknown.
type MediaInfo struct {
	Duration   float64
	VideoCodec string
	AudioCodec string
	FrameRate  float64
}

// Prober extracts MediaInfo from a file.
type Prober interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// FFprobeProber asks ffprobe for the container and stream description, falling back
// to a duration-only query when the full probe fails.
type FFprobeProber struct {
	path   string
	runner Runner
}

func NewFFprobeProber(ffprobePath string, runner Runner) *FFprobeProber {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFprobeProber{path: ffprobePath, runner: runner}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// Probe returns whatever it could learn. A non-nil error means both probes failed
// and info.Duration is zero; callers may keep going.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (MediaInfo, error) {
	info, fullErr := p.probeFull(ctx, path)
	if fullErr == nil && info.Duration > 0 {
		return info, nil
	}

	dur, durErr := p.probeDuration(ctx, path)
	if durErr == nil {
		info.Duration = dur
		return info, nil
	}
	if fullErr == nil {
		// streams are known, only the duration is missing
		return info, fmt.Errorf("duration probe: %w", durErr)
	}
	return info, errors.Join(fmt.Errorf("stream probe: %w", fullErr), fmt.Errorf("duration probe: %w", durErr))
}

func (p *FFprobeProber) probeFull(ctx context.Context, path string) (MediaInfo, error) {
	out, err := p.runner.Output(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,codec_name,avg_frame_rate,r_frame_rate",
		"-of", "json",
		path,
	)
	if err != nil {
		return MediaInfo{}, err
	}

	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return MediaInfo{}, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	var info MediaInfo
	info.Duration, _ = parseDuration(data.Format.Duration)
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = strings.ToLower(s.CodecName)
			info.FrameRate = parseRational(s.AvgFrameRate)
			if info.FrameRate == 0 {
				info.FrameRate = parseRational(s.RFrameRate)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = strings.ToLower(s.CodecName)
			}
		}
	}
	return info, nil
}

func (p *FFprobeProber) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Output(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	return parseDuration(strings.TrimSpace(string(out)))
}

func parseDuration(s string) (float64, error) {
	if s == "" || s == "N/A" {
		return 0, errors.New("duration not reported")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %q", s)
	}
	return d, nil
}

// parseRational turns "60000/1001" or "25" into frames per second; 0 when unparseable.
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
