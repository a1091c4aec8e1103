package hls

import (
	"strconv"
	"strings"
)

// ProgressUpdate is the result of feeding one line of `-progress pipe:1` output.
type ProgressUpdate struct {
	Elapsed    float64 // seconds of output written so far
	HasElapsed bool
	// BlockDone is set on the "progress=" line closing each report block.
	BlockDone bool
	End       bool
	Summary   string // compact description of the closed block, for the job log
}

// ProgressParser understands ffmpeg's key=value progress grammar:
//
//	out_time_us=<int>   microseconds
//	out_time=HH:MM:SS.ffffff
//	out_time_ms=<int>   milliseconds, last resort
//	speed=<x>
//	progress=continue|end
//
// ffmpeg really prints microseconds under out_time_ms and always sends out_time_us
// or out_time in the same block, so out_time_ms is held until the block closes and
// only used when neither of the others arrived. It is ignored entirely once
// out_time_us has been seen.
//
// Unknown keys are kept for the block summary and otherwise ignored.
type ProgressParser struct {
	sawMicros bool
	outTime   string
	speed     string
	frame     string

	// per-block state, reset on every progress= line
	blockElapsed bool
	pendingMs    int64
	hasPendingMs bool
}

func NewProgressParser() *ProgressParser {
	return &ProgressParser{}
}

// Feed consumes one line. ok is false for lines that carry nothing actionable.
func (p *ProgressParser) Feed(line string) (ProgressUpdate, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return ProgressUpdate{}, false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_us":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return ProgressUpdate{}, false
		}
		p.sawMicros = true
		p.blockElapsed = true
		return ProgressUpdate{Elapsed: float64(us) / 1e6, HasElapsed: true}, true
	case "out_time_ms":
		if p.sawMicros {
			return ProgressUpdate{}, false
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms < 0 {
			return ProgressUpdate{}, false
		}
		p.pendingMs, p.hasPendingMs = ms, true
	case "out_time":
		p.outTime = value
		secs, ok := ParseClock(value)
		if !ok {
			return ProgressUpdate{}, false
		}
		p.blockElapsed = true
		return ProgressUpdate{Elapsed: secs, HasElapsed: true}, true
	case "speed":
		p.speed = value
	case "frame":
		p.frame = value
	case "progress":
		upd := ProgressUpdate{BlockDone: true, End: value == "end", Summary: p.summary(value)}
		if !p.blockElapsed && p.hasPendingMs {
			upd.Elapsed, upd.HasElapsed = float64(p.pendingMs)/1e3, true
		}
		p.blockElapsed, p.hasPendingMs = false, false
		return upd, true
	}
	return ProgressUpdate{}, false
}

func (p *ProgressParser) summary(state string) string {
	var b strings.Builder
	b.WriteString("progress=")
	b.WriteString(state)
	if p.outTime != "" {
		b.WriteString(" out_time=")
		b.WriteString(p.outTime)
	}
	if p.frame != "" {
		b.WriteString(" frame=")
		b.WriteString(p.frame)
	}
	if p.speed != "" {
		b.WriteString(" speed=")
		b.WriteString(p.speed)
	}
	return b.String()
}

// ParseClock parses "HH:MM:SS(.fraction)" or "MM:SS" into seconds. A leading '-'
// (ffmpeg prints negative times before the first packet) is rejected.
func ParseClock(s string) (float64, bool) {
	if s == "" || strings.HasPrefix(s, "-") || s == "N/A" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := 0.0
	for i, part := range parts {
		var v float64
		var err error
		if i == len(parts)-1 {
			v, err = strconv.ParseFloat(part, 64)
		} else {
			var n int64
			n, err = strconv.ParseInt(part, 10, 64)
			v = float64(n)
		}
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

// Percent maps elapsed seconds onto [0,100]. ok is false when duration is unknown.
func Percent(elapsed, duration float64) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	pct := 100 * elapsed / duration
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
