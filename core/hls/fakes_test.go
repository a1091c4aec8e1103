package hls

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"cotowatch/model"
)

type scriptedPass struct {
	lines []string
	tail  string
	err   error
	// during runs after the progress lines, standing in for files ffmpeg writes.
	during func(args []string)
}

// fakeRunner replays scripted ffmpeg passes in order and canned ffprobe output.
type fakeRunner struct {
	mu      sync.Mutex
	outputs [][]byte
	outErrs []error
	passes  []scriptedPass
	streams [][]string
	probes  int
}

func (f *fakeRunner) Output(_ context.Context, _ string, _ ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.probes
	f.probes++
	var out []byte
	var err error
	if i < len(f.outputs) {
		out = f.outputs[i]
	}
	if i < len(f.outErrs) {
		err = f.outErrs[i]
	}
	if out == nil && err == nil {
		err = errors.New("no scripted output")
	}
	return out, err
}

func (f *fakeRunner) Stream(_ context.Context, _ string, args []string, onLine func(string)) (string, error) {
	f.mu.Lock()
	i := len(f.streams)
	f.streams = append(f.streams, append([]string(nil), args...))
	var pass scriptedPass
	if i < len(f.passes) {
		pass = f.passes[i]
	}
	f.mu.Unlock()

	for _, l := range pass.lines {
		onLine(l)
	}
	if pass.during != nil {
		pass.during(args)
	}
	return pass.tail, pass.err
}

func (f *fakeRunner) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// recordingStore keeps every persisted job state.
type recordingStore struct {
	mu     sync.Mutex
	writes []model.JobState
	err    error
}

func (s *recordingStore) SaveJobState(_ context.Context, _ int64, st model.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, st)
	return nil
}

func (s *recordingStore) progressSeq() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, w.Progress)
	}
	return out
}

func (s *recordingStore) last() model.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return model.JobState{}
	}
	return s.writes[len(s.writes)-1]
}

func progressLines(micros ...int64) []string {
	var lines []string
	for _, us := range micros {
		lines = append(lines,
			"frame=100",
			"out_time_us="+strconv.FormatInt(us, 10),
			"speed=2.0x",
			"progress=continue",
		)
	}
	return append(lines, "progress=end")
}
