package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParserElapsedEncodings(t *testing.T) {
	p := NewProgressParser()

	upd, ok := p.Feed("out_time=00:01:02.500000")
	require.True(t, ok)
	assert.InDelta(t, 62.5, upd.Elapsed, 1e-9)

	upd, ok = p.Feed("out_time_us=2000000")
	require.True(t, ok)
	assert.InDelta(t, 2.0, upd.Elapsed, 1e-9)

	// once microseconds are known the ambiguous ms key is ignored
	_, ok = p.Feed("out_time_ms=2000000")
	assert.False(t, ok)
	upd, ok = p.Feed("progress=continue")
	require.True(t, ok)
	assert.False(t, upd.HasElapsed)
}

// ffmpeg prints out_time_ms in microseconds; the clock in the same block wins.
func TestProgressParserPrefersClockOverMillis(t *testing.T) {
	p := NewProgressParser()
	var elapsed []float64
	for _, l := range []string{
		"frame=250",
		"out_time_ms=10000000",
		"out_time=00:00:10.000000",
		"speed=2.0x",
		"progress=continue",
	} {
		if upd, ok := p.Feed(l); ok && upd.HasElapsed {
			elapsed = append(elapsed, upd.Elapsed)
		}
	}
	assert.Equal(t, []float64{10}, elapsed)

	pct, known := Percent(elapsed[0], 120)
	require.True(t, known)
	assert.InDelta(t, 8.33, pct, 0.01)
}

func TestProgressParserMillisAloneIsUsedAtBlockEnd(t *testing.T) {
	p := NewProgressParser()

	_, ok := p.Feed("out_time_ms=1500")
	assert.False(t, ok, "held until the block closes")

	upd, ok := p.Feed("progress=continue")
	require.True(t, ok)
	require.True(t, upd.HasElapsed)
	assert.InDelta(t, 1.5, upd.Elapsed, 1e-9)
	assert.True(t, upd.BlockDone)

	upd, ok = p.Feed("progress=end")
	require.True(t, ok)
	assert.False(t, upd.HasElapsed, "pending value does not leak into the next block")
}

func TestProgressParserBlocks(t *testing.T) {
	p := NewProgressParser()
	for _, l := range []string{"frame=42", "out_time=00:00:04.000000", "speed=1.5x"} {
		p.Feed(l)
	}
	upd, ok := p.Feed("progress=continue")
	require.True(t, ok)
	assert.True(t, upd.BlockDone)
	assert.False(t, upd.End)
	assert.Contains(t, upd.Summary, "frame=42")
	assert.Contains(t, upd.Summary, "speed=1.5x")

	upd, ok = p.Feed("progress=end")
	require.True(t, ok)
	assert.True(t, upd.End)
}

func TestProgressParserIgnoresNoise(t *testing.T) {
	p := NewProgressParser()
	for _, l := range []string{"", "garbage", "bitrate=N/A", "out_time_us=N/A", "out_time=-00:00:00.023", "out_time_ms=-5"} {
		_, ok := p.Feed(l)
		assert.False(t, ok, l)
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]float64{
		"00:00:00.000000": 0,
		"00:00:10.5":      10.5,
		"01:00:00":        3600,
		"02:30":           150,
	}
	for in, want := range cases {
		got, ok := ParseClock(in)
		require.True(t, ok, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	for _, in := range []string{"", "N/A", "12", "a:b:c", "1:2:3:4"} {
		_, ok := ParseClock(in)
		assert.False(t, ok, in)
	}
}

func TestPercent(t *testing.T) {
	_, ok := Percent(10, 0)
	assert.False(t, ok)

	pct, ok := Percent(60, 120)
	require.True(t, ok)
	assert.InDelta(t, 50, pct, 1e-9)

	pct, _ = Percent(500, 120)
	assert.Equal(t, 100.0, pct)
	pct, _ = Percent(-1, 120)
	assert.Equal(t, 0.0, pct)
}
