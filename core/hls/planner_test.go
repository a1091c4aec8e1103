package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanForRemuxEligibleSources(t *testing.T) {
	info := MediaInfo{VideoCodec: "h264", AudioCodec: "aac", FrameRate: 59.94, Duration: 30}
	for _, mem := range []int{0, 512, 1800, 4000, 16000} {
		for _, cpus := range []int{1, 2, 16} {
			plan := PlanFor(info, SystemResources{AvailableMemMB: mem, CPUs: cpus})
			assert.True(t, plan.Remux, "mem=%d cpus=%d", mem, cpus)
		}
	}
}

func TestPlanForTranscodesWhenAnyTargetMissed(t *testing.T) {
	res := SystemResources{AvailableMemMB: 4000, CPUs: 8}
	cases := []MediaInfo{
		{VideoCodec: "hevc", AudioCodec: "aac", FrameRate: 60},
		{VideoCodec: "h264", AudioCodec: "mp3", FrameRate: 60},
		{VideoCodec: "h264", AudioCodec: "aac", FrameRate: 30},
		{VideoCodec: "h264", AudioCodec: "aac", FrameRate: 59.4},
		{},
	}
	for _, info := range cases {
		plan := PlanFor(info, res)
		assert.False(t, plan.Remux, "%+v", info)
		assert.Equal(t, qualityCRF, plan.CRF)
	}
}

func TestPlanForTiers(t *testing.T) {
	cases := []struct {
		mem       int
		preset    string
		lookahead int
	}{
		{mem: 500, preset: "veryfast", lookahead: 10},
		{mem: 1799, preset: "veryfast", lookahead: 10},
		{mem: 1800, preset: "fast", lookahead: 20},
		{mem: 3200, preset: "medium", lookahead: 40},
		{mem: 5999, preset: "medium", lookahead: 40},
		{mem: 6000, preset: "slow", lookahead: 60},
	}
	for _, tc := range cases {
		plan := PlanFor(MediaInfo{VideoCodec: "vp9"}, SystemResources{AvailableMemMB: tc.mem, CPUs: 64})
		assert.Equal(t, tc.preset, plan.Preset, "mem=%d", tc.mem)
		assert.Equal(t, tc.lookahead, plan.Lookahead, "mem=%d", tc.mem)
	}
}

func TestPlanForThreadsNeverExceedCPUs(t *testing.T) {
	for mem := 0; mem <= 20000; mem += 250 {
		for cpus := 0; cpus <= 12; cpus++ {
			plan := PlanFor(MediaInfo{VideoCodec: "mpeg4"}, SystemResources{AvailableMemMB: mem, CPUs: cpus})
			limit := cpus
			if limit < 1 {
				limit = 1
			}
			assert.LessOrEqual(t, plan.Threads, limit, "mem=%d cpus=%d", mem, cpus)
			assert.GreaterOrEqual(t, plan.Threads, 1)
		}
	}
}

func TestPlannerUsesSampler(t *testing.T) {
	p := &Planner{Sample: func() SystemResources { return SystemResources{AvailableMemMB: 7000, CPUs: 2} }}
	plan := p.Plan(MediaInfo{VideoCodec: "hevc"})
	assert.Equal(t, "slow", plan.Preset)
	assert.Equal(t, 2, plan.Threads)
}
