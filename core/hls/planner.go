package hls

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	targetVideoCodec = "h264"
	targetAudioCodec = "aac"
	remuxMinFPS      = 59.5

	qualityCRF  = 18
	maxRate     = "12M"
	bufSize     = "20M"
	audioRate   = "192k"
	audioSample = "48000"
)

// EncodePlan carries the encoder parameters for one job.
type EncodePlan struct {
	Remux     bool
	Preset    string
	Threads   int
	Lookahead int
	CRF       int
}

func (p EncodePlan) String() string {
	if p.Remux {
		return "remux (stream copy)"
	}
	return fmt.Sprintf("transcode preset=%s threads=%d rc-lookahead=%d crf=%d", p.Preset, p.Threads, p.Lookahead, p.CRF)
}

// SystemResources is a snapshot of what the encoder may use.
type SystemResources struct {
	AvailableMemMB int
	CPUs           int
}

// SampleResources reads available memory and the logical CPU count.
func SampleResources() SystemResources {
	res := SystemResources{CPUs: runtime.NumCPU()}
	if vm, err := mem.VirtualMemory(); err == nil {
		res.AvailableMemMB = int(vm.Available / (1024 * 1024))
	}
	return res
}

type tier struct {
	minMemMB  int
	preset    string
	threads   int
	lookahead int
}

// Ordered from the largest memory floor down. Quality never changes between tiers,
// only speed and parallelism.
var tiers = []tier{
	{minMemMB: 6000, preset: "slow", threads: 8, lookahead: 60},
	{minMemMB: 3200, preset: "medium", threads: 6, lookahead: 40},
	{minMemMB: 1800, preset: "fast", threads: 4, lookahead: 20},
	{minMemMB: 0, preset: "veryfast", threads: 2, lookahead: 10},
}

// Planner chooses between remuxing and transcoding.
type Planner struct {
	Sample func() SystemResources
}

func NewPlanner() *Planner {
	return &Planner{Sample: SampleResources}
}

// Plan samples the host and delegates to PlanFor.
func (p *Planner) Plan(info MediaInfo) EncodePlan {
	sample := p.Sample
	if sample == nil {
		sample = SampleResources
	}
	return PlanFor(info, sample())
}

// CanRemux reports whether the source can be segmented without re-encoding.
func CanRemux(info MediaInfo) bool {
	return info.VideoCodec == targetVideoCodec &&
		info.AudioCodec == targetAudioCodec &&
		info.FrameRate >= remuxMinFPS
}

// PlanFor is the pure decision table.
func PlanFor(info MediaInfo, res SystemResources) EncodePlan {
	if CanRemux(info) {
		return EncodePlan{Remux: true}
	}

	t := tiers[len(tiers)-1]
	for _, candidate := range tiers {
		if res.AvailableMemMB >= candidate.minMemMB {
			t = candidate
			break
		}
	}

	threads := t.threads
	cpus := res.CPUs
	if cpus < 1 {
		cpus = 1
	}
	if threads > cpus {
		threads = cpus
	}
	return EncodePlan{
		Preset:    t.preset,
		Threads:   threads,
		Lookahead: t.lookahead,
		CRF:       qualityCRF,
	}
}
