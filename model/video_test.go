package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanFileSize(t *testing.T) {
	cases := map[int64]string{
		0:                  "-",
		512:                "512 B",
		1536:               "1.5 KB",
		5 * 1024 * 1024:    "5.0 MB",
		3 << 40:            "3.0 TB",
	}
	for in, want := range cases {
		assert.Equal(t, want, HumanFileSize(in), "size %d", in)
	}
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "-", HumanDuration(0))
	assert.Equal(t, "0:02:00", HumanDuration(120.4))
	assert.Equal(t, "1:01:01", HumanDuration(3661))
}

func TestProgressViewTrimsLog(t *testing.T) {
	dur := 120.0
	v := &Video{
		FileSize:    2048,
		Duration:    &dur,
		HLSProgress: 50,
		HLSStatus:   HLSTranscode,
		HLSLog:      strings.Repeat("a", 500) + strings.Repeat("b", 2000),
	}
	view := v.ProgressView()
	assert.Len(t, view.LogTail, 2000)
	assert.Equal(t, strings.Repeat("b", 2000), view.LogTail)
	assert.Equal(t, "2.0 KB", view.FileSizeHuman)
	assert.Equal(t, "0:02:00", view.DurationHuman)
	assert.Nil(t, view.Manifest)
}

func TestJobStateRoundTrip(t *testing.T) {
	v := &Video{}
	v.ApplyJobState(JobState{Progress: 100, Status: HLSDone, Log: "ok", Manifest: "streams/1/master.m3u8"})
	if assert.NotNil(t, v.HLSManifest) {
		assert.Equal(t, "streams/1/master.m3u8", *v.HLSManifest)
	}
	assert.Equal(t, JobState{Progress: 100, Status: HLSDone, Log: "ok", Manifest: "streams/1/master.m3u8"}, v.JobState())
	assert.True(t, v.HLSStatus.Terminal())
}

func TestHasMetadata(t *testing.T) {
	v := &Video{}
	assert.False(t, v.HasMetadata())
	d := 10.0
	v.Duration = &d
	assert.False(t, v.HasMetadata())
	v.FileSize = 1
	assert.True(t, v.HasMetadata())
}
