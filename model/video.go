package model

import (
	"fmt"
	"time"
)

// HLSStatus is the stage an HLS job for a video has reached.
type HLSStatus string

const (
	HLSPending   HLSStatus = "pending"
	HLSRemux     HLSStatus = "remux"
	HLSTranscode HLSStatus = "transcode"
	HLSSegment   HLSStatus = "segment"
	HLSDone      HLSStatus = "done"
	HLSError     HLSStatus = "error"
)

// Terminal reports whether no further transitions happen within the current job run.
func (s HLSStatus) Terminal() bool {
	return s == HLSDone || s == HLSError
}

// Video is an uploaded asset together with the state of its HLS job.
type Video struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string    `json:"title" gorm:"size:200;not null"`
	Description string    `json:"description" gorm:"type:text"`
	OwnerID     int64     `json:"ownerId" gorm:"index;not null"`
	SourcePath  string    `json:"sourcePath" gorm:"size:512"`
	FileSize    int64     `json:"fileSize"`
	Duration    *float64  `json:"duration,omitempty"` // seconds, nil until probed
	Views       int64     `json:"views" gorm:"default:0"`
	HLSProgress int       `json:"hlsProgress" gorm:"default:0"`
	HLSStatus   HLSStatus `json:"hlsStatus" gorm:"size:20;default:'pending';index"`
	HLSLog      string    `json:"-" gorm:"type:mediumtext"`
	HLSManifest *string   `json:"hlsManifest,omitempty" gorm:"size:512"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Video) TableName() string {
	return "videos"
}

// HasMetadata reports whether duration and size are both already recorded.
func (v *Video) HasMetadata() bool {
	return v.Duration != nil && *v.Duration > 0 && v.FileSize > 0
}

// JobState is the slice of a Video the HLS pipeline reads and writes.
type JobState struct {
	Progress int       `json:"progress"`
	Status   HLSStatus `json:"status"`
	Log      string    `json:"log"`
	Manifest string    `json:"manifest,omitempty"`
}

// JobState extracts the job fields of v.
func (v *Video) JobState() JobState {
	st := JobState{Progress: v.HLSProgress, Status: v.HLSStatus, Log: v.HLSLog}
	if v.HLSManifest != nil {
		st.Manifest = *v.HLSManifest
	}
	return st
}

// ApplyJobState copies st onto v.
func (v *Video) ApplyJobState(st JobState) {
	v.HLSProgress = st.Progress
	v.HLSStatus = st.Status
	v.HLSLog = st.Log
	if st.Manifest != "" {
		m := st.Manifest
		v.HLSManifest = &m
	} else {
		v.HLSManifest = nil
	}
}

// HLSProgressView is returned by the progress endpoint.
type HLSProgressView struct {
	Progress      int       `json:"progress"`
	Status        HLSStatus `json:"status"`
	LogTail       string    `json:"log_tail"`
	Manifest      *string   `json:"manifest"`
	FileSizeHuman string    `json:"file_size_human"`
	DurationHuman string    `json:"duration_human"`
}

const progressLogTail = 2000

// ProgressView builds the polling payload for v.
func (v *Video) ProgressView() HLSProgressView {
	tail := v.HLSLog
	if len(tail) > progressLogTail {
		tail = tail[len(tail)-progressLogTail:]
	}
	var dur float64
	if v.Duration != nil {
		dur = *v.Duration
	}
	return HLSProgressView{
		Progress:      v.HLSProgress,
		Status:        v.HLSStatus,
		LogTail:       tail,
		Manifest:      v.HLSManifest,
		FileSizeHuman: HumanFileSize(v.FileSize),
		DurationHuman: HumanDuration(dur),
	}
}

// HumanFileSize formats a byte count with binary units, e.g. "1.5 GB".
func HumanFileSize(size int64) string {
	if size <= 0 {
		return "-"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(size)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", size)
	}
	return fmt.Sprintf("%.1f %s", f, units[i])
}

// HumanDuration formats seconds as H:MM:SS, or "-" when unknown.
func HumanDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	total := int64(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
