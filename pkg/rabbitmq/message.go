package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidJob marks a message that can never be processed.
var ErrInvalidJob = errors.New("invalid hls job message")

// JobMessage is the body of an HLS job.
type JobMessage struct {
	VideoID int64 `json:"video_id"`
}

func EncodeJob(videoID int64) ([]byte, error) {
	return json.Marshal(JobMessage{VideoID: videoID})
}

func DecodeJob(body []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if msg.VideoID <= 0 {
		return msg, fmt.Errorf("%w: missing video_id", ErrInvalidJob)
	}
	return msg, nil
}
