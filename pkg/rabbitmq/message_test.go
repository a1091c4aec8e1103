package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMessageRoundTrip(t *testing.T) {
	body, err := EncodeJob(42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"video_id":42}`, string(body))

	msg, err := DecodeJob(body)
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.VideoID)
}

func TestDecodeJobRejectsBadBodies(t *testing.T) {
	for _, body := range []string{``, `not json`, `{}`, `{"video_id":0}`, `{"video_id":-3}`} {
		_, err := DecodeJob([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidJob, body)
	}
}

func TestJobHandler(t *testing.T) {
	var got int64
	boom := errors.New("exit status 1")
	h := JobHandler(func(_ context.Context, id int64) error {
		got = id
		if id == 7 {
			return boom
		}
		return nil
	})

	require.NoError(t, h(context.Background(), amqp.Delivery{Body: []byte(`{"video_id":3}`)}))
	assert.Equal(t, int64(3), got)

	assert.ErrorIs(t, h(context.Background(), amqp.Delivery{Body: []byte(`{"video_id":7}`)}), boom)
	assert.ErrorIs(t, h(context.Background(), amqp.Delivery{Body: []byte(`oops`)}), ErrInvalidJob)
}
