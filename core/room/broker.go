package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cotowatch/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "watchparty:"

type envelope struct {
	Origin  string `json:"origin"`
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// RedisBroker relays room payloads between instances over Redis pub/sub.
type RedisBroker struct {
	client   *redis.Client
	instance string
	ready    chan struct{}
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client:   client,
		instance: uuid.NewString(),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisBroker) Ready() <-chan struct{} { return b.ready }

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := json.Marshal(envelope{Origin: b.instance, Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelPrefix+topic, data).Err()
}

// Run subscribes to every room channel and hands payloads from other instances to deliver.
func (b *RedisBroker) Run(ctx context.Context, deliver func(topic string, payload []byte)) error {
	ps := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to room channels: %w", err)
	}
	close(b.ready)
	logger.Info("room broker subscribed", logger.String("instance", b.instance))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("discarding malformed relay message",
					logger.String("channel", msg.Channel),
					logger.ErrorField(err))
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			topic := env.Topic
			if topic == "" {
				topic = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			deliver(topic, env.Payload)
		}
	}
}
