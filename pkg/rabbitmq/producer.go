package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes HLS jobs. It satisfies hls.Dispatcher.
type Producer struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	topology Topology
}

func NewProducer(conn *amqp.Connection, t Topology) (*Producer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declare(ch, t); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	return &Producer{ch: ch, topology: t}, nil
}

func (p *Producer) Enqueue(ctx context.Context, videoID int64) error {
	body, err := EncodeJob(videoID)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.topology.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Producer) Close() error {
	return p.ch.Close()
}
