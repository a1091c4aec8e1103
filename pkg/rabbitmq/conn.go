package rabbitmq

import (
	"context"
	"errors"
	"time"

	"cotowatch/config"
	"cotowatch/logger"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	queueName  = "hls_jobs"
	routingKey = "hls.transcode"
)

// Topology names the exchange and queue HLS jobs travel through.
type Topology struct {
	Exchange string
	Kind     string
}

func TopologyFromConfig(cfg *config.Config) Topology {
	return Topology{Exchange: cfg.RabbitMQExchange, Kind: cfg.RabbitMQKind}
}

// Dial connects to the broker, retrying with exponential backoff. The connection is
// closed when ctx ends.
func Dial(ctx context.Context, url string, log *zap.Logger) (*amqp.Connection, error) {
	if log == nil {
		log = logger.Named("rabbitmq")
	}
	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("failed to connect to RabbitMQ, retrying", logger.ErrorField(err))
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		return nil, err
	}
	log.Info("connected to RabbitMQ")

	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			log.Warn("failed to close RabbitMQ connection", logger.ErrorField(err))
		}
	}()
	return conn, nil
}

// declare sets up the exchange, the durable job queue and its binding.
func declare(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, t.Kind, true, false, false, false, nil); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	return ch.QueueBind(q.Name, routingKey, t.Exchange, false, nil)
}
