package rabbitmq

import (
	"context"
	"errors"
	"sync"

	"cotowatch/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery. The consumer acks on nil and nacks otherwise.
type Handler func(ctx context.Context, msg amqp.Delivery) error

// Consumer feeds deliveries from the job queue to a fixed pool of workers.
type Consumer struct {
	conn       *amqp.Connection
	topology   Topology
	handler    Handler
	numWorkers int
	log        *zap.Logger
}

func NewConsumer(conn *amqp.Connection, t Topology, numWorkers int, handler Handler, log *zap.Logger) *Consumer {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.Named("rabbitmq")
	}
	return &Consumer{conn: conn, topology: t, handler: handler, numWorkers: numWorkers, log: log}
}

// Consume blocks until ctx ends or the broker closes the delivery channel.
func (c *Consumer) Consume(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declare(ch, c.topology); err != nil {
		c.log.Error("failed to declare topology", logger.String("queue", queueName), logger.ErrorField(err))
		return err
	}
	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		c.log.Error("failed to set QoS", logger.String("queue", queueName), logger.ErrorField(err))
		return err
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		c.log.Error("failed to consume queue", logger.String("queue", queueName), logger.ErrorField(err))
		return err
	}

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerID, msg)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}
			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, msg amqp.Delivery) {
	if err := c.handler(ctx, msg); err != nil {
		c.log.Error("failed to handle message",
			logger.Int("worker", workerID),
			logger.Uint64("delivery_tag", msg.DeliveryTag),
			logger.Bool("invalid", errors.Is(err, ErrInvalidJob)),
			logger.ErrorField(err))
		// failed jobs stay failed; a retry is a manual transcode run
		if nerr := msg.Nack(false, false); nerr != nil {
			c.log.Error("failed to nack message", logger.ErrorField(nerr))
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.log.Error("failed to acknowledge message", logger.ErrorField(err))
	}
}

// JobHandler decodes HLS job messages and hands them to run.
func JobHandler(run func(ctx context.Context, videoID int64) error) Handler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		job, err := DecodeJob(msg.Body)
		if err != nil {
			return err
		}
		return run(ctx, job.VideoID)
	}
}
