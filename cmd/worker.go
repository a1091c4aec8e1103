package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cotowatch/logger"
	"cotowatch/pkg/rabbitmq"
	"cotowatch/server"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume HLS jobs from RabbitMQ",
	Long: `Consume HLS jobs published by servers running with JOB_QUEUE=rabbitmq and
run them with HLS_WORKERS parallel jobs. Failed jobs are not redelivered; use
the transcode command to retry one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.NewApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			app.Close(closeCtx)
		}()

		log := logger.Named("worker")
		conn, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, log)
		if err != nil {
			return err
		}
		consumer := rabbitmq.NewConsumer(conn, rabbitmq.TopologyFromConfig(cfg), cfg.HLSWorkers,
			rabbitmq.JobHandler(app.Orchestrator.Run), log)

		logger.Info("Worker started", logger.Int("workers", cfg.HLSWorkers), logger.String("exchange", cfg.RabbitMQExchange))
		if err := consumer.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("Worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
