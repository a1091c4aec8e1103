package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cotowatch/logger"
	"cotowatch/server"

	"github.com/spf13/cobra"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode <video-id>",
	Short: "Run the HLS job of one video in the foreground",
	Long: `Probe, encode and publish one video, then wait for its source to be removed.
Exits non-zero when the job fails; the failure is also recorded on the video.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid video id %q", args[0])
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.NewApp(ctx, cfg)
		if err != nil {
			return err
		}
		runErr := app.Orchestrator.Run(ctx, id)

		// Close waits for the deferred source deletion.
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.DeleteDelay+time.Minute)
		defer cancel()
		app.Close(closeCtx)

		if runErr != nil {
			return fmt.Errorf("transcode video %d: %w", id, runErr)
		}
		logger.Info("Transcode finished", logger.Int64("video", id))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transcodeCmd)
}
