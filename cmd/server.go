package cmd

import (
	"cotowatch/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP and WebSocket server",
	Long: `Start the HTTP API and the room WebSockets. With JOB_QUEUE=local the HLS
jobs run inside this process; with JOB_QUEUE=rabbitmq they are published for
the worker command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
