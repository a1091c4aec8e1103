package cmd

import (
	"context"
	"fmt"
	"time"

	"cotowatch/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis connection",
	Long:  `Connect to Redis and do a set/get/del round trip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)
		if err := db.ConnectRedis(cfg); err != nil {
			return err
		}
		defer db.CloseRedis()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := db.CheckRedis(ctx); err != nil {
			return err
		}
		fmt.Println("Redis OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
