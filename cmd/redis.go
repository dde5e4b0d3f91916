package cmd

import (
	"context"
	"fmt"
	"time"

	"TrackVault/cache"
	"TrackVault/model"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis metadata cache",
	Long:  `Connect to Redis and round-trip a record through the metadata cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		fmt.Printf("Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		c := cache.NewRedisCache(client, nil)
		probe := model.TrackRecord{ID: "redis-probe", Format: "mp3", CreatedAt: time.Now()}
		c.Set(ctx, probe.ID, probe, time.Minute)
		got, ok := c.Get(ctx, probe.ID)
		c.Delete(ctx, probe.ID)
		if !ok || got.ID != probe.ID {
			return fmt.Errorf("redis round trip failed")
		}
		fmt.Println("Redis metadata cache OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
