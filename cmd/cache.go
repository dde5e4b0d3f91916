package cmd

import (
	"context"
	"fmt"

	"TrackVault/app"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and trim the local track cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("tracks:    %d\n", stats.TotalTracks)
		fmt.Printf("used:      %s of %s\n", humanize.IBytes(uint64(stats.TotalBytes)), humanize.IBytes(uint64(stats.QuotaBytes)))
		fmt.Printf("available: %s\n", humanize.IBytes(uint64(stats.AvailableBytes)))
		fmt.Printf("remote:    %t\n", stats.RemoteEnabled)
		return nil
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Run one eviction pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Policy.Enforce(cmd.Context())
		if !res.Triggered() && err == nil {
			fmt.Printf("usage %s is below the %s threshold, nothing evicted\n",
				humanize.IBytes(uint64(res.UsageBefore)), humanize.IBytes(uint64(res.Threshold)))
			return nil
		}
		fmt.Printf("evicted %d tracks, freed %s\n", len(res.Evicted), humanize.IBytes(uint64(res.FreedBytes)))
		for _, id := range res.Evicted {
			fmt.Println("  " + id)
		}
		return err
	},
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	if cmd.Context() == nil {
		cmd.SetContext(context.Background())
	}
	return app.New(cmd.Context(), cfg)
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheEvictCmd)
	rootCmd.AddCommand(cacheCmd)
}
