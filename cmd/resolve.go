package cmd

import (
	"context"
	"fmt"

	"TrackVault/core/resolver"

	"github.com/spf13/cobra"
)

var (
	resolveTitle  string
	resolveArtist string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <trackId>",
	Short: "Ask the source resolver for a track's audio URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ResolverBaseURL == "" {
			return fmt.Errorf("RESOLVER_BASE_URL is not set")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		client := resolver.NewClient(cfg.ResolverBaseURL, cfg.ResolverTimeout)
		url, err := client.Resolve(ctx, resolver.Query{
			TrackID: args[0],
			Title:   resolveTitle,
			Artist:  resolveArtist,
		})
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveTitle, "title", "t", "", "track title")
	resolveCmd.Flags().StringVarP(&resolveArtist, "artist", "a", "", "artist name")
	rootCmd.AddCommand(resolveCmd)
}
