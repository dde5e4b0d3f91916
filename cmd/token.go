package cmd

import (
	"fmt"
	"time"

	"TrackVault/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken(cfg.JWTSecret, tokenUser, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
