package cmd

import (
	"context"
	"fmt"

	"TrackVault/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete string
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect the remote track bucket",
	Long:  `List objects in the MinIO bucket, print bucket statistics or delete a single object.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.RemoteEnabled() {
			return fmt.Errorf("remote tier is not configured (set MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY)")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		fmt.Printf("MinIO: %s, bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect minio: %w", err)
		}

		switch {
		case minioDelete != "":
			if err := store.Delete(ctx, minioDelete); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", minioDelete)
		case minioStats:
			stats, err := store.Stats(ctx, minioPrefix)
			if err != nil {
				return err
			}
			fmt.Printf("objects:       %d\n", stats.TotalObjects)
			fmt.Printf("total size:    %s\n", humanize.IBytes(uint64(stats.TotalSize)))
			if !stats.LastModified.IsZero() {
				fmt.Printf("last modified: %s\n", humanize.Time(stats.LastModified))
			}
		default:
			objects, err := store.ListObjects(ctx, minioPrefix)
			if err != nil {
				return err
			}
			for _, obj := range objects {
				fmt.Printf("%-50s %10s  %s\n", obj.Key, humanize.IBytes(uint64(obj.Size)), obj.LastModified.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("%d objects\n", len(objects))
		}
		return nil
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "tracks/", "object key prefix")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "print bucket statistics")
	minioCmd.Flags().StringVar(&minioDelete, "delete", "", "delete the object with this key")
	rootCmd.AddCommand(minioCmd)
}
