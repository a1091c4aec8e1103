package cmd

import (
	"context"
	"fmt"
	"time"

	"cotowatch/storage"

	"github.com/spf13/cobra"
)

var (
	storagePrefix    string
	storageStats     bool
	storageRecursive bool
	storageDelete    bool
)

// recursiveStore is implemented by object stores that can walk and purge prefixes.
type recursiveStore interface {
	ListRecursive(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect the published media",
	Long:  `List, summarise or delete published media under a prefix in the configured storage driver.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		var store storage.Storage
		if cfg.StorageDriver == "minio" {
			m, err := storage.NewMinioStorage(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Printf("MinIO: %s, bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
			store = m
		} else {
			fmt.Printf("Local media root: %s\n", cfg.MediaRoot)
			store = storage.NewLocalStorage(cfg.MediaRoot, cfg.PublicStreamURL)
		}
		rs, canRecurse := store.(recursiveStore)

		if storageDelete {
			if storagePrefix == "" {
				return fmt.Errorf("--delete needs --prefix")
			}
			if !canRecurse {
				return fmt.Errorf("storage driver %q cannot delete prefixes", cfg.StorageDriver)
			}
			n, err := rs.DeletePrefix(ctx, storagePrefix)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d objects under %s\n", n, storagePrefix)
			return nil
		}

		var objects []storage.ObjectInfo
		var err error
		if storageRecursive && canRecurse {
			objects, err = rs.ListRecursive(ctx, storagePrefix)
		} else {
			objects, err = store.List(ctx, storagePrefix)
		}
		if err != nil {
			return err
		}

		if storageStats {
			st := storage.Summarize(objects)
			fmt.Printf("Objects: %d\nSize: %d bytes\nLast modified: %s\n",
				st.TotalObjects, st.TotalSize, st.LastModified.Format(time.RFC3339))
			return nil
		}
		for _, o := range objects {
			fmt.Printf("%-60s %12d  %s\n", o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d objects\n", len(objects))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)

	storageCmd.Flags().StringVarP(&storagePrefix, "prefix", "p", "", "only objects under this prefix")
	storageCmd.Flags().BoolVarP(&storageStats, "stats", "s", false, "print a summary instead of the listing")
	storageCmd.Flags().BoolVarP(&storageRecursive, "recursive", "r", false, "walk the whole prefix (object storage only)")
	storageCmd.Flags().BoolVarP(&storageDelete, "delete", "d", false, "delete every object under the prefix (object storage only)")

	storageCmd.Example = `  # list published streams
  cotowatch storage -p streams/

  # summary of one video's output
  cotowatch storage -r -s -p streams/12/

  # remove one video's output from the bucket
  cotowatch storage -d -p streams/12/`
}
