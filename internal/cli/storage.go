package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Object storage maintenance",
}

// Cleanup only touches stored files; records that still point at a removed
// object fail on reprocess with a download error.
var storageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove uploaded files older than --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		threshold := time.Now().Add(-cleanupOlderThan)
		n, err := application.Storage.CleanupBefore(cmd.Context(), threshold)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d objects stored before %s\n", n, threshold.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageCleanupCmd)
	storageCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "age threshold")
}
