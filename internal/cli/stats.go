package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue, index and document statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pending, err := application.Queue.QueueLength(ctx)
		if err != nil {
			return err
		}
		processing, err := application.Queue.ProcessingCount(ctx)
		if err != nil {
			return err
		}
		vs, err := application.Index.GetStats(ctx)
		if err != nil {
			return err
		}
		sum, err := application.Store.GetDocumentsSummary(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "queue:     %d pending, %d processing\n", pending, processing)
		fmt.Fprintf(out, "index:     %s, %d vectors from %d documents (dim %d)\n",
			vs.Collection, vs.Vectors, vs.Documents, vs.Dimension)
		fmt.Fprintf(out, "documents: %d total, %d completed, %d processing, %d failed\n",
			sum.Total, sum.Completed, sum.Processing, sum.Failed)
		fmt.Fprintf(out, "content:   %d chunks, %d words, %d bytes\n", sum.TotalChunks, sum.TotalWords, sum.TotalSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
