package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

var (
	docsStatus string
	docsLimit  int
)

var docsCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"documents"},
	Short:   "List, delete or reprocess documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := application.Store.ListDocuments(cmd.Context(), database.ListFilter{
			Status: models.DocumentStatus(docsStatus),
			Limit:  docsLimit,
		})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tCHUNKS\tCREATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%d\t%s\n",
				d.ID, d.Name, d.Status, d.Progress, d.ChunksCount, d.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a document with its vectors and stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := application.IngestService(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var docsReprocessCmd = &cobra.Command{
	Use:   "reprocess ID",
	Short: "Drop a document's vectors and chunks and queue it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := application.IngestService(cmd.Context())
		if err != nil {
			return err
		}
		res, err := svc.Reprocess(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\ttask=%s\n", res.DocumentID, res.TaskID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsListCmd, docsDeleteCmd, docsReprocessCmd)
	docsListCmd.Flags().StringVar(&docsStatus, "status", "", "only documents in this status")
	docsListCmd.Flags().IntVarP(&docsLimit, "limit", "n", 50, "maximum rows")
}
