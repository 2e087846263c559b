package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/knowledge-pipeline/internal/service/document"
)

var (
	crawlFollow  bool
	crawlDepth   int
	crawlTags    []string
	crawlWait    bool
	crawlTimeout time.Duration
)

var crawlCmd = &cobra.Command{
	Use:   "crawl URL",
	Short: "Queue a web page, and optionally its same-site links, for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := application.IngestService(ctx)
		if err != nil {
			return err
		}
		res, err := svc.Crawl(ctx, document.CrawlRequest{
			URL:         args[0],
			FollowLinks: crawlFollow,
			MaxDepth:    crawlDepth,
			Tags:        crawlTags,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\tdocument=%s\ttask=%s\n", args[0], res.DocumentID, res.TaskID)
		if !crawlWait {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, crawlTimeout)
		defer cancel()
		stop, err := startLocalWorker(ctx)
		if err != nil {
			return err
		}
		defer stop()
		return reportTask(ctx, out, svc, res)
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.Flags().BoolVarP(&crawlFollow, "follow", "f", false, "follow links on the same host")
	crawlCmd.Flags().IntVarP(&crawlDepth, "depth", "d", 0, "link hops to follow (0 uses the configured default)")
	crawlCmd.Flags().StringSliceVarP(&crawlTags, "tag", "t", nil, "tag to attach (repeatable)")
	crawlCmd.Flags().BoolVarP(&crawlWait, "wait", "w", false, "wait until the crawl is indexed")
	crawlCmd.Flags().DurationVar(&crawlTimeout, "timeout", 30*time.Minute, "how long --wait may take")
}
