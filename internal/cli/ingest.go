package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/knowledge-pipeline/internal/service/document"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
)

var (
	ingestTags    []string
	ingestWait    bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Upload files and queue them for processing",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringSliceVarP(&ingestTags, "tag", "t", nil, "tag to attach (repeatable)")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "wait until every task finishes")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "how long --wait may take")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := application.IngestService(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var tasks []*document.UploadResult
	for _, path := range args {
		res, err := uploadFile(ctx, svc, path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s\tdocument=%s\ttask=%s\n", path, res.DocumentID, res.TaskID)
		tasks = append(tasks, res)
	}
	var uploadErr error
	if failed := len(args) - len(tasks); failed > 0 {
		uploadErr = fmt.Errorf("%d of %d files failed to upload", failed, len(args))
	}
	if !ingestWait {
		return uploadErr
	}

	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()
	stop, err := startLocalWorker(ctx)
	if err != nil {
		return err
	}
	defer stop()
	for _, t := range tasks {
		if err := reportTask(ctx, out, svc, t); err != nil {
			return err
		}
	}
	return uploadErr
}

// startLocalWorker processes the queue inside this process when documents
// live in memory, where no worker process can see them.
func startLocalWorker(ctx context.Context) (func(), error) {
	if !application.Config.UsesMemoryBackend() {
		return func() {}, nil
	}
	w, err := application.DocumentWorker(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return func() { _ = w.Stop() }, nil
}

func reportTask(ctx context.Context, out io.Writer, svc document.Ingester, t *document.UploadResult) error {
	res, err := waitTask(ctx, svc, t.TaskID)
	if err != nil {
		return err
	}
	if res.Status == queue.StatusFailed {
		fmt.Fprintf(out, "%s\tfailed: %s\n", t.DocumentID, res.Error)
		return nil
	}
	fmt.Fprintf(out, "%s\t%s\tchunks=%v\n", t.DocumentID, res.Status, res.Result["chunks"])
	return nil
}

func uploadFile(ctx context.Context, svc document.Ingester, path string) (*document.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return svc.Upload(ctx, f, document.UploadRequest{
		Filename: filepath.Base(path),
		Size:     st.Size(),
		Tags:     ingestTags,
	})
}

// waitTask polls until the task has a terminal result.
func waitTask(ctx context.Context, svc document.Ingester, taskID string) (*queue.TaskResult, error) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		res, err := svc.TaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if res.Status == queue.StatusCompleted || res.Status == queue.StatusFailed {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("task %s: %w", taskID, ctx.Err())
		case <-tick.C:
		}
	}
}
