package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feichai0017/knowledge-pipeline/internal/service/rag"
)

var (
	queryText   string
	queryTopK   int
	queryModel  string
	queryStream bool
	queryJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a question against the indexed documents",
	Long: `Embed the question, retrieve the nearest chunks and generate a grounded answer.

Examples:
  ragctl query -q "what is the refund window?"
  ragctl query -q "summarize the handbook" --stream --model qwen2.5:7b`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	queryCmd.Flags().StringVarP(&queryModel, "model", "m", "", "generation model (default: active model)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "print the answer as it is generated")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	_ = queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := application.Pipeline()
	req := rag.QueryRequest{
		Question: queryText,
		TopK:     queryTopK,
		Model:    application.Resolver.Resolve(ctx, queryModel),
	}
	out := cmd.OutOrStdout()

	if queryStream && !queryJSON {
		s, err := p.QueryStream(ctx, req)
		if err != nil {
			return err
		}
		for frag, err := range s.Fragments {
			if err != nil {
				return err
			}
			fmt.Fprint(out, frag)
		}
		fmt.Fprintln(out)
		printSources(cmd, s.Sources)
		return nil
	}

	resp, err := p.Query(ctx, req)
	if err != nil {
		return err
	}
	if queryJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(out, resp.Answer)
	printSources(cmd, resp.Sources)
	return nil
}

func printSources(cmd *cobra.Command, sources []rag.Source) {
	if len(sources) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nSources:")
	for i, s := range sources {
		name, _ := s.Metadata["filename"].(string)
		fmt.Fprintf(out, "  [%d] %.3f %s\n", i+1, s.Score, name)
	}
}
