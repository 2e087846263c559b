package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/feichai0017/knowledge-pipeline/internal/service/rag"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Show or change the active generation model",
}

var modelGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the active model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		override, err := application.Models.ActiveModel(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "active:   %s\n", application.Resolver.Resolve(ctx, ""))
		fmt.Fprintf(out, "override: %s\n", orNone(override))
		fmt.Fprintf(out, "default:  %s\n", application.Resolver.Default())
		return nil
	},
}

var modelSetForce bool

var modelSetCmd = &cobra.Command{
	Use:   "set MODEL",
	Short: "Override the default model for every process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		model := args[0]
		if !modelSetForce {
			name, err := rag.InstalledModel(ctx, application.Ollama, model)
			if err != nil {
				return err
			}
			model = name
		}
		if err := application.Models.SetActiveModel(ctx, model); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active model set to %s\n", model)
		return nil
	},
}

var modelPullCmd = &cobra.Command{
	Use:   "pull MODEL",
	Short: "Download a model to the Ollama server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Ollama.Pull(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pulled %s\n", args[0])
		return nil
	},
}

var modelRmCmd = &cobra.Command{
	Use:   "rm MODEL",
	Short: "Delete a model from the Ollama server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Ollama.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var modelClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the override and fall back to the configured default",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Models.ClearActiveModel(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "override cleared, using %s\n", application.Resolver.Default())
		return nil
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models installed on the Ollama server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := application.Ollama.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		for _, m := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\n", m.Name, m.Size, m.ModifiedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelGetCmd, modelSetCmd, modelClearCmd, modelListCmd, modelPullCmd, modelRmCmd)
	modelSetCmd.Flags().BoolVar(&modelSetForce, "force", false, "skip checking that the model is installed")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
