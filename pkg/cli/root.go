package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"schemaevo/internal/service/evolution"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]any{
				"error": err.Error(),
				"kind":  evolution.ErrorKind(err),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		output  string
		envFile string
	)

	rootCmd := &cobra.Command{
		Use:   "schemactl",
		Short: "Schema evolution, versioning and lineage impact",
		Long: "Track dataset schema history, assign semantic versions to every change " +
			"and report which downstream datasets a change affects.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("SCHEMACTL_OUTPUT"); v != "" {
					output = v
				}
			}
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file read before the environment")

	env := &engine{envFile: &envFile}

	rootCmd.AddCommand(newEvaluateCmd(env))
	rootCmd.AddCommand(newHistoryCmd(env))
	rootCmd.AddCommand(newImpactCmd(env))
	rootCmd.AddCommand(newVersionsCmd(env))
	rootCmd.AddCommand(newDatasetsCmd(env))
	rootCmd.AddCommand(newLineageCmd(env))
	rootCmd.AddCommand(newBatchCmd(env))
	rootCmd.AddCommand(newServeCmd(env))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
