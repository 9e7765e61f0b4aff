package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
	"schemaevo/internal/domain"
)

func newImpactCmd(env *engine) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "impact <dataset>",
		Short: "Show the downstream impact of a dataset's most recent change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.GetImpact(ctx, args[0], maxDepth)
				if err != nil {
					return err
				}
				if isJSON(cmd) {
					if report.Entries == nil {
						report.Entries = []domain.ImpactEntry{}
					}
					return printJSON(cmd.OutOrStdout(), report)
				}

				w := cmd.OutOrStdout()
				if report.Diff == nil {
					_, _ = fmt.Fprintf(w, "%s has no recorded change\n", report.DatasetID)
					return nil
				}
				if err := printDetail(w, [][2]string{
					{"Dataset", report.DatasetID},
					{"Change", fmt.Sprintf("sequence %d -> %d", report.Diff.FromSequence, report.Diff.ToSequence)},
					{"Severity", report.Diff.OverallSeverity.String()},
					{"Impact", fmt.Sprintf("%d downstream, score %d (%s)",
						report.Summary.Total, report.Summary.Score, report.Summary.Level)},
				}); err != nil {
					return err
				}
				if len(report.Cycles) > 0 {
					_, _ = fmt.Fprintf(w, "%d lineage cycle(s) skipped\n", len(report.Cycles))
				}
				if len(report.Entries) == 0 {
					return nil
				}
				_, _ = fmt.Fprintln(w)
				return printImpact(w, report.Entries)
			})
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum hops to follow (0 = configured default)")
	return cmd
}
