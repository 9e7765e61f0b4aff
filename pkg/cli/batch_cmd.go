package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
	"schemaevo/internal/extract"
	"schemaevo/internal/service/evolution"
)

func newBatchCmd(env *engine) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <manifest>",
		Short: "Extract and evaluate every source listed in a manifest",
		Long: "Runs one evaluation per manifest source with bounded concurrency. " +
			"A failing source does not stop the others; the command exits non-zero if any failed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			man, err := extract.LoadManifest(args[0])
			if err != nil {
				return err
			}
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				report, err := a.NewScheduler(nil).RunJob(ctx, evolution.Job{Name: name, Sources: man.Sources})
				if report == nil {
					return err
				}

				if isJSON(cmd) {
					if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				} else if perr := printBatch(cmd, report, a.Service.CloudVersionPrefix()); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				if n := report.Failed(); n > 0 {
					return fmt.Errorf("%d of %d sources failed", n, len(report.Results))
				}
				return nil
			})
		},
	}
}

func printBatch(cmd *cobra.Command, report *evolution.BatchReport, prefix string) error {
	rows := make([][]string, 0, len(report.Results)+len(report.Skipped))
	for _, r := range report.Results {
		if r.Err != nil {
			rows = append(rows, []string{r.DatasetID, "failed", "", "", r.ErrorKind + ": " + r.Error})
			continue
		}
		status := "committed"
		switch {
		case r.Result.NoOp:
			status = "unchanged"
		case r.Result.Diff == nil:
			status = "registered"
		}
		detail := ""
		if r.Result.Diff != nil {
			detail = fmt.Sprintf("%d change(s), %d downstream", len(r.Result.Diff.Changes), r.Result.Summary.Total)
		}
		if r.Result.Degraded {
			detail += " (lineage unavailable)"
		}
		rows = append(rows, []string{
			r.DatasetID, status,
			r.Result.Version.SemanticVersion.String(),
			r.Result.Version.CloudLabel(prefix),
			detail,
		})
	}
	for _, id := range report.Skipped {
		rows = append(rows, []string{id, "skipped", "", "", ""})
	}
	return printTable(cmd.OutOrStdout(), []string{"DATASET", "STATUS", "VERSION", "CLOUD", "DETAIL"}, rows)
}
