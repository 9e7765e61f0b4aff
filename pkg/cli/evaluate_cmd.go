package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
	"schemaevo/internal/domain"
	"schemaevo/internal/extract"
	"schemaevo/internal/service/evolution"
)

func newEvaluateCmd(env *engine) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "evaluate <dataset> <schema-file>",
		Short: "Evaluate a new schema for a dataset and record the resulting version",
		Long: "Diffs the schema document (JSON or YAML) against the dataset's latest snapshot, " +
			"classifies every change, assigns the next version and reports downstream impact.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := extract.ReadSchemaFile(args[1])
			if err != nil {
				return err
			}
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Evaluate(ctx, args[0], schema, evolution.EvaluateOptions{Force: force})
				if err != nil {
					return err
				}
				if isJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), res)
				}
				return printEvaluation(cmd.OutOrStdout(), res, a.Service.CloudVersionPrefix())
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Record a new version even if the schema is unchanged")
	return cmd
}

func printEvaluation(w io.Writer, res *evolution.EvaluationResult, prefix string) error {
	status := "committed"
	switch {
	case res.NoOp:
		status = "unchanged"
	case res.Diff == nil:
		status = "registered"
	}
	pairs := [][2]string{
		{"Dataset", res.DatasetID},
		{"Status", status},
		{"Sequence", strconv.FormatInt(res.Snapshot.Sequence, 10)},
		{"Severity", res.Severity.String()},
		{"Version", res.Version.SemanticVersion.String()},
		{"Cloud version", res.Version.CloudLabel(prefix)},
	}
	if res.Diff != nil {
		pairs = append(pairs, [2]string{"Impact", fmt.Sprintf("%d downstream (%s)", res.Summary.Total, res.Summary.Level)})
	}
	if res.Degraded {
		pairs = append(pairs, [2]string{"Lineage", "unavailable, impact not computed"})
	}
	if err := printDetail(w, pairs); err != nil {
		return err
	}

	if res.Diff != nil && len(res.Diff.Changes) > 0 {
		_, _ = fmt.Fprintln(w)
		if err := printChanges(w, res.Diff.Changes); err != nil {
			return err
		}
	}
	if len(res.Impact) > 0 {
		_, _ = fmt.Fprintln(w)
		return printImpact(w, res.Impact)
	}
	return nil
}

func printChanges(w io.Writer, changes []domain.ChangeRecord) error {
	rows := make([][]string, len(changes))
	for i, c := range changes {
		rows[i] = []string{c.FieldPath, string(c.Kind), c.Severity.String(), describeChange(c)}
	}
	return printTable(w, []string{"FIELD", "CHANGE", "SEVERITY", "DETAIL"}, rows)
}

func describeChange(c domain.ChangeRecord) string {
	switch {
	case c.Before == nil && c.After != nil:
		return c.After.Type.Signature()
	case c.Before != nil && c.After == nil:
		return c.Before.Type.Signature()
	case c.Before != nil && c.After != nil:
		before, after := c.Before.Type.Signature(), c.After.Type.Signature()
		if c.Kind == domain.ChangeNullabilityChanged {
			before, after = nullability(c.Before.Nullable), nullability(c.After.Nullable)
		}
		if before == after {
			return ""
		}
		return before + " -> " + after
	}
	return ""
}

func nullability(nullable bool) string {
	if nullable {
		return "nullable"
	}
	return "required"
}

func printImpact(w io.Writer, entries []domain.ImpactEntry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.AffectedDatasetID,
			string(e.Kind),
			strconv.Itoa(e.Distance),
			string(e.EdgeType),
			e.InheritedSeverity.String(),
			strings.Join(e.Path, " > "),
		}
	}
	return printTable(w, []string{"AFFECTED", "KIND", "DISTANCE", "EDGE", "SEVERITY", "PATH"}, rows)
}
