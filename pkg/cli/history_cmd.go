package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
	"schemaevo/internal/domain"
)

func newHistoryCmd(env *engine) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <dataset>",
		Short: "List a dataset's snapshots and versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				history, err := a.Service.GetHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if isJSON(cmd) {
					if history == nil {
						history = []domain.HistoryEntry{}
					}
					return printJSON(cmd.OutOrStdout(), history)
				}
				prefix := a.Service.CloudVersionPrefix()
				rows := make([][]string, len(history))
				for i, h := range history {
					rows[i] = []string{
						strconv.FormatInt(h.Snapshot.Sequence, 10),
						h.Version.SemanticVersion.String(),
						h.Version.CloudLabel(prefix),
						h.Version.Severity.String(),
						strconv.Itoa(len(h.Snapshot.Schema.Fields)),
						h.Snapshot.CreatedAt.Format(time.RFC3339),
					}
				}
				return printTable(cmd.OutOrStdout(),
					[]string{"SEQ", "VERSION", "CLOUD", "SEVERITY", "FIELDS", "CREATED"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries (0 = all)")
	return cmd
}

func newVersionsCmd(env *engine) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <dataset>",
		Short: "Show the cloud version to semantic version mapping of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				mapping, err := a.Service.VersionMapping(ctx, args[0])
				if err != nil {
					return err
				}
				if isJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), mapping)
				}
				labels := make([]string, 0, len(mapping))
				for l := range mapping {
					labels = append(labels, l)
				}
				sort.Slice(labels, func(i, j int) bool {
					if len(labels[i]) != len(labels[j]) {
						return len(labels[i]) < len(labels[j])
					}
					return labels[i] < labels[j]
				})
				rows := make([][]string, len(labels))
				for i, l := range labels {
					rows[i] = []string{l, mapping[l]}
				}
				return printTable(cmd.OutOrStdout(), []string{"CLOUD", "VERSION"}, rows)
			})
		},
	}
}

func newDatasetsCmd(env *engine) *cobra.Command {
	var (
		maxResults int
		pageToken  string
	)
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets with recorded history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page := domain.PageRequest{MaxResults: maxResults, PageToken: pageToken}
			if err := page.Validate(); err != nil {
				return err
			}
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				ids, total, err := a.Service.ListDatasets(ctx, page)
				if err != nil {
					return err
				}
				next := domain.NextPageToken(page.Offset(), page.Limit(), total)
				if isJSON(cmd) {
					if ids == nil {
						ids = []string{}
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"datasets":      ids,
						"total":         total,
						"nextPageToken": next,
					})
				}
				rows := make([][]string, len(ids))
				for i, id := range ids {
					rows[i] = []string{id}
				}
				if err := printTable(cmd.OutOrStdout(), []string{"DATASET"}, rows); err != nil {
					return err
				}
				if next != "" {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "more results: --page-token %s\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token of the page to fetch")
	return cmd
}
