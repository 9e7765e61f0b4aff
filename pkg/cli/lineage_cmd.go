package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
	"schemaevo/internal/domain"
)

func newLineageCmd(env *engine) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Manage lineage edges between datasets",
	}
	cmd.AddCommand(newLineageAddCmd(env), newLineageRmCmd(env), newLineageLsCmd(env))
	return cmd
}

func newLineageAddCmd(env *engine) *cobra.Command {
	var edgeType, kind string
	cmd := &cobra.Command{
		Use:   "add <upstream> <downstream>",
		Short: "Record that data flows from upstream to downstream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				edge, err := a.Lineage.InsertEdge(ctx, &domain.LineageEdge{
					UpstreamID:     args[0],
					DownstreamID:   args[1],
					EdgeType:       domain.EdgeType(strings.ToUpper(edgeType)),
					DownstreamKind: domain.NodeKind(strings.ToUpper(kind)),
				})
				if err != nil {
					return err
				}
				a.InvalidateLineage(edge.UpstreamID)
				if isJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), edge)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added edge %s: %s -> %s\n", edge.ID, edge.UpstreamID, edge.DownstreamID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&edgeType, "type", string(domain.EdgeTransformed), "Edge type (TRANSFORMED, VIEW, COPIED)")
	cmd.Flags().StringVar(&kind, "kind", string(domain.NodeDataset), "Downstream node kind (DATASET, JOB)")
	return cmd
}

func newLineageRmCmd(env *engine) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <edge-id>",
		Short: "Delete a lineage edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Lineage.DeleteEdge(ctx, args[0]); err != nil {
					return err
				}
				a.InvalidateLineage("")
				if isJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted edge %s\n", args[0])
				return nil
			})
		},
	}
}

func newLineageLsCmd(env *engine) *cobra.Command {
	var (
		maxResults int
		pageToken  string
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List lineage edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page := domain.PageRequest{MaxResults: maxResults, PageToken: pageToken}
			if err := page.Validate(); err != nil {
				return err
			}
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				edges, total, err := a.Lineage.ListEdges(ctx, page)
				if err != nil {
					return err
				}
				next := domain.NextPageToken(page.Offset(), page.Limit(), total)
				if isJSON(cmd) {
					if edges == nil {
						edges = []domain.LineageEdge{}
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"edges":         edges,
						"total":         total,
						"nextPageToken": next,
					})
				}
				rows := make([][]string, len(edges))
				for i, e := range edges {
					rows[i] = []string{e.ID, e.UpstreamID, e.DownstreamID, string(e.EdgeType),
						string(e.DownstreamKind), e.CreatedAt.Format(time.RFC3339)}
				}
				if err := printTable(cmd.OutOrStdout(),
					[]string{"ID", "UPSTREAM", "DOWNSTREAM", "TYPE", "KIND", "CREATED"}, rows); err != nil {
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
