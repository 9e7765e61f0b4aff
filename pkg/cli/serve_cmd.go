package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(env *engine) *cobra.Command {
	var manifests []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled drift checks and serve health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()
			cmd.SetContext(ctx)

			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				sched := a.NewScheduler(manifests)
				if err := sched.Start(ctx); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				defer sched.Stop()

				srv := &http.Server{
					Addr:              a.Cfg.MetricsAddr,
					Handler:           a.Router(),
					ReadHeaderTimeout: 10 * time.Second,
					IdleTimeout:       120 * time.Second,
				}
				go func() {
					<-ctx.Done()
					a.Logger.Info("shutting down")
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer shutdownCancel()
					_ = srv.Shutdown(shutdownCtx)
				}()

				a.Logger.Info("listening", "addr", srv.Addr, "jobs", sched.Entries())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&manifests, "manifest", nil, "Manifest with a schedule to run (repeatable)")
	return cmd
}
