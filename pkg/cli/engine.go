package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"schemaevo/internal/app"
	"schemaevo/internal/config"
)

// engine opens the wired application for one command invocation.
type engine struct {
	envFile *string
}

// run opens the app, calls fn and closes the app again.
func (e *engine) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if err := config.LoadDotEnv(*e.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close engine", "error", err)
		}
	}()
	return fn(ctx, a)
}
