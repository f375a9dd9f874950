// Package cmd defines the CLI commands for the offlineworker executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/config"
	"github.com/JakeFAU/offline-catalog-worker/internal/logging"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/prefetch"
	"github.com/JakeFAU/offline-catalog-worker/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	Install(ctx context.Context) (prefetch.InstallReport, []string, error)
	Enqueue(ctx context.Context, payload offline.NotificationPayload) (offline.QueuedNotification, error)
	CacheNames(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "offlineworker",
		Short: "Offline catalog worker for the streaming web app.",
		Long: `offlineworker fronts the streaming web app with tiered offline caches,
prefetches the content catalog, and keeps a durable queue of notifications
that are displayed to connected client sessions.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and OFFLINE_* environment only when empty)")

	cmd.AddCommand(newServeCmd(), newInstallCmd(), newEnqueueCmd(), newCachesCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
