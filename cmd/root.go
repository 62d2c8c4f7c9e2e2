// Package cmd defines and implements the CLI commands for the jobextract executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobinfo-extractor/internal/config"
	"github.com/JakeFAU/jobinfo-extractor/internal/decode"
	"github.com/JakeFAU/jobinfo-extractor/internal/pipeline"
	"github.com/JakeFAU/jobinfo-extractor/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) error
	Extract(ctx context.Context, req pipeline.Request) (decode.Record, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile  string
	envFiles []string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "jobextract",
		Short: "Extracts company, job title and location from job posting URLs.",
		Long: `jobextract renders a job posting in a headless browser, reduces it to
plain text and asks a Gemini model for the company, job title and location.
It runs as an HTTP service (serve) or for a single URL (extract).`,
		SilenceUsage: true,

		// Builds the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExtractCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// closeApp is deferred in each RunE so failed runs still flush spans.
// Cobra does not call post-run hooks after a RunE error.
func closeApp(ctx context.Context, appInstance App) {
	if err := appInstance.Close(context.WithoutCancel(ctx)); err != nil {
		appInstance.Logger().Warn("close application failed", zap.Error(err))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
