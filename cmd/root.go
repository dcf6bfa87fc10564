// Package cmd defines the catalog-crawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Runner is the slice of *app.App the commands depend on.
type Runner interface {
	Run(ctx context.Context) (crawler.Result, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (Runner, error) {
	return app.New(ctx, cfg)
}

type appKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string
	overrides := &flagOverrides{}
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a paginated book catalog into a record store.",
		Long: `catalog-crawler fetches the first catalog page, reads the page count from its
pagination control, then fetches the remaining pages concurrently. Every
product on every page becomes a record of title, price and availability
handed to the configured storage driver.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			overrides.apply(cmd, &cfg)
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	overrides.register(cmd)
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// flagOverrides holds command-line values that win over file and env config.
type flagOverrides struct {
	concurrency int
	driver      string
	urlTemplate string
}

func (f *flagOverrides) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.IntVar(&f.concurrency, "concurrency", 0, "maximum concurrent page tasks (0 means unbounded)")
	flags.StringVar(&f.driver, "driver", "", "storage driver: memory, postgres, jsonl, local or gcs")
	flags.StringVar(&f.urlTemplate, "url-template", "", "page URL template containing {page}")
}

func (f *flagOverrides) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Crawler.Concurrency = f.concurrency
	}
	if flags.Changed("driver") {
		cfg.Storage.Driver = f.driver
	}
	if flags.Changed("url-template") {
		cfg.Crawler.URLTemplate = f.urlTemplate
	}
}

func resolveApp(ctx context.Context) (Runner, error) {
	appInstance, ok := ctx.Value(appKey{}).(Runner)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
