package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const closeTimeout = 10 * time.Second

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the catalog once",
		Long: `Runs one crawl. The command fails when the first page cannot be fetched or
carries no readable page count; failures on later pages are reported in the
summary without failing the run.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		if cerr := appInstance.Close(ctx); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
		_ = logger.Sync()
	}()

	result, err := appInstance.Run(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(),
		"run=%s state=%s pages=%d succeeded=%d failed=%v records=%d stored=%d\n",
		result.RunID, result.State, result.PageCount, len(result.PagesSucceeded),
		result.PagesFailed, result.Records, result.Stored,
	)
	if err != nil {
		return err
	}
	logger.Info("crawl command finished")
	return nil
}
