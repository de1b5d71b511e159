package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/zipcrawler/internal/api"
	"github.com/JakeFAU/zipcrawler/internal/config"
	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/pipeline"
	"github.com/JakeFAU/zipcrawler/internal/reconcile"
	"github.com/JakeFAU/zipcrawler/internal/zipfile"
)

type crawlOptions struct {
	input  string
	output string
	format string
	limit  int
	stream bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetch, parse and reconcile every zip in the input list",
		Long: `Loads the zip list, fetches each zip's page through the worker pool,
parses the statistics table and writes the reconciled rows. Raw pages are
archived and records persisted when those backends are configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.input, "input", "", "zip list CSV (overrides input.path)")
	flags.StringVar(&opts.output, "output", "", "output file; stdout when empty (overrides output.path)")
	flags.StringVar(&opts.format, "format", "", "csv or json (overrides output.format)")
	flags.IntVar(&opts.limit, "limit", 0, "read at most this many zips (overrides input.limit)")
	flags.BoolVar(&opts.stream, "stream", false, "start workers while the input is still being queued")
	return cmd
}

func (o crawlOptions) apply(cmd *cobra.Command, cfg config.Config) config.Config {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input.Path = o.input
	}
	if flags.Changed("output") {
		cfg.Output.Path = o.output
	}
	if flags.Changed("format") {
		cfg.Output.Format = o.format
	}
	if flags.Changed("limit") {
		cfg.Input.Limit = o.limit
	}
	return cfg
}

func runCrawlCommand(cmd *cobra.Command, opts crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := opts.apply(cmd, appInstance.Config())
	if err := cfg.Validate(); err != nil {
		return err
	}

	tasks, err := zipfile.LoadFile(cfg.Input.Path, zipfile.LoadOptions{
		ZipColumn:   cfg.Input.ZipColumn,
		URLTemplate: cfg.Input.URLTemplate,
		Limit:       cfg.Input.Limit,
	})
	if err != nil {
		return fmt.Errorf("load input: %w", err)
	}
	logger.Info("loaded zip list", zap.String("path", cfg.Input.Path), zap.Int("zips", len(tasks)))

	p, err := appInstance.NewPipeline()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		opsCtx, stopOps := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- api.Serve(opsCtx, addr, api.NewServer(p, appInstance.Checks(), logger).Handler(), logger, nil)
		}()
		defer func() {
			stopOps()
			if err := <-done; err != nil {
				logger.Warn("ops server failed", zap.Error(err))
			}
		}()
	}

	res, err := runPipeline(ctx, p, tasks, opts.stream)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	rows := reconcile.Join(tasks, res.Records)
	for _, row := range reconcile.Mismatches(rows) {
		logger.Warn("zip mismatch",
			zap.Int("index", row.Index),
			zap.String("input_zip", row.InputZip),
			zap.String("page_zip", row.ZipCode),
		)
	}
	if err := writeRows(cmd, cfg.Output, rows); err != nil {
		return err
	}

	summary := reconcile.Summarize(rows)
	logger.Info("crawl command finished",
		zap.String("run_id", res.RunID),
		zap.Int("total", summary.Total),
		zap.Int("ok", summary.OK),
		zap.Int("fetch_failed", summary.FetchFailed),
		zap.Int("table_not_found", summary.TableNotFound),
		zap.Int("mismatches", summary.Mismatches),
	)
	return nil
}

func runPipeline(ctx context.Context, p *pipeline.Pipeline, tasks []crawler.Task, stream bool) (pipeline.Result, error) {
	if !stream {
		return p.Run(ctx, tasks)
	}
	ch := make(chan crawler.Task)
	go func() {
		defer close(ch)
		for _, task := range tasks {
			select {
			case ch <- task:
			case <-ctx.Done():
				return
			}
		}
	}()
	return p.RunStream(ctx, ch)
}

func writeRows(cmd *cobra.Command, out config.OutputConfig, rows []reconcile.Row) error {
	if out.Path == "" {
		if err := zipfile.Write(cmd.OutOrStdout(), out.Format, rows); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}
	if err := zipfile.WriteFile(out.Path, out.Format, rows); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
