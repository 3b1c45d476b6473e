// Package cmd defines and implements the CLI commands for the sitecrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
	collyfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

const progressHistory = 1000

// newCrawlCmd creates the 'crawl' subcommand, which starts a crawl or
// resumes the one recorded in the configured state store.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed URL...]",
		Short: "Crawls a domain from the given seeds, resuming from a checkpoint if present",
		Long: `Fetches the seed URLs and every in-domain page reachable from them until
the page budget is spent or no unvisited links remain. Results are written to
the configured output when the run ends, including when it is interrupted.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.StringSlice("seed", nil, "seed URL (repeatable); positional args are also accepted")
	flags.String("domain", "", "domain root that bounds the crawl (default: origin of the first seed)")
	flags.Int("max-pages", 100, "maximum number of fetches across the whole crawl")
	flags.Duration("timeout", 0, "per-fetch timeout (default 3s)")
	flags.Int("batch-size", 32, "maximum concurrent fetches per round; 0 means the remaining budget")
	flags.String("checkpoint-mode", string(crawler.CheckpointPerRound), "checkpoint frequency: round or page")
	flags.String("output", "", "results path inside the output backend")
	flags.Bool("api", false, "serve progress and metrics over HTTP while crawling")
	flags.String("api-addr", "", "listen address for the status API")

	bindFlags(v, flags, map[string]string{
		"crawler.seeds":           "seed",
		"crawler.domain_root":     "domain",
		"crawler.max_pages":       "max-pages",
		"crawler.timeout":         "timeout",
		"crawler.batch_size":      "batch-size",
		"crawler.checkpoint_mode": "checkpoint-mode",
		"output.path":             "output",
		"api.enabled":             "api",
		"api.addr":                "api-addr",
	})
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	cfg.Crawler.Seeds = append(cfg.Crawler.Seeds, args...)
	logger := appInstance.GetLogger()

	tracker := progress.NewTracker(progressHistory)
	engine, err := buildCrawlerEngine(cfg, appInstance, tracker)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.API.Enabled {
		srv := api.NewServer(tracker, engine, logger.Named("api"))
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.API.Addr); err != nil {
				logger.Error("Status API stopped", zap.Error(err))
			}
		}()
	}

	summary, runErr := engine.Run(ctx)

	// Results are flushed even when the run aborted or was interrupted, as
	// long as a session was opened; a failed checkpoint load must not clobber
	// the previous dump with an empty one.
	flushCtx := context.WithoutCancel(ctx)
	if _, started := engine.Snapshot(); started {
		if err := writeResults(flushCtx, appInstance, engine.Results()); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run crawler: %w", runErr)
	}

	publishSummary(flushCtx, appInstance, summary)
	logger.Info("Crawl command finished.",
		zap.String("run_id", summary.RunID),
		zap.Int("total_pages", summary.PagesFetched),
		zap.Float64("elapsed_seconds", summary.Elapsed.Seconds()),
		zap.Float64("pages_per_second", summary.PagesPerSecond),
	)
	return nil
}

func buildCrawlerEngine(cfg config.Config, appInstance App, tracker *progress.Tracker) (*crawler.Engine, error) {
	logger := appInstance.GetLogger()
	engineCfg := cfg.EngineConfig()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      engineCfg.FetchTimeout,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	})
	extractor := extract.New(engineCfg.DomainRoot)

	engine, err := crawler.NewEngine(
		engineCfg,
		fetcher,
		extractor,
		appInstance.GetStateStore(),
		logger.Named("engine"),
		crawler.WithObserver(tracker),
		crawler.WithObserver(progress.NewLogObserver(logger.Named("progress"))),
	)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return engine, nil
}

func writeResults(ctx context.Context, appInstance App, pages []crawler.PageResult) error {
	writer := appInstance.GetResultsWriter()
	if writer == nil {
		return nil
	}
	uri, err := writer.Write(ctx, pages)
	if err != nil {
		return &crawler.PersistenceError{Op: "write results", Err: err}
	}
	appInstance.GetLogger().Info("Results written", zap.String("uri", uri), zap.Int("pages", len(pages)))
	return nil
}

// publishSummary announces a completed run. Failures are logged only; the
// results are already durable at this point.
func publishSummary(ctx context.Context, appInstance App, summary crawler.Summary) {
	pub := appInstance.GetPublisher()
	topic := appInstance.GetConfig().PubSub.Topic
	if pub == nil || topic == "" {
		return
	}
	id, err := pub.Publish(ctx, topic, summary)
	if err != nil {
		appInstance.GetLogger().Warn("Failed to publish crawl summary", zap.String("topic", topic), zap.Error(err))
		return
	}
	appInstance.GetLogger().Info("Crawl summary published", zap.String("topic", topic), zap.String("message_id", id))
}

// bindFlags maps viper keys onto flags so flag values override config and env.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		mustBind(v, key, flags.Lookup(name))
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag for %s: %v", key, err))
	}
}
