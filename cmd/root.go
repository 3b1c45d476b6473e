package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/app"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/logging"
	"github.com/JakeFAU/sitecrawler/internal/results"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStateStore() crawler.StateStore
	GetResultsWriter() *results.Writer
	GetPublisher() crawler.Publisher
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command. Every subcommand binds its flags onto
// v, so the config file, SITECRAWLER_* env vars, and flags all land in one
// place before PersistentPreRunE loads them.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "sitecrawler",
		Short: "A bounded, resumable crawler for a single web domain.",
		Long: `sitecrawler fetches pages starting from one or more seed URLs, follows
links that stay inside the configured domain, and records the title and
visible text of every page it retrieves. Progress is checkpointed so an
interrupted crawl resumes where it left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().Bool("dev-logs", true, "use the development console logger")
	cmd.PersistentFlags().String("log-level", "info", "minimum log level")
	mustBind(v, "logging.development", cmd.PersistentFlags().Lookup("dev-logs"))
	cmd.PersistentFlags().String("state-backend", config.BackendFile, "checkpoint backend: file, gcs, postgres, sqlite, none")
	mustBind(v, "logging.level", cmd.PersistentFlags().Lookup("log-level"))
	mustBind(v, "state.backend", cmd.PersistentFlags().Lookup("state-backend"))

	cmd.AddCommand(newCrawlCmd(v))
	cmd.AddCommand(newInspectCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), newRootCmd(config.NewViper())); err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run executes root and then closes the App the command ran with. Cobra
// skips post-run hooks when RunE fails, so closing cannot live in one.
func run(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			appInstance.Close()
		}
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}
