package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/listforge/listforge/pkg/config"
	"github.com/listforge/listforge/pkg/downloader"
	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/metrics"
	"github.com/listforge/listforge/pkg/processor"
	"github.com/listforge/listforge/pkg/store"
	"github.com/listforge/listforge/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "listforged",
	Short: "Listforged - blocklist build worker",
	Long: `Listforged is the build worker for the Listforge blocklist service.

It claims build jobs from a shared MongoDB queue, downloads and parses each
tenant's blocklist sources, applies the tenant whitelist, and publishes
compressed hosts, plain and adblock lists. Run as many workers as you need;
they coordinate solely through the queue's atomic claim protocol.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Listforged version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&configPath, "config", "", "Optional YAML config file merged over the environment")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs instead of console output")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := log.WithWorkerID(cfg.WorkerID)
		logger.Info().
			Str("version", Version).
			Str("database", cfg.DatabaseName).
			Str("data_dir", cfg.DataDir).
			Msg("Starting listforged")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		client, db, err := store.Connect(ctx, cfg.MongoURI, cfg.DatabaseName)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Warn().Err(err).Msg("Mongo disconnect failed")
			}
		}()

		jobs := store.NewJobRepository(db, cfg.WorkerID)
		cache, err := store.NewCacheRepository(db, cfg.CacheStorage)
		if err != nil {
			return err
		}
		tenants := store.NewTenantRepository(db)

		// Sweep expired cache entries before taking work
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), time.Minute)
		removed, err := cache.CleanupStale(sweepCtx, cfg.CacheTTLDays)
		sweepCancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Cache sweep failed")
		} else if removed > 0 {
			logger.Info().Int64("removed", removed).Msg("Swept stale cache entries")
		}

		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics listener started")
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					logger.Error().Err(err).Msg("Metrics listener failed")
				}
			}()
		}

		dl := downloader.New(cache,
			time.Duration(cfg.HTTPTimeoutSecs)*time.Second,
			cfg.MaxConcurrentDownloads)
		proc := processor.New(cfg, jobs, tenants, dl, cache)
		w := worker.New(cfg, jobs, proc)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			w.Stop()
		}()

		return w.Run(context.Background())
	},
}
