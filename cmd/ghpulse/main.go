package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ghpulse/ghpulse/internal/api"
	"github.com/ghpulse/ghpulse/internal/config"
	"github.com/ghpulse/ghpulse/internal/fetcher"
	"github.com/ghpulse/ghpulse/internal/ingest"
	"github.com/ghpulse/ghpulse/internal/monitor"
	"github.com/ghpulse/ghpulse/internal/query"
	"github.com/ghpulse/ghpulse/internal/store"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "ghpulse",
		Short: "ghpulse ingests, retains and serves metrics over public GitHub activity",
	}
	root.AddCommand(serveCmd(), collectCmd(), monitorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	configureLogging(cfg.LogLevel)
	return cfg
}

// configureLogging sets the default slog handler's level from the
// configured log_level ("debug", "info", "warn", "error"; unknown values
// fall back to info).
func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openStore(ctx context.Context, cfg *config.Config) *store.Store {
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	s, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	return s
}

// serveCmd starts the external HTTP API and the background ingestion loop.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic ingestion loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s := openStore(ctx, cfg)

			f := fetcher.New(cfg.GitHubToken, cfg.UserAgent)
			coordinator := ingest.New(f, s, cfg.TargetRepositories, cfg.PollInterval, cfg.MaxEventsPerFetch)
			coordinator.Run(ctx)

			monitors := monitor.New(cfg.GitHubToken, cfg.UserAgent)

			engine := query.New(s)

			routerResult := api.NewRouter(&api.RouterConfig{
				Database:    s,
				Engine:      engine,
				Coordinator: coordinator,
				Monitors:    monitors,
			})

			srv := &http.Server{
				Addr:         cfg.APIHost + ":" + cfg.APIPort,
				Handler:      routerResult.Router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 35 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				slog.Info("starting server", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("server failed", "error", err)
					os.Exit(1)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			slog.Info("shutting down")

			coordinator.Stop()
			monitors.StopAll()
			routerResult.RateLimiters.Stop()
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			s.Close()
			slog.Info("server exited")
			return nil
		},
	}
}

// collectCmd runs a single collect_now and exits, for cron-style invocation.
func collectCmd() *cobra.Command {
	var limit int
	var repos []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a single collect-now pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := cmd.Context()

			s := openStore(ctx, cfg)
			defer s.Close()

			f := fetcher.New(cfg.GitHubToken, cfg.UserAgent)
			coordinator := ingest.New(f, s, cfg.TargetRepositories, cfg.PollInterval, cfg.MaxEventsPerFetch)

			inserted, err := coordinator.CollectNow(ctx, limit, repos)
			if err != nil {
				return fmt.Errorf("collect-now failed: %w", err)
			}
			slog.Info("collect-now complete", "inserted", inserted)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "cap on events kept per fetch call")
	cmd.Flags().StringSliceVar(&repos, "repos", nil, "repos to poll instead of the global feed")
	return cmd
}

// monitorCmd runs a single live monitor in the foreground until interrupted,
// printing nothing to the store — useful for ad-hoc repo watching.
func monitorCmd() *cobra.Command {
	var repo string
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run a single live monitor against one repository until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}
			cfg := loadConfig()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			registry := monitor.New(cfg.GitHubToken, cfg.UserAgent)
			id := registry.Start(ctx, repo, nil, time.Duration(intervalSeconds)*time.Second)
			slog.Info("monitor started", "monitor_id", id, "repo", repo)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			registry.StopAll()
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "owner/name of the repository to monitor")
	cmd.Flags().IntVar(&intervalSeconds, "interval", 30, "poll interval in seconds")
	return cmd
}
