package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"safety-worker-go/internal/api"
	"safety-worker-go/internal/api/handlers"
	"safety-worker-go/internal/config"
	"safety-worker-go/internal/logging"
	"safety-worker-go/internal/services"
	"safety-worker-go/internal/store"
)

// errNoBroker rejects commands that must reach workers in other processes.
var errNoBroker = errors.New("a NATS URL is required to reach other workers")

// RootCommand builds the CLI. Without a subcommand it serves.
func RootCommand(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "worker",
		Short:         "Safety detection task worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logWriter, _ := logging.StartLogdy(cfg)
			if logWriter != nil {
				logging.Setup(cfg, logWriter)
			} else {
				logging.Setup(cfg)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.DBConnectionString, "db", cfg.DBConnectionString, "Database connection string (sqlite://path or mysql://dsn)")
	rootCmd.PersistentFlags().StringVar(&cfg.NatsURL, "nats", cfg.NatsURL, "NATS server URL, empty serves from an in-process queue")
	rootCmd.PersistentFlags().StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for task state, empty keeps it in memory")

	rootCmd.AddCommand(
		serveCommand(cfg),
		dispatchCommand(cfg),
		stopCommand(cfg),
		migrateCommand(cfg),
	)
	return rootCmd
}

func serveCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume detection tasks and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	cmd.Flags().IntVar(&cfg.MaxTasks, "max-tasks", cfg.MaxTasks, "Maximum concurrent tasks")
	return cmd
}

func dispatchCommand(cfg *config.Config) *cobra.Command {
	var recordingID uint
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Enqueue a detection task for a recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.NatsURL == "" {
				return errNoBroker
			}
			sc, err := services.NewServiceContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdown(sc, cfg)

			task, err := sc.Dispatcher.EnqueueRecording(cmd.Context(), recordingID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
	cmd.Flags().UintVar(&recordingID, "recording", 0, "Recording ID")
	_ = cmd.MarkFlagRequired("recording")
	return cmd
}

func stopCommand(cfg *config.Config) *cobra.Command {
	var recordingID uint
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Close a recording and revoke its task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.NatsURL == "" {
				return errNoBroker
			}
			sc, err := services.NewServiceContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdown(sc, cfg)

			return sc.Dispatcher.StopRecording(cmd.Context(), recordingID)
		},
	}
	cmd.Flags().UintVar(&recordingID, "recording", 0, "Recording ID")
	_ = cmd.MarkFlagRequired("recording")
	return cmd
}

func migrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Migrate()
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("max_tasks", cfg.MaxTasks).
		Msg("Starting safety worker")

	sc, err := services.NewServiceContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(sc, cfg)

	if err := sc.Store.Migrate(); err != nil {
		return err
	}

	server := api.NewServer(cfg, api.Deps{
		Dispatcher: sc.Dispatcher,
		Pool:       sc.Pool,
		Store:      sc.Store,
		Gatherer:   sc.Registry,
		Checks:     healthChecks(sc),
	})

	if err := sc.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	return nil
}

func healthChecks(sc *services.ServiceContainer) map[string]handlers.Check {
	checks := map[string]handlers.Check{"database": sc.Store.Ping}
	if sc.Messaging != nil {
		checks["nats"] = func(context.Context) error {
			if !sc.Messaging.IsConnected() {
				return fmt.Errorf("nats %s", sc.Messaging.Status())
			}
			return nil
		}
	}
	return checks
}

func shutdown(sc *services.ServiceContainer, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown incomplete")
		return
	}
	log.Info().Msg("Shutdown complete")
}
