package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/httpapi"
	"github.com/cuemby/runnerd/pkg/log"
	"github.com/cuemby/runnerd/pkg/metrics"
	"github.com/cuemby/runnerd/pkg/notify"
	"github.com/cuemby/runnerd/pkg/security"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/supervise"
	"github.com/cuemby/runnerd/pkg/transport"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "runnerd",
	Short:   "runnerd - scheduled shell-command supervisor with alerting",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("runnerd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./runnerd-data", "Data directory for the BoltDB store and runner logs")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor and its HTTP/SSE API",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		addr, _ := cmd.Flags().GetString("addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		var secretsManager *security.Manager
		if key := os.Getenv("RUNNERD_SECRET_KEY"); key != "" {
			var err error
			secretsManager, err = security.NewManagerFromPassphrase(key)
			if err != nil {
				return fmt.Errorf("init secrets manager: %w", err)
			}
		}

		store, err := storage.NewBoltStore(dataDir, secretsManager)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		broker := events.NewBroker()
		facade, err := config.NewFacade(store, broker)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		pushover := transport.NewPushoverClient()
		nw := notify.NewWorker(store, facade, broker, pushover)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		go nw.Run(ctx)

		registry := supervise.New(dataDir, store, broker, facade, nw)

		server := httpapi.NewServer(facade, store, broker, registry, nw, pushover, secretsManager)

		go func() {
			log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server error")
			}
		}()

		log.Logger.Info().Str("addr", addr).Msg("runnerd listening")
		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(addr, server); err != nil {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8090", "HTTP API listen address")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Prometheus metrics listen address")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Load the configuration document, normalize it, and persist it back",
	Long:  "Runs the one-shot normalization pass (id sanitization, legacy Pushover credential migration, layout repair) against the store at --data-dir without starting the supervisor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := storage.NewBoltStore(dataDir, nil)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		facade, err := config.NewFacade(store, nil)
		if err != nil {
			return fmt.Errorf("normalize configuration: %w", err)
		}

		doc := facade.Document()
		fmt.Printf("Normalized document: %d runners, %d groups, %d notify profiles\n",
			len(doc.Runners), len(doc.RunnerGroups), len(doc.NotifyProfiles))
		return nil
	},
}
