package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stratafs/stratafs/internal/config"
	"github.com/stratafs/stratafs/internal/core"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "stratafs",
		Short:   "StrataFS versioned object storage core",
		Version: version,
		RunE:    run,
	}

	rootCmd.Flags().String("config", "", "Path to config file")
	rootCmd.Flags().String("data-dir", "", "Base directory for all persisted state")
	rootCmd.Flags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.Flags().Bool("test-mode", false, "Suppress network sinks (events, replication)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"version":  version,
		"data_dir": cfg.DataDir,
	}).Info("Starting StrataFS")

	c, err := core.New(cfg, logger)
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	var metricsServer *http.Server
	if cfg.Metrics.Enable {
		router := mux.NewRouter()
		router.Handle(cfg.Metrics.Path, c.Metrics().Handler()).Methods(http.MethodGet)
		router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}).Methods(http.MethodGet)

		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Listen,
			Handler:      handlers.RecoveryHandler()(router),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.WithField("listen", cfg.Metrics.Listen).Info("Metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.WithField("signal", sig.String()).Info("Shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}
	return nil
}
