package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sketchlab/sketchgen/internal/activity"
	"github.com/sketchlab/sketchgen/internal/artifacts"
	"github.com/sketchlab/sketchgen/internal/config"
	"github.com/sketchlab/sketchgen/internal/handlers"
	"github.com/sketchlab/sketchgen/internal/httpx"
	"github.com/sketchlab/sketchgen/internal/metrics"
	"github.com/sketchlab/sketchgen/internal/model"
	"github.com/sketchlab/sketchgen/internal/ratelimiter"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "sketchgen",
		Short:        "Sketch-to-image generation server",
		Long:         "Serves a pretrained sketch-to-image generator over HTTP: POST a base64 sketch to /generate and receive a base64 PNG.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	check := &cobra.Command{
		Use:   "check",
		Short: "Run startup preflight checks without serving",
		Long:  "Loads the configuration, digests the model artifacts and validates the metadata, then exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, configPath)
		},
	}
	root.AddCommand(check)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Debug.SaveImages && cfg.Debug.Dir != "" {
		if err := os.MkdirAll(cfg.Debug.Dir, 0o755); err != nil {
			return fmt.Errorf("create debug directory %s: %w", cfg.Debug.Dir, err)
		}
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	registry.MustRegister(collector)

	logger.Info("loading model",
		zap.String("model", cfg.Model.Path),
		zap.String("metadata", cfg.Model.MetadataPath))

	gen, err := model.Load(cfg.Model.Path, cfg.Model.MetadataPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer gen.Close()
	collector.ModelLoaded.Set(1)

	meta := gen.Meta()
	logger.Info("model loaded",
		zap.String("name", meta.Name),
		zap.Int("image_size", meta.ImageSize),
		zap.Int("n_channels", meta.NChannels),
		zap.Int("n_classes", meta.NClasses))

	var store *activity.Store
	if cfg.Activity.Path != "" {
		// Return rather than exit; the deferred session teardown must run.
		store, err = activity.Open(cfg.Activity.Path)
		if err != nil {
			return fmt.Errorf("open activity store: %w", err)
		}
		defer store.Close()
	}

	var limiter *ratelimiter.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
		logger.Info("rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst))
	}

	handler := handlers.NewHandler(gen, cfg, logger.Named("http"), collector, store, limiter)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	chain := httpx.Recover{Logger: logger.Named("http")}.Wrap(httpx.CORS{}.Wrap(mux))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
		srv.Close()
	}
	collector.ModelLoaded.Set(0)
	logger.Info("server stopped")
	return nil
}

// runCheck performs the serve-time preflight without starting a listener:
// the config must load, the metadata must validate, and every configured
// artifact is stated and digested. Missing required artifacts fail the
// check; the optional download blobs are reported but non-fatal.
func runCheck(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	infos := artifacts.Describe([]artifacts.Artifact{
		{Name: "onnx", Path: cfg.Model.Path},
		{Name: "metadata", Path: cfg.Model.MetadataPath},
		{Name: "checkpoint", Path: cfg.Model.CheckpointPath},
		{Name: "torchscript", Path: cfg.Model.TorchScriptPath},
	}, true)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		return err
	}

	for _, info := range infos {
		if (info.Name == "onnx" || info.Name == "metadata") && !info.Exists {
			return fmt.Errorf("required artifact %s missing at %s", info.Name, info.Path)
		}
	}

	meta, err := model.LoadMetadata(cfg.Model.MetadataPath)
	if err != nil {
		return fmt.Errorf("metadata check failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "metadata ok: %s %dx%d n_channels=%d n_classes=%d\n",
		meta.Name, meta.ImageSize, meta.ImageSize, meta.NChannels, meta.NClasses)

	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
