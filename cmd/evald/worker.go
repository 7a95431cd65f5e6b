package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/evald/internal/config"
	"github.com/kalambet/evald/internal/engine"
	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/judge"
	"github.com/kalambet/evald/internal/metrics"
	"github.com/kalambet/evald/internal/queue"
	"github.com/kalambet/evald/internal/similarity"
	"github.com/kalambet/evald/internal/storage"
	"github.com/kalambet/evald/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Evaluate queued interactions and store the scores (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		skipReady, _ := cmd.Flags().GetBool("skip-ready-check")
		return runWorker(metricsAddr, skipReady)
	},
}

func init() {
	workerCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the /metrics endpoint (empty disables it)")
	workerCmd.Flags().Bool("skip-ready-check", false, "do not verify or pull engine models on startup")
}

func runWorker(metricsAddr string, skipReady bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	slog.Info("evald worker starting", "version", version, "engine", cfg.Engine.Backend, "judge_model", cfg.Engine.JudgeModel)

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	if !skipReady && cfg.Engine.Backend == engine.BackendOllama {
		if err := engine.EnsureReady(ctx, eng, cfg.Engine.JudgeModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DBFile)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	q, err := queue.Open(ctx, cfg.Queue.URL, cfg.Queue.Key)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer q.Close()

	coord := evaluation.NewCoordinator(
		similarity.New(eng, cfg.Engine.EmbedModel),
		judge.New(eng, cfg.Engine.JudgeModel),
	)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := serveUntilDone(ctx, srv); err != nil {
				slog.Error("metrics server", "error", err)
			}
		}()
	}

	printStep("consuming %q every %s", q.Key(), cfg.Queue.PollInterval)
	worker.New(q, coord, store, cfg.Queue.PollInterval).Run(ctx)
	fmt.Fprintln(os.Stderr, "worker stopped")
	return nil
}

func newEngine(cfg config.Config) (engine.Engine, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Backend:   cfg.Engine.Backend,
		BaseURL:   cfg.Engine.BaseURL,
		APIKey:    cfg.Engine.APIKey,
		MaxTokens: int64(cfg.Judge.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}
	return eng, nil
}
