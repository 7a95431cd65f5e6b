package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/evald/internal/config"
	"github.com/kalambet/evald/internal/queue"
	"github.com/kalambet/evald/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and stored evaluation count",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		showStatus(cmd.Context(), cfg)
		return nil
	},
}

// queueStatus is the part of the queue client status needs.
type queueStatus interface {
	Ping(ctx context.Context) error
	Len(ctx context.Context) (int64, error)
}

type countStore interface {
	CountEvaluations() (int64, error)
}

func showStatus(ctx context.Context, cfg config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	printField("Queue", "%s (key %q)", cfg.Queue.URL, cfg.Queue.Key)
	if q, err := queue.Open(ctx, cfg.Queue.URL, cfg.Queue.Key); err != nil {
		printCheck("Redis", fmt.Errorf("not reachable: %w", err), "")
	} else {
		reportQueue(ctx, q)
		q.Close()
	}

	printField("Store", "%s", cfg.Storage.DBFile)
	if store, err := storage.Open(cfg.Storage.DBFile); err != nil {
		printCheck("Evaluations", err, "")
	} else {
		reportStore(store)
		store.Close()
	}

	printField("Engine", "%s at %s", cfg.Engine.Backend, cfg.Engine.BaseURL)
	printField("Judge model", "%s", cfg.Engine.JudgeModel)
	printField("Embed model", "%s", cfg.Engine.EmbedModel)
}

func reportQueue(ctx context.Context, q queueStatus) {
	if err := q.Ping(ctx); err != nil {
		printCheck("Redis", fmt.Errorf("not reachable: %w", err), "")
		return
	}
	printCheck("Redis", nil, "reachable")
	n, err := q.Len(ctx)
	printCheck("Pending", err, "%s", countLabel(n))
}

func reportStore(s countStore) {
	n, err := s.CountEvaluations()
	printCheck("Evaluations", err, "%s", countLabel(n))
}

func countLabel(n int64) string {
	if n == 1 {
		return "1 interaction"
	}
	return fmt.Sprintf("%d interactions", n)
}
