package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/evald/internal/api"
	"github.com/kalambet/evald/internal/capture"
	"github.com/kalambet/evald/internal/proxy"
	"github.com/kalambet/evald/internal/queue"
	"github.com/kalambet/evald/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture proxy and query API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		passthrough, _ := cmd.Flags().GetBool("passthrough")
		return runServe(passthrough)
	},
}

func init() {
	serveCmd.Flags().Bool("passthrough", false, "forward calls without capturing them")
}

func runServe(passthrough bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	slog.Info("evald starting", "version", version, "addr", cfg.Server.Addr, "upstream", cfg.Upstream.BaseURL)

	store, err := storage.Open(cfg.Storage.DBFile)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	var capturer api.Capturer
	if !passthrough {
		q, err := queue.Open(ctx, cfg.Queue.URL, cfg.Queue.Key)
		if err != nil {
			return fmt.Errorf("opening queue: %w", err)
		}
		defer q.Close()
		capturer = capture.NewNormalizer(q)
	} else {
		printWarning("passthrough mode: calls are not captured")
	}

	handler := api.NewRouter(api.RouterDeps{
		Upstream: proxy.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey),
		Capturer: capturer,
		Store:    store,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	return serveUntilDone(ctx, srv)
}

// serveUntilDone runs srv until ctx is cancelled or the listener fails, then
// shuts it down with a 5s grace period.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		printStep("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
