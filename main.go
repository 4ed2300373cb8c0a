package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/changebot/changebot/internal/config"
	"github.com/changebot/changebot/internal/githubapi"
	"github.com/changebot/changebot/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	key, err := cfg.PrivateKeyPEM()
	if err != nil {
		return err
	}

	var opts []githubapi.Option
	if cfg.APIBaseURL != "" {
		opts = append(opts, githubapi.WithBaseURL(cfg.APIBaseURL))
	}
	app, err := githubapi.NewApp(cfg.AppID, key, opts...)
	if err != nil {
		return fmt.Errorf("initialize GitHub App: %w", err)
	}

	handler := webhook.NewWebhookHandler(cfg.WebhookSecret, app, webhook.Settings{
		ChangelogPath:   cfg.ChangelogPath,
		BootstrapBranch: cfg.BootstrapBranch,
		HTMLBaseURL:     cfg.HTMLBaseURL,
		Concurrency:     cfg.Concurrency,
	}, cfg.BotLogin)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.Handle("POST /webhook/github", handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr, "app_id", cfg.AppID, "changelog_path", cfg.ChangelogPath)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Let acknowledged deliveries finish their comments.
	handler.Wait()
	return nil
}
