// Command opscached serves the fleet back-office API over a read-through
// cache with rule-driven invalidation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/opscache/config"
	"github.com/unkn0wn-root/opscache/internal/httpapi"
)

func main() {
	path := flag.String("config", os.Getenv("OPSCACHE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "opscached:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if cfg.Path != "" {
		w, err := config.NewWatcher(cfg, 0, log)
		if err != nil {
			log.Warn("config watcher disabled", zap.Error(err))
		} else {
			w.OnChange(a.apply)
			defer func() { _ = w.Stop() }()
		}
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.NewHandler(a.svc), httpapi.RouterConfig{
		Logger:   log,
		Registry: a.registry,
		Checks:   a.checks,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("provider", cfg.Cache.Provider),
			zap.Bool("realtime", cfg.Realtime()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("http shutdown", zap.Error(err))
		return err
	}
	return nil
}
