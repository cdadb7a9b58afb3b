package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"homesnippets/internal/api"
	"homesnippets/internal/cache"
	"homesnippets/internal/catalog"
	"homesnippets/internal/config"
	"homesnippets/internal/engine"
	"homesnippets/internal/ledger"
	"homesnippets/internal/listener"
	"homesnippets/internal/storage"
)

const keyPrefix = "homesnippets:"

// App is the assembled service: backing store, caches, ledger, engine and
// HTTP handler. Background work is started by Run.
type App struct {
	Engine  *engine.Engine
	Catalog *catalog.Service
	Ledger  *ledger.Ledger
	Handler http.Handler

	pg      *storage.Postgres
	closers []func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}

	repo, err := a.openRepository(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	data, lastmod, err := openStores(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = data.Close() }, func() { _ = lastmod.Close() })

	a.Ledger = ledger.New(lastmod, nil)
	a.Engine = engine.New(engine.Options{
		Reader:        repo,
		Cache:         data,
		Ledger:        a.Ledger,
		RetryAttempts: cfg.Engine.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff(),
	})
	a.Catalog = catalog.NewService(repo, a.Ledger)
	a.Handler = api.Router(api.NewDeliveryHandler(a.Engine), api.NewAdminHandler(a.Catalog))
	return a, nil
}

func (a *App) openRepository(ctx context.Context, cfg config.Config) (storage.Repository, error) {
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("using in-memory backing store; data is lost on exit")
		return storage.NewMemory(), nil
	default:
		pg, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		a.pg = pg
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	}
}

// openStores returns the derived-data cache and the ledger store. They are
// separate so ledger entries can outlive the entries they invalidate.
func openStores(ctx context.Context, cfg config.Config) (data, lastmod cache.Store, err error) {
	switch cfg.Cache.Backend {
	case "redis":
		d, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, keyPrefix, cfg.CacheTTL())
		if err != nil {
			return nil, nil, err
		}
		l, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, keyPrefix, cfg.LedgerTTL())
		if err != nil {
			_ = d.Close()
			return nil, nil, err
		}
		return d, l, nil
	case "memcache":
		return cache.NewMemcache(cfg.Cache.MemcacheServers, keyPrefix, cfg.CacheTTL()),
			cache.NewMemcache(cfg.Cache.MemcacheServers, keyPrefix, cfg.LedgerTTL()), nil
	default:
		return cache.NewMemory(cfg.Cache.MemorySize, cfg.CacheTTL()),
			cache.NewMemory(cfg.Cache.MemorySize, cfg.LedgerTTL()), nil
	}
}

// Close releases stores in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init app")
	}
	defer a.Close()

	// Engine
	if err := a.Engine.Warm(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("initial rule snapshot")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	if a.pg != nil {
		go listener.ListenAndInvalidate(rootCtx, a.pg, a.Ledger, cfg.Listener.Channel, cfg.Backoff())
	}

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("cache", cfg.Cache.Backend).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
