package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"contractcore/internal/cache"
	"contractcore/internal/config"
	"contractcore/internal/customer"
	"contractcore/internal/events"
	"contractcore/internal/provider"
	"contractcore/internal/reconcile"
	"contractcore/internal/signing"
	"contractcore/internal/store"
	"contractcore/internal/supersede"
	"contractcore/internal/webhooks"
	"contractcore/pkg/db"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool)
	customers := customer.New(pool)

	tracker := signing.NewTracker(st)
	tracker.EnforceSignOrder = cfg.EnforceSignOrder

	dispatcher := events.NewDispatcher()
	defer dispatcher.Close()
	go logEvents(dispatcher.Subscribe(64))

	var snapshots cache.SnapshotCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		snapshots = cache.NewRedis(rdb, cfg.SnapshotTTL)
		slog.Info("snapshot cache", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		snapshots = cache.NewMemory(cfg.SnapshotTTL)
		slog.Info("snapshot cache", "backend", "memory")
	}

	var esign provider.Client
	if cfg.ProviderMock {
		esign = provider.NewMock()
		slog.Warn("using mock e-signature provider")
	} else {
		esign = provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderToken)
	}

	rec := reconcile.New(tracker, st, dispatcher, snapshots)
	poller := reconcile.NewPoller(rec, esign, cfg.PollInterval, reconcile.Backoff{
		Base: 2 * time.Second,
		Max:  time.Minute,
	})
	defer poller.Stop()

	if err := resumeTracking(ctx, st, poller); err != nil {
		return err
	}

	a := &api{
		baseCtx:   ctx,
		store:     st,
		customers: customers,
		tracker:   tracker,
		sup:       supersede.NewManager(st),
		rec:       rec,
		esign:     esign,
		poller:    poller,
	}
	wh := webhooks.NewHandler(cfg.WebhookSecret, st, rec)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", a.health)
	r.Route("/contracts", func(api chi.Router) {
		api.Post("/", a.createContract)
		api.Get("/{number}", a.getContract)
		api.Post("/{number}/signers", a.registerSigners)
		api.Post("/{number}/signers/{account}/signUrl", a.recordSignURL)
		api.Post("/{number}/supersede", a.supersedeContract)
		api.Post("/{number}/resync", a.resyncContract)
	})
	r.Post("/admin/contracts/{number}/status", a.transitionStatus)
	r.Post("/admin/contracts/{number}/supersession/clear", a.forceClearSupersession)
	r.Post("/webhooks/esign", wh.ServeHTTP)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// resumeTracking restarts polling loops for contracts that were still
// open at the provider when the process last stopped.
func resumeTracking(ctx context.Context, st *store.Store, poller *reconcile.Poller) error {
	open, err := st.ListOpenProviderContracts(ctx)
	if err != nil {
		return fmt.Errorf("list open contracts: %w", err)
	}
	for _, c := range open {
		if c.ProviderContractID == nil {
			continue
		}
		poller.Track(ctx, c.ContractNumber, *c.ProviderContractID)
	}
	if len(open) > 0 {
		slog.Info("resumed polling", "contracts", len(open))
	}
	return nil
}

func logEvents(ch <-chan events.ContractStatusChanged) {
	for ev := range ch {
		slog.Info("contract status changed",
			"event_id", ev.EventID,
			"contract", ev.Number,
			"old", ev.OldStatus,
			"new", ev.NewStatus,
		)
	}
}

func setupLogger(cfg config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
