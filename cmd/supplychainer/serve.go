package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justKMM/supply-chainer/pkg/api"
	"github.com/justKMM/supply-chainer/pkg/archive"
	"github.com/justKMM/supply-chainer/pkg/config"
	"github.com/justKMM/supply-chainer/pkg/escalation"
	"github.com/justKMM/supply-chainer/pkg/feed"
	"github.com/justKMM/supply-chainer/pkg/observability"
	"github.com/justKMM/supply-chainer/pkg/registry"
	"github.com/justKMM/supply-chainer/pkg/reputation"
)

const (
	shutdownTimeout   = 10 * time.Second
	escalationSweep   = 10 * time.Second
	idempotencyWindow = 24 * time.Hour
	readHeaderTimeout = 5 * time.Second
)

// app is a wired server plus everything that must be closed with it.
type app struct {
	server  *api.Server
	closers []func(context.Context) error
}

func (rt *app) close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// buildApp wires the components from cfg. On error everything opened
// so far is closed.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	rt := &app{}
	defer func() {
		if err != nil {
			_ = rt.close(context.Background())
		}
	}()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:     "supplychainer",
		ServiceVersion:  version,
		Environment:     "production",
		OTLPEndpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRate:      1.0,
		BatchTimeout:    5 * time.Second,
		MetricsExporter: cfg.Telemetry.MetricsExporter,
		Enabled:         cfg.Telemetry.Enabled,
		Insecure:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.closers = append(rt.closers, telemetry.Shutdown)

	opts := api.Options{
		Telemetry:             telemetry,
		Auth:                  api.NewAuthenticator(cfg.JWTSecret),
		SubscriptionThreshold: &cfg.SubscriptionTrustThreshold,
	}

	if cfg.Archive.Driver != "" {
		store, err := archive.Open(ctx, cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		opts.Archive = store
	}

	if cfg.RedisAddr != "" {
		limiter := api.NewRedisLimiter(cfg.RedisAddr, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		if err := limiter.Ping(ctx); err != nil {
			_ = limiter.Close()
			return nil, fmt.Errorf("redis limiter: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return limiter.Close() })
		opts.Limiter = limiter
	} else {
		limiter := api.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		rt.closers = append(rt.closers, func(context.Context) error { return limiter.Close() })
		opts.Limiter = limiter
	}

	idem := api.NewMemoryIdempotencyStore(idempotencyWindow)
	rt.closers = append(rt.closers, func(context.Context) error { return idem.Close() })
	opts.Idempotency = idem

	if cfg.SignalsFile != "" {
		signals, err := feed.LoadSignalsFile(cfg.SignalsFile)
		if err != nil {
			return nil, err
		}
		opts.Signals = signals
	}

	policy, err := escalation.NewPolicy(cfg.Escalation.Rule)
	if err != nil {
		return nil, fmt.Errorf("escalation rule: %w", err)
	}
	opts.Escalations = escalation.NewManager(policy, cfg.SubscriptionTrustThreshold, cfg.Escalation.Timeout)

	opts.Ledger = reputation.NewLedger()
	opts.Registry = registry.New(opts.Ledger, cfg.RegistryMinTrust)

	rt.server, err = api.NewServer(opts)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func runServer(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid configuration:\n%v\n", err)
		return 2
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	logger := slog.Default().With("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildApp(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.close(closeCtx); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	go rt.server.SweepEscalations(ctx, escalationSweep)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           rt.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	_, _ = fmt.Fprintf(stdout, "%ssupplychainer %s listening on %s%s\n", ColorBold+ColorBlue, version, cfg.Addr(), ColorReset)
	logger.Info("server started", "addr", cfg.Addr(), "auth", cfg.JWTSecret != "", "archive", cfg.Archive.Driver)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}
