package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/rewards/internal/di"
	"github.com/hanko-field/rewards/internal/handlers"
	"github.com/hanko-field/rewards/internal/platform/events"
	"github.com/hanko-field/rewards/internal/platform/observability"
	"github.com/hanko-field/rewards/internal/services"
)

const passTimeout = 5 * time.Minute

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("rewards-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	cfg, fetcher, envValues, err := di.LoadConfig(ctx, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	shutdownMetrics, err := observability.NewMeterProvider(ctx, di.TraceProjectID(cfg), 0)
	if err != nil {
		logger.Warn("metrics export disabled", zap.Error(err))
		shutdownMetrics = func(context.Context) error { return nil }
	}

	buildInfo := di.BuildInfoFromEnv(envValues, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}

	dispatcher, err := events.NewDispatcher(container.Services.Events, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to initialise event dispatcher", zap.Error(err))
	}
	transport := cfg.Events.Driver
	dispatcher.Observe(func(ctx context.Context, outcome string) {
		container.Metrics.EventHandled(ctx, transport, outcome)
	})
	subscriber, err := container.Subscriber(ctx, dispatcher)
	if err != nil {
		logger.Fatal("failed to open reward event subscription", zap.Error(err))
	}

	var wg sync.WaitGroup
	if subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("consuming reward events", zap.String("driver", transport), zap.String("source", cfg.Events.Subscription))
			if err := subscriber.Run(ctx); err != nil {
				logger.Error("reward event subscription stopped", zap.Error(err))
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeps(ctx, logger, container.Services, cfg.Worker.SweepInterval, cfg.Worker.SweepBatchSize)
	}()

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: handlers.NewRouter(
			handlers.WithMiddlewares(observability.RecoveryMiddleware(logger.Named("http"))),
			handlers.WithHealthHandlers(handlers.NewHealthHandlers(
				handlers.WithHealthBuildInfo(buildInfo),
				handlers.WithHealthSystemService(container.Services.System),
			)),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; finishing current pass")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown failed", zap.Error(err))
	}
	wg.Wait()
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown error", zap.Error(err))
	}
}

// runSweeps confirms matured grants and then disburses approved cash redemptions, once at start up
// and on every tick until ctx is cancelled.
func runSweeps(ctx context.Context, logger *zap.Logger, svc di.Services, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		runPass(ctx, logger, svc, batch)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runPass(ctx context.Context, logger *zap.Logger, svc di.Services, batch int) {
	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), passTimeout)
	defer cancel()

	confirmed, err := confirmAll(passCtx, svc.Ledger, batch)
	if err != nil {
		logger.Error("maturity sweep failed", zap.Error(err), zap.Int("confirmed", confirmed))
	} else if confirmed > 0 {
		logger.Info("maturity sweep confirmed grants", zap.Int("confirmed", confirmed))
	}

	if svc.Payouts == nil {
		return
	}
	summary, err := svc.Payouts.Dispatch(passCtx, batch)
	if err != nil {
		logger.Error("payout dispatch failed", zap.Error(err))
		return
	}
	if summary.Attempted > 0 {
		logger.Info("payout dispatch finished",
			zap.Int("attempted", summary.Attempted),
			zap.Int("paid", summary.Paid),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
	}
}

// confirmAll repeats ConfirmMatured until a batch comes back short.
func confirmAll(ctx context.Context, ledger services.LedgerService, batch int) (int, error) {
	total := 0
	for {
		n, err := ledger.ConfirmMatured(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < batch || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
