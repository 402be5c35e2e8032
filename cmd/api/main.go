package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/rewards/internal/di"
	"github.com/hanko-field/rewards/internal/handlers"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/cache"
	"github.com/hanko-field/rewards/internal/platform/config"
	"github.com/hanko-field/rewards/internal/platform/idempotency"
	"github.com/hanko-field/rewards/internal/platform/observability"
)

const rateWindow = time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("rewards-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
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

	projectID := di.TraceProjectID(cfg)
	shutdownMetrics, err := observability.NewMeterProvider(ctx, projectID, 0)
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
	svc := container.Services

	idempotencyStore := container.IdempotencyStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	authenticator := buildAuthenticator(ctx, logger.Named("auth"), cfg)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, container.Metrics)

	meHandlers := handlers.NewMeRewardsHandlers(authenticator, svc.Ledger, svc.Redemptions,
		handlers.WithRedemptionIdempotency(idempotencyMiddleware),
		handlers.WithRedemptionRateLimit(handlers.RateLimit(
			newRateLimiter(container, "redemptions", cfg.RateLimits.RedemptionsPerMinute), "redemptions", rateWindow)),
	)
	adminHandlers := handlers.NewAdminRewardsHandlers(authenticator, svc.Redemptions, svc.Rates, svc.Events)
	internalHandlers := handlers.NewInternalRewardsHandlers(svc.Events, svc.Ledger, svc.Payouts,
		handlers.WithVoucherLookup(svc.Redemptions))

	webhookOpts := []handlers.WebhookOption{}
	if secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret); secret != "" {
		webhookOpts = append(webhookOpts, handlers.WithStripeWebhookSecret(secret))
	}
	if validator, networks := buildAffiliateValidator(logger.Named("auth"), cfg, container); validator != nil {
		webhookOpts = append(webhookOpts, handlers.WithAffiliateNetworks(validator, networks))
	}
	webhookHandlers := handlers.NewWebhookHandlers(svc.Events, webhookOpts...)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(
			observability.WithRequestMetrics(container.Metrics),
			observability.WithIdempotencyHeader(cfg.Idempotency.Header),
		),
		handlers.RateLimit(newRateLimiter(container, "default", cfg.RateLimits.DefaultPerMinute), "default", rateWindow),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("rewards api listening", zap.String("storage", cfg.Storage.Driver), zap.String("events", cfg.Events.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown error", zap.Error(err))
	}
}

// newRateLimiter shares counters through Redis when it is configured so every instance enforces
// one budget; otherwise each instance counts on its own.
func newRateLimiter(container *di.Container, scope string, perMinute int) handlers.RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if container.Redis != nil {
		return cache.NewRateLimiter(container.Redis, "ratelimit:"+scope, perMinute, rateWindow)
	}
	return handlers.NewLocalRateLimiter(perMinute, rateWindow, time.Now)
}

func buildAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("auth: firebase project not configured; user routes will reject requests")
		return nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	return auth.NewAuthenticator(verifier, auth.WithAuthLogger(logger))
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(jwks, auth.WithOIDCLogger(logger), auth.WithOIDCMetrics(metrics))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

// buildAffiliateValidator enables one affiliate postback route per configured HMAC secret. Each
// network signs with the secret registered under its own name.
func buildAffiliateValidator(logger *zap.Logger, cfg config.Config, container *di.Container) (*auth.HMACValidator, map[string]string) {
	secrets := make(map[string]string)
	networks := make(map[string]string)
	for network, value := range cfg.Security.HMAC.Secrets {
		network = strings.ToLower(strings.TrimSpace(network))
		if network == "" || strings.TrimSpace(value) == "" {
			continue
		}
		secrets[network] = value
		networks[network] = network
	}
	if len(secrets) == 0 {
		return nil, nil
	}

	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if secret, ok := secrets[strings.ToLower(strings.TrimSpace(name))]; ok {
			return secret, nil
		}
		return "", errors.New("auth: secret not found")
	})
	validator := auth.NewHMACValidator(provider, container.NonceStore(),
		auth.WithHMACLogger(logger),
		auth.WithHMACMetrics(container.Metrics),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACWindow(cfg.Security.HMAC.ClockSkew, cfg.Security.HMAC.NonceTTL),
	)
	return validator, networks
}
