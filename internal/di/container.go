package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/payouts"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/cache"
	"github.com/hanko-field/rewards/internal/platform/config"
	"github.com/hanko-field/rewards/internal/platform/events"
	pfirestore "github.com/hanko-field/rewards/internal/platform/firestore"
	"github.com/hanko-field/rewards/internal/platform/idempotency"
	"github.com/hanko-field/rewards/internal/platform/observability"
	"github.com/hanko-field/rewards/internal/platform/storage"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/repositories"
	firestoreRepo "github.com/hanko-field/rewards/internal/repositories/firestore"
	"github.com/hanko-field/rewards/internal/repositories/memory"
	"github.com/hanko-field/rewards/internal/repositories/postgres"
	"github.com/hanko-field/rewards/internal/services"
)

const stripeProviderKey = "stripe"

// Services bundles the service-layer contracts that handlers and the worker rely upon.
type Services struct {
	Resolver    services.RateResolver
	Ledger      services.LedgerService
	Redemptions services.RedemptionService
	Rates       services.RateAdminService
	Events      services.EventProcessor
	Payouts     services.PayoutService
	System      services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Policy       policy.Policy
	Repositories repositories.Registry
	Services     Services
	Metrics      *observability.Metrics
	Redis        *redis.Client

	logger    *zap.Logger
	firestore *pfirestore.Provider
	pubsub    *pubsub.Client
	closers   []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	registry  repositories.Registry
	policy    *policy.Policy
	build     services.BuildInfo
	logger    *zap.Logger
	publisher services.EventPublisher
	payouts   *payouts.Manager
	clock     func() time.Time
}

// WithRegistry bypasses the configured storage driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithPolicy bypasses loading Policy.Source.
func WithPolicy(p policy.Policy) Option {
	return func(o *options) { o.policy = &p }
}

// WithBuildInfo sets the build metadata reported on health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithLogger sets the base logger for service events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPublisher bypasses the configured events driver for outbound domain events.
func WithPublisher(publisher services.EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithPayoutManager supplies the disbursement manager instead of building one from PSP settings.
func WithPayoutManager(manager *payouts.Manager) Option {
	return func(o *options) { o.payouts = manager }
}

// WithClock overrides the wall clock used by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies from cfg. Resources opened along the way are
// released by Close, including when construction fails part way.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Container{Config: cfg, logger: o.logger}
	if err := c.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(closeCtx)
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, o options) error {
	p, err := c.loadPolicy(ctx, o)
	if err != nil {
		return err
	}
	c.Policy = p

	reg := o.registry
	if reg == nil {
		if reg, err = c.openRegistry(ctx); err != nil {
			return err
		}
		c.closers = append(c.closers, reg.Close)
	}
	c.Repositories = reg

	rules := reg.RateRules()
	overrides := reg.Overrides()
	if url := strings.TrimSpace(c.Config.Cache.RedisURL); url != "" {
		client, err := cache.Connect(ctx, url)
		if err != nil {
			return err
		}
		c.Redis = client
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		store := cache.NewRedisStore(client)
		cacheLogger := c.logger.Named("cache")
		rules = cache.RateRules(rules, store, c.Config.Cache.RateTTL, cacheLogger)
		overrides = cache.Overrides(overrides, store, c.Config.Cache.RateTTL, cacheLogger)
	}

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}
	c.Metrics = metrics

	publisher := o.publisher
	if publisher == nil {
		if publisher, err = c.openPublisher(ctx); err != nil {
			return err
		}
	}

	logFor := func(name string) services.Logger {
		return observability.ServiceLogger(c.logger.Named(name))
	}

	resolver, err := services.NewRateResolver(services.RateResolverDeps{
		Rules:     rules,
		Overrides: overrides,
		Policy:    p,
		Clock:     o.clock,
		Logger:    logFor("rates"),
	})
	if err != nil {
		return fmt.Errorf("build rate resolver: %w", err)
	}
	margins, err := services.NewMarginCalculator(p)
	if err != nil {
		return fmt.Errorf("build margin calculator: %w", err)
	}
	rewards, err := services.NewRewardEngine(p)
	if err != nil {
		return fmt.Errorf("build reward engine: %w", err)
	}
	coolingOff, err := services.NewCoolingOffScheduler(p)
	if err != nil {
		return fmt.Errorf("build cooling-off scheduler: %w", err)
	}

	ledger, err := services.NewLedgerService(services.LedgerServiceDeps{
		Ledger:        reg.Ledger(),
		Redemptions:   reg.Redemptions(),
		PointsPerCent: p.PointsPerCent,
		Clock:         o.clock,
		Logger:        logFor("ledger"),
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("build ledger service: %w", err)
	}

	processor, err := services.NewEventProcessor(services.EventProcessorDeps{
		Resolver:   resolver,
		Margins:    margins,
		Rewards:    rewards,
		CoolingOff: coolingOff,
		Ledger:     ledger,
		Publisher:  publisher,
		Clock:      o.clock,
		Logger:     logFor("events"),
	})
	if err != nil {
		return fmt.Errorf("build event processor: %w", err)
	}

	redemptions, err := services.NewRedemptionService(services.RedemptionServiceDeps{
		Accounts:    reg.Accounts(),
		Redemptions: reg.Redemptions(),
		Vouchers:    reg.Vouchers(),
		Policy:      p,
		Clock:       o.clock,
		Publisher:   publisher,
		Logger:      logFor("redemptions"),
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("build redemption service: %w", err)
	}

	rates, err := services.NewRateAdminService(services.RateAdminServiceDeps{
		Rules:     rules,
		Overrides: overrides,
		Policy:    p,
		Clock:     o.clock,
		Logger:    logFor("rates"),
	})
	if err != nil {
		return fmt.Errorf("build rate admin service: %w", err)
	}

	payoutSvc, err := c.buildPayouts(o, redemptions, logFor("payouts"))
	if err != nil {
		return err
	}

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: c.healthRepository(reg),
		Clock:            o.clock,
		Build:            o.build,
		Policy:           &p,
		Features: map[string]bool{
			"payouts": payoutSvc != nil,
			"events":  publisher != nil,
			"redis":   c.Redis != nil,
		},
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{
		Resolver:    resolver,
		Ledger:      ledger,
		Redemptions: redemptions,
		Rates:       rates,
		Events:      processor,
		Payouts:     payoutSvc,
		System:      system,
	}
	return nil
}

func (c *Container) loadPolicy(ctx context.Context, o options) (policy.Policy, error) {
	if o.policy != nil {
		if err := o.policy.Validate(); err != nil {
			return policy.Policy{}, err
		}
		return o.policy.Clone(), nil
	}
	source := strings.TrimSpace(c.Config.Policy.Source)
	var loadOpts []policy.LoadOption
	if storage.IsObjectURL(source) {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("policy storage client: %w", err)
		}
		reader, err := storage.NewReader(client)
		if err != nil {
			_ = client.Close()
			return policy.Policy{}, err
		}
		defer reader.Close()
		loadOpts = append(loadOpts, policy.WithObjectReader(reader))
	}
	p, err := policy.Load(ctx, source, loadOpts...)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

func (c *Container) openRegistry(ctx context.Context) (repositories.Registry, error) {
	switch c.Config.Storage.Driver {
	case config.StorageDriverMemory, "":
		return memory.New(), nil
	case config.StorageDriverPostgres:
		db, err := postgres.Connect(ctx, c.Config.Storage.DatabaseURL, c.Config.Storage.MaxConns)
		if err != nil {
			return nil, err
		}
		if c.Config.Storage.AutoMigrate {
			if err := postgres.RunMigrations(ctx, db); err != nil {
				if sqlDB, dbErr := db.DB(); dbErr == nil {
					_ = sqlDB.Close()
				}
				return nil, err
			}
		}
		return postgres.NewStore(db)
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(c.Config.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		c.firestore = provider
		return firestoreRepo.NewStore(provider)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", c.Config.Storage.Driver)
	}
}

func (c *Container) openPublisher(ctx context.Context) (services.EventPublisher, error) {
	switch c.Config.Events.Driver {
	case config.EventsDriverPubSub:
		client, err := c.pubsubClient(ctx)
		if err != nil {
			return nil, err
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(c.Config.Events.Topic))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error {
			publisher.Stop()
			return nil
		})
		return publisher, nil
	case config.EventsDriverKafka:
		publisher, err := events.NewKafkaPublisher(c.Config.Events.Brokers, c.Config.Events.Topic)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, nil
	}
}

func (c *Container) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	if c.pubsub != nil {
		return c.pubsub, nil
	}
	client, err := pubsub.NewClient(ctx, c.Config.Events.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c.pubsub = client
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (c *Container) buildPayouts(o options, redemptions services.RedemptionService, logger services.Logger) (services.PayoutService, error) {
	manager := o.payouts
	var verifier *payouts.StripeAccountVerifier
	apiKey := strings.TrimSpace(c.Config.PSP.StripeAPIKey)
	if manager == nil {
		if apiKey == "" {
			return nil, nil
		}
		stripeLogger := observability.ServiceLogger(c.logger.Named("payouts.stripe"))
		provider, err := payouts.NewStripeProvider(payouts.StripeProviderConfig{
			APIKey:   apiKey,
			Currency: c.Config.PSP.PayoutCurrency,
			Logger:   stripeLogger,
			Clock:    o.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe payouts: %w", err)
		}
		manager, err = payouts.NewManager(map[string]payouts.Provider{stripeProviderKey: provider},
			payouts.WithDefaultProvider(stripeProviderKey))
		if err != nil {
			return nil, fmt.Errorf("build payout manager: %w", err)
		}
		verifier, err = payouts.NewStripeAccountVerifier(payouts.StripeProviderConfig{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("build stripe account verifier: %w", err)
		}
	}

	deps := services.PayoutServiceDeps{
		Redemptions: redemptions,
		Payouts:     manager,
		Currency:    c.Config.PSP.PayoutCurrency,
		Clock:       o.clock,
		Logger:      logger,
		Metrics:     c.Metrics,
	}
	if verifier != nil {
		deps.Accounts = verifier
	}
	svc, err := services.NewPayoutService(deps)
	if err != nil {
		return nil, fmt.Errorf("build payout service: %w", err)
	}
	return svc, nil
}

// healthRepository adds a Redis probe next to the storage probe when the cache is configured.
func (c *Container) healthRepository(reg repositories.Registry) repositories.HealthRepository {
	storageHealth := reg.Health()
	if c.Redis == nil || storageHealth == nil {
		return storageHealth
	}
	client := c.Redis
	repo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "storage",
			Check: func(ctx context.Context) error {
				report, err := storageHealth.Collect(ctx)
				if err != nil {
					return err
				}
				if report.Status == domain.HealthStatusError {
					return errors.New("storage dependency unhealthy")
				}
				return nil
			},
		},
		{
			Name:     "redis",
			Optional: true,
			Timeout:  time.Second,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		},
	})
	if err != nil {
		return storageHealth
	}
	return repo
}

// IdempotencyStore returns the store backing Idempotency-Key handling: Redis when configured,
// then Firestore for the firestore driver, else process memory.
func (c *Container) IdempotencyStore() idempotency.Store {
	if c.Redis != nil {
		return idempotency.NewRedisStore(c.Redis)
	}
	if c.firestore != nil {
		if client, err := c.firestore.Client(context.Background()); err == nil {
			return idempotency.NewFirestoreStore(client)
		}
	}
	return idempotency.NewMemoryStore()
}

// NonceStore returns the replay guard for signed webhooks. Nonces are shared across instances only
// when Redis is configured.
func (c *Container) NonceStore() auth.NonceStore {
	if c.Redis != nil {
		return cache.NewNonceStore(c.Redis)
	}
	return auth.NewInMemoryNonceStore()
}

// Subscriber is an inbound reward event stream. Run blocks until ctx is cancelled.
type Subscriber interface {
	Run(ctx context.Context) error
}

// Subscriber opens the inbound reward event stream for the worker. It returns nil when the events
// driver is none or no inbound subscription is configured.
func (c *Container) Subscriber(ctx context.Context, dispatcher *events.Dispatcher) (Subscriber, error) {
	inbound := strings.TrimSpace(c.Config.Events.Subscription)
	if inbound == "" {
		return nil, nil
	}
	switch c.Config.Events.Driver {
	case config.EventsDriverPubSub:
		client, err := c.pubsubClient(ctx)
		if err != nil {
			return nil, err
		}
		return events.NewPubSubSubscriber(client.Subscription(inbound), dispatcher)
	case config.EventsDriverKafka:
		consumer, err := events.NewKafkaConsumer(c.Config.Events.Brokers, c.Config.Events.GroupID, inbound, dispatcher)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return consumer.Close() })
		return consumer, nil
	default:
		return nil, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
