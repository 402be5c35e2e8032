package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStorageDriver        = StorageDriverMemory
	defaultPostgresMaxConns     = 10
	defaultRateCacheTTL         = 5 * time.Minute
	defaultRewardsTopic         = "rewards-events"
	defaultEventsDriver         = EventsDriverNone
	defaultKafkaGroupID         = "rewards-worker"
	defaultPayoutCurrency       = "usd"
	defaultSweepInterval        = 15 * time.Minute
	defaultSweepBatchSize       = 500
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultRateLimitRedemptions = 10
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultHMACSignatureHeader  = "X-Signature"
	defaultHMACTimestampHeader  = "X-Signature-Timestamp"
	defaultHMACNonceHeader      = "X-Signature-Nonce"
	defaultHMACClockSkew        = 5 * time.Minute
	defaultHMACNonceTTL         = 5 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Storage drivers accepted by API_STORAGE_DRIVER.
const (
	StorageDriverMemory    = "memory"
	StorageDriverPostgres  = "postgres"
	StorageDriverFirestore = "firestore"
)

// Event transports accepted by API_EVENTS_DRIVER.
const (
	EventsDriverNone   = "none"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Cache       CacheConfig
	Policy      PolicyConfig
	Events      EventsConfig
	PSP         PSPConfig
	Worker      WorkerConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project used for end-user tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig identifies the Firestore database used when Storage.Driver is firestore.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver      string
	DatabaseURL string
	MaxConns    int
	AutoMigrate bool
}

// CacheConfig enables the Redis rate cache and idempotency store.
type CacheConfig struct {
	RedisURL string
	RateTTL  time.Duration
}

// PolicyConfig points at the rewards policy document. Source may be a local path or gs://bucket/object.
type PolicyConfig struct {
	Source string
}

// EventsConfig configures the outbound domain event transport and the worker's inbound reward event stream.
// Topic and Subscription name Pub/Sub resources; with the kafka driver Topic is the outbound topic,
// Subscription the inbound topic and GroupID the consumer group.
type EventsConfig struct {
	Driver       string
	ProjectID    string
	Topic        string
	Subscription string
	Brokers      []string
	GroupID      string
}

// PSPConfig holds Stripe credentials used for payouts and purchase webhooks.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	PayoutCurrency      string
}

// WorkerConfig governs the background maturity sweep.
type WorkerConfig struct {
	SweepInterval  time.Duration
	SweepBatchSize int
}

// RateLimitConfig defines per-minute request limits.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	RedemptionsPerMinute   int
}

// SecurityConfig groups authentication settings for internal callers.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig validates Google-signed identity tokens on internal routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig verifies signed affiliate network postbacks.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig governs Idempotency-Key handling on redemption requests.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves secret:// references, normally through Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over both the .env file and the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields that must resolve to a non-empty value, named by field
// path such as "PSP.StripeAPIKey" or "Security.HMAC.Secrets[impact]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would read, so callers can build the
// secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	values, err := collectEnv(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return maps.Clone(map[string]string(values)), nil
}

// Load reads configuration from defaults, the .env file, the environment and Secret Manager,
// then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	e, err := collectEnv(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			Driver:      e.lower("API_STORAGE_DRIVER", defaultStorageDriver),
			DatabaseURL: e.str("API_STORAGE_DATABASE_URL", ""),
			MaxConns:    e.integer("API_STORAGE_MAX_CONNS", defaultPostgresMaxConns),
			AutoMigrate: e.boolean("API_STORAGE_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			RedisURL: e.str("API_CACHE_REDIS_URL", ""),
			RateTTL:  e.duration("API_CACHE_RATE_TTL", defaultRateCacheTTL),
		},
		Policy: PolicyConfig{
			Source: e.str("API_POLICY_SOURCE", ""),
		},
		Events: EventsConfig{
			Driver:       e.lower("API_EVENTS_DRIVER", defaultEventsDriver),
			ProjectID:    e.str("API_EVENTS_PROJECT_ID", ""),
			Topic:        e.str("API_EVENTS_TOPIC", defaultRewardsTopic),
			Subscription: e.str("API_EVENTS_SUBSCRIPTION", ""),
			Brokers:      e.list("API_EVENTS_KAFKA_BROKERS"),
			GroupID:      e.str("API_EVENTS_KAFKA_GROUP_ID", defaultKafkaGroupID),
		},
		PSP: PSPConfig{
			StripeAPIKey:        e.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: e.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			PayoutCurrency:      e.lower("API_PSP_PAYOUT_CURRENCY", defaultPayoutCurrency),
		},
		Worker: WorkerConfig{
			SweepInterval:  e.duration("API_WORKER_SWEEP_INTERVAL", defaultSweepInterval),
			SweepBatchSize: e.integer("API_WORKER_SWEEP_BATCH", defaultSweepBatchSize),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       e.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: e.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			RedemptionsPerMinute:   e.integer("API_RATELIMIT_REDEMPTIONS_PER_MIN", defaultRateLimitRedemptions),
		},
		Security: SecurityConfig{
			Environment: e.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:   e.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  e.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: e.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   e.list("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         e.pairs("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: e.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: e.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     e.str("API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       e.duration("API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        e.duration("API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
	applyDerivedDefaults(&cfg)

	resolved, err := resolveSecrets(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults fills settings that fall back to other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}
}

// resolveSecrets replaces secret references in place and returns every secret field's final value
// keyed by field path.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	fields := []struct {
		name  string
		value *string
	}{
		{"Storage.DatabaseURL", &cfg.Storage.DatabaseURL},
		{"Cache.RedisURL", &cfg.Cache.RedisURL},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
	}
	resolved := make(map[string]string, len(fields)+len(cfg.Security.HMAC.Secrets))
	for _, f := range fields {
		value, err := resolveSecret(ctx, *f.value, resolver)
		if err != nil {
			return nil, err
		}
		*f.value = value
		resolved[f.name] = strings.TrimSpace(value)
	}
	for network, ref := range cfg.Security.HMAC.Secrets {
		value, err := resolveSecret(ctx, ref, resolver)
		if err != nil {
			return nil, err
		}
		cfg.Security.HMAC.Secrets[network] = value
		resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", network)] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	switch cfg.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		check(cfg.Storage.DatabaseURL != "", "Storage.DatabaseURL")
		check(cfg.Storage.MaxConns > 0, "Storage.MaxConns")
	case StorageDriverFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		invalid = append(invalid, "Storage.Driver")
	}
	check(cfg.Cache.RedisURL == "" || cfg.Cache.RateTTL > 0, "Cache.RateTTL")
	switch cfg.Events.Driver {
	case EventsDriverNone:
	case EventsDriverPubSub:
		check(cfg.Events.ProjectID != "", "Events.ProjectID")
		check(cfg.Events.Topic != "", "Events.Topic")
	case EventsDriverKafka:
		check(len(cfg.Events.Brokers) > 0, "Events.Brokers")
		check(cfg.Events.Topic != "", "Events.Topic")
	default:
		invalid = append(invalid, "Events.Driver")
	}
	check(len(cfg.PSP.PayoutCurrency) == 3, "PSP.PayoutCurrency")
	check(cfg.Worker.SweepInterval > 0, "Worker.SweepInterval")
	check(cfg.Worker.SweepBatchSize > 0, "Worker.SweepBatchSize")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

// resolveSecret passes plain values through and looks up secret:// or sm:// references.
func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	var ref string
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		ref = trimmed
	case strings.HasPrefix(trimmed, "sm://"):
		ref = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	default:
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]bool, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	return newMissingSecretsError(missing)
}
