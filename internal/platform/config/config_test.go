package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "rewards-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Errorf("expected memory storage by default, got %s", cfg.Storage.Driver)
	}
	if cfg.Firestore.ProjectID != "rewards-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "rewards-dev" {
		t.Errorf("expected events project to default to firebase project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != defaultRewardsTopic {
		t.Errorf("unexpected default topic %s", cfg.Events.Topic)
	}
	if cfg.PSP.PayoutCurrency != "usd" {
		t.Errorf("unexpected payout currency %s", cfg.PSP.PayoutCurrency)
	}
	if cfg.Worker.SweepInterval != defaultSweepInterval || cfg.Worker.SweepBatchSize != defaultSweepBatchSize {
		t.Errorf("unexpected worker defaults %+v", cfg.Worker)
	}
	if cfg.RateLimits.RedemptionsPerMinute != defaultRateLimitRedemptions {
		t.Errorf("unexpected redemption rate limit: %d", cfg.RateLimits.RedemptionsPerMinute)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Cache.RedisURL != "" {
		t.Errorf("expected redis disabled by default, got %s", cfg.Cache.RedisURL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_STORAGE_DRIVER":                "Postgres",
		"API_STORAGE_DATABASE_URL":          "secret://rewards/dsn",
		"API_STORAGE_MAX_CONNS":             "20",
		"API_CACHE_REDIS_URL":               "redis://localhost:6379/0",
		"API_CACHE_RATE_TTL":                "30s",
		"API_POLICY_SOURCE":                 "gs://rewards-config/policy.yaml",
		"API_EVENTS_DRIVER":                 "PubSub",
		"API_EVENTS_PROJECT_ID":             "rewards-prod",
		"API_EVENTS_SUBSCRIPTION":           "rewards-worker",
		"API_PSP_STRIPE_API_KEY":            "sm://stripe/api",
		"API_PSP_PAYOUT_CURRENCY":           "EUR",
		"API_SECURITY_ENVIRONMENT":          "PROD",
		"API_SECURITY_OIDC_AUDIENCES":       "prod=https://rewards.example.com",
		"API_SECURITY_HMAC_SECRETS":         "impact=secret://hmac/impact",
		"API_WORKER_SWEEP_INTERVAL":         "1m",
		"API_IDEMPOTENCY_TTL":               "2h",
		"API_RATELIMIT_REDEMPTIONS_PER_MIN": "3",
	}
	secrets := map[string]string{
		"secret://rewards/dsn": "postgres://user:pass@db/rewards",
		"secret://stripe/api":  "sk_test_123",
		"secret://hmac/impact": "impact-secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Storage.Driver != StorageDriverPostgres || cfg.Storage.MaxConns != 20 {
		t.Errorf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Storage.DatabaseURL != "postgres://user:pass@db/rewards" {
		t.Errorf("expected resolved database url, got %s", cfg.Storage.DatabaseURL)
	}
	if cfg.Cache.RateTTL != 30*time.Second {
		t.Errorf("unexpected rate ttl %s", cfg.Cache.RateTTL)
	}
	if cfg.Policy.Source != "gs://rewards-config/policy.yaml" {
		t.Errorf("unexpected policy source %s", cfg.Policy.Source)
	}
	if cfg.Events.Driver != EventsDriverPubSub || cfg.Events.Subscription != "rewards-worker" {
		t.Errorf("unexpected events config %+v", cfg.Events)
	}
	if cfg.PSP.StripeAPIKey != "sk_test_123" {
		t.Errorf("expected legacy sm:// reference to resolve, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.PayoutCurrency != "eur" {
		t.Errorf("expected lower-cased currency, got %s", cfg.PSP.PayoutCurrency)
	}
	if cfg.Security.OIDC.Audience != "https://rewards.example.com" {
		t.Errorf("expected audience from environment map, got %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Security.HMAC.Secrets["impact"] != "impact-secret" {
		t.Errorf("expected resolved hmac secret, got %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Worker.SweepInterval != time.Minute {
		t.Errorf("unexpected sweep interval %s", cfg.Worker.SweepInterval)
	}
	if cfg.Idempotency.TTL != 2*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.RateLimits.RedemptionsPerMinute != 3 {
		t.Errorf("unexpected redemption limit %d", cfg.RateLimits.RedemptionsPerMinute)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"rewards-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "rewards-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_DRIVER":      "postgres",
		"API_PSP_PAYOUT_CURRENCY": "dollars",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validationErr.Fields()
	if len(fields) != 2 || fields[0] != "Storage.DatabaseURL" || fields[1] != "PSP.PayoutCurrency" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{"API_STORAGE_DRIVER": "mysql"}), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_PSP_STRIPE_API_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("PSP.StripeWebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "PSP.StripeAPIKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadKafkaEvents(t *testing.T) {
	env := map[string]string{
		"API_EVENTS_DRIVER":         "kafka",
		"API_EVENTS_KAFKA_BROKERS":  "kafka-1:9092, kafka-2:9092",
		"API_EVENTS_SUBSCRIPTION":   "reward-events-in",
		"API_EVENTS_KAFKA_GROUP_ID": "rewards-test",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Events.Brokers) != 2 || cfg.Events.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Events.Brokers)
	}
	if cfg.Events.GroupID != "rewards-test" || cfg.Events.Topic != defaultRewardsTopic {
		t.Errorf("unexpected events config %+v", cfg.Events)
	}

	delete(env, "API_EVENTS_KAFKA_BROKERS")
	_, err = Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fields := verr.Fields(); len(fields) != 1 || fields[0] != "Events.Brokers" {
		t.Errorf("unexpected missing fields %v", fields)
	}
}
