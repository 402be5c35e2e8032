package di

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/rewards/internal/platform/config"
	"github.com/hanko-field/rewards/internal/platform/secrets"
	"github.com/hanko-field/rewards/internal/platform/textutil"
	"github.com/hanko-field/rewards/internal/services"
)

// LoadConfig reads the environment, resolves secret references through Secret Manager (or the
// local fallback file) and validates the result. The returned fetcher must be closed by the caller.
func LoadConfig(ctx context.Context, logger *zap.Logger) (config.Config, *secrets.Fetcher, map[string]string, error) {
	envValues, err := config.EnvironmentValues()
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		_ = fetcher.Close()
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return config.Config{}, nil, nil, err
	}
	return cfg, fetcher, envValues, nil
}

// BuildInfoFromEnv reads build metadata stamped into the deployment environment.
func BuildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// TraceProjectID is the Google Cloud project used for trace correlation and metric export.
func TraceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a non-empty value. Stripe and HMAC
// secrets are only required when the matching setting is present at all.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["API_STORAGE_DRIVER"]), config.StorageDriverPostgres) {
		required = append(required, "Storage.DatabaseURL")
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_WEBHOOK_SECRET"]) != "" {
		required = append(required, "PSP.StripeWebhookSecret")
	}
	for _, key := range textutil.SortedKeys(textutil.ParsePairs(env["API_SECURITY_HMAC_SECRETS"])) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	sort.Strings(required)
	return required
}
