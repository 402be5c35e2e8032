package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/config"
	"github.com/hanko-field/rewards/internal/platform/idempotency"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/repositories/memory"
	"github.com/hanko-field/rewards/internal/services"
)

func memoryConfig() config.Config {
	return config.Config{
		Storage: config.StorageConfig{Driver: config.StorageDriverMemory},
		Events:  config.EventsConfig{Driver: config.EventsDriverNone},
		PSP:     config.PSPConfig{PayoutCurrency: "usd"},
	}
}

func TestNewContainerMemoryDriver(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	c, err := NewContainer(ctx, memoryConfig(),
		WithClock(func() time.Time { return now }),
		WithBuildInfo(services.BuildInfo{Version: "test"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.NotNil(t, c.Services.Ledger)
	assert.NotNil(t, c.Services.Redemptions)
	assert.NotNil(t, c.Services.Rates)
	assert.NotNil(t, c.Services.Events)
	assert.NotNil(t, c.Services.System)
	assert.Nil(t, c.Services.Payouts, "payouts stay disabled without a stripe key")
	assert.Nil(t, c.Redis)

	assert.IsType(t, &idempotency.MemoryStore{}, c.IdempotencyStore())
	assert.IsType(t, &auth.InMemoryNonceStore{}, c.NonceStore())

	sub, err := c.Subscriber(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestContainerProcessesEventEndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	c, err := NewContainer(ctx, memoryConfig(),
		WithRegistry(store),
		WithPolicy(policy.Default()),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	cost := int64(1000)
	product := domain.Product{ID: "prod-1", Type: domain.ProductTypeDropship, Platform: domain.PlatformAliExpress, PriceCents: 2000, CostCents: &cost}
	outcome, err := c.Services.Events.Process(ctx, domain.RewardEvent{
		UserID:     "user-1",
		OrderID:    "order-1",
		Product:    product,
		Input:      domain.InputForProduct(product),
		OccurredAt: now,
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, int64(60), outcome.Entry.AmountCents)
	assert.Equal(t, domain.LedgerStatusConfirmed, outcome.Entry.Status)

	balance, err := c.Services.Ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance.AvailableCents)

	// Closing a container built over an injected registry leaves the registry open.
	require.NoError(t, c.Close(ctx))
	_, err = store.Ledger().AllByUser(ctx, "user-1")
	require.NoError(t, err)
}

func TestNewContainerRejectsInvalidPolicy(t *testing.T) {
	bad := policy.Default()
	bad.OperatingBufferCents = -1
	_, err := NewContainer(context.Background(), memoryConfig(), WithPolicy(bad))
	require.Error(t, err)
}

func TestNewContainerRejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "cassandra"
	_, err := NewContainer(context.Background(), cfg, WithPolicy(policy.Default()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}
