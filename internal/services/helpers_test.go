package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/repositories/memory"
)

var (
	testNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	fundSeq atomic.Int64
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

func sequentialIDs() func(prefix string) string {
	var n atomic.Int64
	return func(prefix string) string {
		return fmt.Sprintf("%s%04d", prefix, n.Add(1))
	}
}

type rewardsStack struct {
	store       *memory.Store
	clock       *testClock
	publisher   *recordingPublisher
	resolver    RateResolver
	ledger      LedgerService
	redemptions RedemptionService
	processor   EventProcessor
	admin       RateAdminService
}

func newRewardsStack(t *testing.T) *rewardsStack {
	t.Helper()
	p := policy.Default()
	store := memory.New()
	clock := &testClock{now: testNow}
	publisher := &recordingPublisher{}
	ids := sequentialIDs()

	resolver, err := NewRateResolver(RateResolverDeps{Rules: store.RateRules(), Overrides: store.Overrides(), Policy: p, Clock: clock.Now})
	require.NoError(t, err)
	margins, err := NewMarginCalculator(p)
	require.NoError(t, err)
	rewards, err := NewRewardEngine(p)
	require.NoError(t, err)
	coolingOff, err := NewCoolingOffScheduler(p)
	require.NoError(t, err)
	ledger, err := NewLedgerService(LedgerServiceDeps{
		Ledger:      store.Ledger(),
		Redemptions: store.Redemptions(),
		Clock:       clock.Now,
		IDGenerator: func() string { return ids(ledgerEntryIDPrefix) },
	})
	require.NoError(t, err)
	redemptions, err := NewRedemptionService(RedemptionServiceDeps{
		Accounts:    store.Accounts(),
		Redemptions: store.Redemptions(),
		Vouchers:    store.Vouchers(),
		Policy:      p,
		Clock:       clock.Now,
		IDGenerator: ids,
		Publisher:   publisher,
	})
	require.NoError(t, err)
	processor, err := NewEventProcessor(EventProcessorDeps{
		Resolver:   resolver,
		Margins:    margins,
		Rewards:    rewards,
		CoolingOff: coolingOff,
		Ledger:     ledger,
		Publisher:  publisher,
		Clock:      clock.Now,
	})
	require.NoError(t, err)
	admin, err := NewRateAdminService(RateAdminServiceDeps{
		Rules:       store.RateRules(),
		Overrides:   store.Overrides(),
		Policy:      p,
		Clock:       clock.Now,
		IDGenerator: ids,
	})
	require.NoError(t, err)

	return &rewardsStack{
		store:       store,
		clock:       clock,
		publisher:   publisher,
		resolver:    resolver,
		ledger:      ledger,
		redemptions: redemptions,
		processor:   processor,
		admin:       admin,
	}
}

// fund grants a confirmed balance to the user through the ledger service.
func (s *rewardsStack) fund(t *testing.T, userID string, cents int64) {
	t.Helper()
	_, err := s.ledger.Grant(context.Background(), GrantCommand{
		UserID:      userID,
		SourceType:  "task",
		SourceID:    fmt.Sprintf("fund-%s-%d", userID, fundSeq.Add(1)),
		AmountCents: cents,
		Status:      "confirmed",
	})
	require.NoError(t, err)
}
