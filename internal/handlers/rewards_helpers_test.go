package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/repositories/memory"
	"github.com/hanko-field/rewards/internal/services"
)

var rewardsTestNow = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type rewardsFixture struct {
	store       *memory.Store
	ledger      services.LedgerService
	redemptions services.RedemptionService
	processor   services.EventProcessor
	rates       services.RateAdminService
	seq         atomic.Int64
}

func newRewardsFixture(t *testing.T) *rewardsFixture {
	t.Helper()
	p := policy.Default()
	store := memory.New()
	clock := func() time.Time { return rewardsTestNow }
	var ids atomic.Int64
	nextID := func(prefix string) string { return fmt.Sprintf("%s%04d", prefix, ids.Add(1)) }

	resolver, err := services.NewRateResolver(services.RateResolverDeps{Rules: store.RateRules(), Overrides: store.Overrides(), Policy: p, Clock: clock})
	require.NoError(t, err)
	margins, err := services.NewMarginCalculator(p)
	require.NoError(t, err)
	engine, err := services.NewRewardEngine(p)
	require.NoError(t, err)
	coolingOff, err := services.NewCoolingOffScheduler(p)
	require.NoError(t, err)
	ledger, err := services.NewLedgerService(services.LedgerServiceDeps{
		Ledger:      store.Ledger(),
		Redemptions: store.Redemptions(),
		Clock:       clock,
		IDGenerator: func() string { return nextID("led_") },
	})
	require.NoError(t, err)
	redemptions, err := services.NewRedemptionService(services.RedemptionServiceDeps{
		Accounts:    store.Accounts(),
		Redemptions: store.Redemptions(),
		Vouchers:    store.Vouchers(),
		Policy:      p,
		Clock:       clock,
		IDGenerator: nextID,
	})
	require.NoError(t, err)
	processor, err := services.NewEventProcessor(services.EventProcessorDeps{
		Resolver:   resolver,
		Margins:    margins,
		Rewards:    engine,
		CoolingOff: coolingOff,
		Ledger:     ledger,
		Clock:      clock,
	})
	require.NoError(t, err)
	rates, err := services.NewRateAdminService(services.RateAdminServiceDeps{
		Rules:       store.RateRules(),
		Overrides:   store.Overrides(),
		Policy:      p,
		Clock:       clock,
		IDGenerator: nextID,
	})
	require.NoError(t, err)

	return &rewardsFixture{
		store:       store,
		ledger:      ledger,
		redemptions: redemptions,
		processor:   processor,
		rates:       rates,
	}
}

func (f *rewardsFixture) fund(t *testing.T, userID string, cents int64) {
	t.Helper()
	_, err := f.ledger.Grant(context.Background(), services.GrantCommand{
		UserID:      userID,
		SourceType:  domain.SourceTypeTask,
		SourceID:    fmt.Sprintf("fund-%d", f.seq.Add(1)),
		AmountCents: cents,
		Status:      domain.LedgerStatusConfirmed,
	})
	require.NoError(t, err)
}

func mountRoutes(routes func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	routes(r)
	return r
}

func rewardsRequest(t *testing.T, method, path string, body any, identity *auth.Identity) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, rr, &body)
	code, _ := body["error"].(string)
	return code
}

func userIdentity(uid string, roles ...string) *auth.Identity {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	return &auth.Identity{UID: uid, Roles: roles}
}
