package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/rewards/internal/platform/idempotency"
)

func TestMeRewardsBalanceAndLedger(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 1200)
	router := mountRoutes(NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/balance", nil, userIdentity("user-1")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var balance balancePayload
	decodeBody(t, rr, &balance)
	require.Equal(t, "user-1", balance.UserID)
	require.Equal(t, int64(1200), balance.ConfirmedCents)
	require.Equal(t, int64(1200), balance.SpendableCents)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/ledger?status=confirmed", nil, userIdentity("user-1")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var ledger ledgerListResponse
	decodeBody(t, rr, &ledger)
	require.Len(t, ledger.Items, 1)
	require.Equal(t, int64(1200), ledger.Items[0].AmountCents)
	require.Equal(t, "task", ledger.Items[0].SourceType)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/ledger?status=lost", nil, userIdentity("user-1")))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMeRewardsRequiresIdentity(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/balance", nil, nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthenticated", errorCode(t, rr))
}

func TestMeRewardsUnavailableWithoutServices(t *testing.T) {
	router := mountRoutes(NewMeRewardsHandlers(nil, nil, nil).Routes)

	for _, path := range []string{"/rewards/balance", "/rewards/ledger", "/rewards/redemptions", "/rewards/vouchers"} {
		rr := serve(router, rewardsRequest(t, http.MethodGet, path, nil, userIdentity("user-1")))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

func TestMeRewardsVoucherRedemption(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 1000)
	router := mountRoutes(NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", map[string]any{
		"type":         "voucher",
		"amount_cents": 500,
	}, userIdentity("user-1")))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp redemptionResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, "paid", resp.Redemption.Status)
	require.NotNil(t, resp.Voucher)
	require.NotEmpty(t, resp.Voucher.Code)
	require.Equal(t, resp.Voucher.Code, resp.Redemption.VoucherCode)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/balance", nil, userIdentity("user-1")))
	var balance balancePayload
	decodeBody(t, rr, &balance)
	require.Equal(t, int64(500), balance.AvailableCents)
	require.Equal(t, int64(500), balance.RedeemedCents)
}

func TestMeRewardsListVouchers(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 1000)
	router := mountRoutes(NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers", nil, userIdentity("user-1")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var empty voucherListResponse
	decodeBody(t, rr, &empty)
	require.NotNil(t, empty.Items)
	require.Empty(t, empty.Items)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", map[string]any{
		"type":         "voucher",
		"amount_cents": 400,
	}, userIdentity("user-1")))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var redeemed redemptionResponse
	decodeBody(t, rr, &redeemed)
	require.NotNil(t, redeemed.Voucher)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers", nil, userIdentity("user-1")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list voucherListResponse
	decodeBody(t, rr, &list)
	require.Len(t, list.Items, 1)
	require.Equal(t, redeemed.Voucher.Code, list.Items[0].Code)
	require.Equal(t, int64(400), list.Items[0].AmountCents)
	require.Equal(t, "active", list.Items[0].Status)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers", nil, userIdentity("user-2")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeBody(t, rr, &list)
	require.Empty(t, list.Items)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers", nil, nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMeRewardsCashRedemptionRejectsOverdraw(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 500)
	router := mountRoutes(NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", map[string]any{
		"type":   "cash",
		"amount": "6.00",
		"target": map[string]any{"accountId": "acct_1"},
	}, userIdentity("user-1")))
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	var body map[string]any
	decodeBody(t, rr, &body)
	require.Equal(t, "insufficient_balance", body["error"])
	require.EqualValues(t, 500, body["available_cents"])
	require.EqualValues(t, 600, body["requested_cents"])

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/redemptions", nil, userIdentity("user-1")))
	require.Equal(t, http.StatusOK, rr.Code)
	var list redemptionListResponse
	decodeBody(t, rr, &list)
	require.Empty(t, list.Items)
}

func TestMeRewardsRedemptionValidation(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 5000)
	router := mountRoutes(NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions).Routes)

	cases := []struct {
		name string
		body any
	}{
		{name: "missing amount", body: map[string]any{"type": "voucher"}},
		{name: "unknown type", body: map[string]any{"type": "crypto", "amount_cents": 500}},
		{name: "below minimum", body: map[string]any{"type": "voucher", "amount_cents": 10}},
		{name: "unknown field", body: `{"type":"voucher","amount_cents":500,"coupon":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", tc.body, userIdentity("user-1")))
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestMeRewardsRedemptionIdempotency(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 2000)
	handler := NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions,
		WithRedemptionIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())),
	)
	router := mountRoutes(handler.Routes)

	body := map[string]any{"type": "voucher", "amount_cents": 500}
	first := rewardsRequest(t, http.MethodPost, "/rewards/redemptions", body, userIdentity("user-1"))
	first.Header.Set("Idempotency-Key", "redeem-1")
	rr1 := serve(router, first)
	require.Equal(t, http.StatusCreated, rr1.Code, rr1.Body.String())

	second := rewardsRequest(t, http.MethodPost, "/rewards/redemptions", body, userIdentity("user-1"))
	second.Header.Set("Idempotency-Key", "redeem-1")
	rr2 := serve(router, second)
	require.Equal(t, http.StatusCreated, rr2.Code)
	require.JSONEq(t, rr1.Body.String(), rr2.Body.String())

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/balance", nil, userIdentity("user-1")))
	var balance balancePayload
	decodeBody(t, rr, &balance)
	require.Equal(t, int64(1500), balance.AvailableCents)
}

func TestMeRewardsRedemptionRateLimit(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 5000)
	limiter := NewLocalRateLimiter(1, time.Minute, func() time.Time { return rewardsTestNow })
	handler := NewMeRewardsHandlers(nil, fx.ledger, fx.redemptions,
		WithRedemptionRateLimit(RateLimit(limiter, "redemptions", time.Minute)),
	)
	router := mountRoutes(handler.Routes)

	body := map[string]any{"type": "voucher", "amount_cents": 500}
	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", body, userIdentity("user-1")))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", body, userIdentity("user-1")))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "60", rr.Header().Get("Retry-After"))

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions", body, userIdentity("user-2")))
	require.NotEqual(t, http.StatusTooManyRequests, rr.Code)
}
