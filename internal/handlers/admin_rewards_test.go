package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/services"
)

func requestCash(t *testing.T, fx *rewardsFixture, userID string, amount int64) services.Redemption {
	t.Helper()
	outcome, err := fx.redemptions.Request(context.Background(), services.RedemptionCommand{
		UserID:      userID,
		Type:        domain.RedemptionTypeCash,
		AmountCents: amount,
		Target:      map[string]any{"accountId": "acct_1"},
	})
	require.NoError(t, err)
	return outcome.Redemption
}

func TestAdminRewardsReviewLifecycle(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 10000)
	redemption := requestCash(t, fx, "user-1", 6000)
	router := mountRoutes(NewAdminRewardsHandlers(nil, fx.redemptions, fx.rates, fx.processor).Routes)
	staff := userIdentity("staff-1", auth.RoleStaff)

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/redemptions", nil, staff))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var queue redemptionListResponse
	decodeBody(t, rr, &queue)
	require.Len(t, queue.Items, 1)
	require.Equal(t, redemption.ID, queue.Items[0].ID)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions/"+redemption.ID+":mark-paid", map[string]any{"provider_ref": "tr_1"}, staff))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "invalid_state_transition", errorCode(t, rr))

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions/"+redemption.ID+":approve", nil, staff))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var approved redemptionPayload
	decodeBody(t, rr, &approved)
	require.Equal(t, "approved", approved.Status)
	require.Equal(t, "staff-1", approved.ReviewedBy)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions/"+redemption.ID+":mark-paid", map[string]any{
		"provider":     "stripe",
		"provider_ref": "tr_1",
	}, staff))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var paid redemptionPayload
	decodeBody(t, rr, &paid)
	require.Equal(t, "paid", paid.Status)
	require.Equal(t, "tr_1", paid.ProviderRef)
	require.NotEmpty(t, paid.ProcessedAt)

	balance, err := fx.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(4000), balance.AvailableCents)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/redemptions/"+redemption.ID, nil, staff))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/redemptions/rdm_missing", nil, staff))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "redemption_not_found", errorCode(t, rr))
}

func TestAdminRewardsRejectRequiresReason(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 1000)
	redemption := requestCash(t, fx, "user-1", 800)
	router := mountRoutes(NewAdminRewardsHandlers(nil, fx.redemptions, fx.rates, fx.processor).Routes)
	staff := userIdentity("staff-1", auth.RoleStaff)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions/"+redemption.ID+":reject", map[string]any{"reason": "  "}, staff))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/redemptions/"+redemption.ID+":reject", map[string]any{"reason": "account closed"}, staff))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rejected redemptionPayload
	decodeBody(t, rr, &rejected)
	require.Equal(t, "rejected", rejected.Status)
	require.Equal(t, "account closed", rejected.RejectionReason)

	balance, err := fx.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance.SpendableCents)
}

func TestAdminRewardsRateChangesNeedAdmin(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewAdminRewardsHandlers(nil, fx.redemptions, fx.rates, fx.processor).Routes)
	body := map[string]any{"kind": "commission", "platform": "amazon", "category": "Home & Kitchen", "rate": "4.5"}

	rr := serve(router, rewardsRequest(t, http.MethodPut, "/rewards/rates", body, userIdentity("staff-1", auth.RoleStaff)))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "insufficient_role", errorCode(t, rr))

	admin := userIdentity("admin-1", auth.RoleAdmin)
	rr = serve(router, rewardsRequest(t, http.MethodPut, "/rewards/rates", body, admin))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rule rateRulePayload
	decodeBody(t, rr, &rule)
	require.Equal(t, "4.5", rule.Rate)
	require.Equal(t, "custom", rule.Source)
	require.Equal(t, "admin-1", rule.UpdatedBy)
	require.True(t, rule.Active)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/rates?kind=commission&platform=amazon", nil, userIdentity("staff-1", auth.RoleStaff)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var listing rateListingPayload
	decodeBody(t, rr, &listing)
	require.Len(t, listing.Rules, 1)
	require.Equal(t, rule.CategoryKey, listing.Rules[0].CategoryKey)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/rates:deactivate", map[string]any{
		"kind": "commission", "platform": "amazon", "category": "Home & Kitchen",
	}, admin))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = serve(router, rewardsRequest(t, http.MethodPut, "/rewards/rates", map[string]any{
		"kind": "commission", "platform": "amazon", "category": "Toys", "rate": "250",
	}, admin))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/rates?includeRetired=maybe", nil, admin))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRewardsProductOverrides(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewAdminRewardsHandlers(nil, fx.redemptions, fx.rates, fx.processor).Routes)
	admin := userIdentity("admin-1", auth.RoleAdmin)

	rr := serve(router, rewardsRequest(t, http.MethodPut, "/rewards/overrides/sku-1", map[string]any{"rate": "80", "reason": "clearance"}, admin))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var override overridePayload
	decodeBody(t, rr, &override)
	require.Equal(t, "sku-1", override.ProductID)
	require.Equal(t, "80", override.Rate)

	rr = serve(router, rewardsRequest(t, http.MethodDelete, "/rewards/overrides/sku-1", nil, admin))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(router, rewardsRequest(t, http.MethodDelete, "/rewards/overrides/sku-1", nil, admin))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRewardsQuote(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewAdminRewardsHandlers(nil, fx.redemptions, fx.rates, fx.processor).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/quote",
		`{"userId":"user-1","productType":"dropship","payload":{"orderId":"order-1"},"calc":{"marginCents":500}}`,
		userIdentity("staff-1", auth.RoleStaff)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var calc calculationPayload
	decodeBody(t, rr, &calc)
	require.Equal(t, int64(400), calc.BufferedMarginCents)
	require.Equal(t, int64(60), calc.RewardCents)
	require.True(t, calc.IsInstantReward)

	balance, err := fx.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Zero(t, balance.ConfirmedCents)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/quote", `{"userId":`, userIdentity("staff-1", auth.RoleStaff)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRewardsUnavailableWithoutServices(t *testing.T) {
	router := mountRoutes(NewAdminRewardsHandlers(nil, nil, nil, nil).Routes)
	admin := userIdentity("admin-1", auth.RoleAdmin)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/rewards/redemptions", nil},
		{http.MethodPost, "/rewards/redemptions/rdm_1:approve", nil},
		{http.MethodPost, "/rewards/redemptions/rdm_1:reject", map[string]any{"reason": "x"}},
		{http.MethodPost, "/rewards/redemptions/rdm_1:mark-paid", nil},
		{http.MethodPost, "/rewards/quote", "{}"},
		{http.MethodGet, "/rewards/rates", nil},
		{http.MethodPut, "/rewards/rates", map[string]any{}},
		{http.MethodDelete, "/rewards/overrides/sku-1", nil},
	}
	for _, tc := range cases {
		rr := serve(router, rewardsRequest(t, tc.method, tc.path, tc.body, admin))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code, tc.method+" "+tc.path)
	}
}
