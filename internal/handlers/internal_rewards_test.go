package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/rewards/internal/services"
)

const dropshipEventBody = `{"eventKey":"evt-1","userId":"user-1","productType":"dropship","payload":{"orderId":"order-1"},"calc":{"marginCents":500}}`

type stubPayoutService struct {
	summary services.PayoutSummary
	err     error
	limit   int
}

func (s *stubPayoutService) Dispatch(_ context.Context, limit int) (services.PayoutSummary, error) {
	s.limit = limit
	return s.summary, s.err
}

func TestInternalRewardsProcessEvent(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewInternalRewardsHandlers(fx.processor, fx.ledger, nil).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/events", dropshipEventBody, nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var outcome eventOutcomePayload
	decodeBody(t, rr, &outcome)
	require.False(t, outcome.Duplicate)
	require.NotNil(t, outcome.Entry)
	require.Equal(t, int64(60), outcome.Entry.AmountCents)
	require.Equal(t, "confirmed", outcome.Entry.Status)
	require.Equal(t, "order-1", outcome.Entry.SourceID)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/events", dropshipEventBody, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeBody(t, rr, &outcome)
	require.True(t, outcome.Duplicate)

	balance, err := fx.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(60), balance.ConfirmedCents)
}

func TestInternalRewardsProcessEventRejectsInvalid(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewInternalRewardsHandlers(fx.processor, fx.ledger, nil).Routes)

	for name, body := range map[string]string{
		"malformed":        `{"userId":`,
		"missing user":     `{"productType":"dropship","payload":{"orderId":"o-1"},"calc":{"marginCents":500}}`,
		"unknown product":  `{"userId":"u","productType":"timeshare","payload":{"orderId":"o-1"},"calc":{"marginCents":500}}`,
		"no margin inputs": `{"userId":"u","productType":"dropship","payload":{"orderId":"o-1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/events", body, nil))
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			require.Equal(t, "invalid_request", errorCode(t, rr))
		})
	}
}

func TestInternalRewardsSweep(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewInternalRewardsHandlers(fx.processor, fx.ledger, nil).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/sweep?limit=10", nil, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp sweepResponse
	decodeBody(t, rr, &resp)
	require.Zero(t, resp.Confirmed)

	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/sweep?limit=-1", nil, nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInternalRewardsDispatchPayouts(t *testing.T) {
	payouts := &stubPayoutService{summary: services.PayoutSummary{Attempted: 3, Paid: 2, Failed: 1}}
	router := mountRoutes(NewInternalRewardsHandlers(nil, nil, payouts).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodPost, "/rewards/payouts:dispatch?limit=25", nil, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp payoutDispatchResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, payoutDispatchResponse{Attempted: 3, Paid: 2, Failed: 1}, resp)
	require.Equal(t, 25, payouts.limit)

	payouts.err = errors.New("boom")
	rr = serve(router, rewardsRequest(t, http.MethodPost, "/rewards/payouts:dispatch", nil, nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Zero(t, payouts.limit)
}

func TestInternalRewardsUnavailable(t *testing.T) {
	router := mountRoutes(NewInternalRewardsHandlers(nil, nil, nil).Routes)
	for _, path := range []string{"/rewards/events", "/rewards/sweep", "/rewards/payouts:dispatch"} {
		rr := serve(router, rewardsRequest(t, http.MethodPost, path, nil, nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

func TestInternalRewardsLookupVoucher(t *testing.T) {
	fx := newRewardsFixture(t)
	fx.fund(t, "user-1", 1000)
	outcome, err := fx.redemptions.Request(context.Background(), services.RedemptionCommand{
		UserID: "user-1", Type: "voucher", AmountCents: 500,
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Voucher)

	router := mountRoutes(NewInternalRewardsHandlers(fx.processor, fx.ledger, nil, WithVoucherLookup(fx.redemptions)).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers/"+strings.ToLower(outcome.Voucher.Code), nil, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp voucherLookupResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, outcome.Voucher.Code, resp.Voucher.Code)
	require.Equal(t, int64(500), resp.Voucher.AmountCents)
	require.Equal(t, "user-1", resp.UserID)
	require.True(t, resp.Usable)

	rr = serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers/ZZZZ-ZZZZ-ZZZZ-ZZZZ", nil, nil))
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
	require.Equal(t, "voucher_not_found", errorCode(t, rr))
}

func TestInternalRewardsVoucherLookupUnavailable(t *testing.T) {
	fx := newRewardsFixture(t)
	router := mountRoutes(NewInternalRewardsHandlers(fx.processor, fx.ledger, nil).Routes)

	rr := serve(router, rewardsRequest(t, http.MethodGet, "/rewards/vouchers/ABCD-EFGH-JKLM-NPQR", nil, nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "rewards_unavailable", errorCode(t, rr))
}
