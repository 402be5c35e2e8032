package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/services"
)

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	code, _ := body["error"].(string)
	return code
}

func TestNewRouterHealthOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Uptime:      5 * time.Second,
			GeneratedAt: now,
			Checks:      map[string]domain.SystemHealthCheck{"ledger": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/me/rewards/balance", nil))
	require.Equal(t, http.StatusNotFound, rr.Code, "unmounted groups are not exposed")
	assert.Equal(t, "route_not_found", decodeErrorCode(t, rr))
}

func TestNewRouterMountsRegisteredGroups(t *testing.T) {
	noContent := func(r chi.Router) {
		r.Get("/rewards/balance", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(WithMeRoutes(noContent))

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/me/rewards/balance", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/admin/rewards/redemptions", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodDelete, "/api/v1/me/rewards/balance", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNewRouterGroupMiddlewareIsScoped(t *testing.T) {
	tag := func(value string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Group", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	ok := func(r chi.Router) {
		r.Post("/rewards/events", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	}
	router := NewRouter(
		WithInternalRoutes(ok),
		WithInternalMiddlewares(tag("internal")),
		WithWebhookRoutes(ok),
		WithWebhookMiddlewares(tag("webhooks")),
		WithRequestTimeout(0),
	)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/internal/rewards/events", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "internal", rr.Header().Get("X-Group"))

	rr = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/rewards/events", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "webhooks", rr.Header().Get("X-Group"))
}
