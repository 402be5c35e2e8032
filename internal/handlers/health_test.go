package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthzEchoesBuildInfo(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2.3.0", CommitSHA: "f00d", Environment: "staging", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body healthzResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, domain.HealthStatusOK, body.Status)
	assert.Equal(t, "2.3.0", body.Version)
	assert.Equal(t, "f00d", body.CommitSHA)
	assert.Equal(t, "staging", body.Environment)
	assert.Equal(t, "1m30s", body.Uptime)
}

func TestReadyz(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC)

	cases := []struct {
		name        string
		system      services.SystemService
		wantCode    int
		wantStatus  string
		wantDetails []string
		wantChecks  map[string]string
	}{
		{
			name:       "no system service",
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "storage and redis healthy",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"storage": {Status: domain.HealthStatusOK, Latency: 4 * time.Millisecond, CheckedAt: now},
					"redis":   {Status: domain.HealthStatusOK, Latency: time.Millisecond, CheckedAt: now},
				},
			}},
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"storage": domain.HealthStatusOK, "redis": domain.HealthStatusOK},
		},
		{
			name: "redis degraded",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"storage": {Status: domain.HealthStatusOK},
					"redis":   {Status: domain.HealthStatusDegraded, Error: "dial tcp: i/o timeout"},
				},
			}},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"redis: dial tcp: i/o timeout"},
			wantChecks:  map[string]string{"storage": domain.HealthStatusOK, "redis": domain.HealthStatusDegraded},
		},
		{
			name:        "report failure",
			system:      &stubSystemService{err: errors.New("ledger store unreachable")},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"ledger store unreachable"},
			wantChecks:  map[string]string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tc.system != nil {
				opts = append(opts, WithHealthSystemService(tc.system))
			}
			h := NewHealthHandlers(opts...)

			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			require.Equal(t, tc.wantCode, rr.Code)

			var body readyzResponse
			decodeBody(t, rr, &body)
			assert.Equal(t, tc.wantStatus, body.Status)
			assert.Equal(t, tc.wantDetails, body.Details)
			got := make(map[string]string, len(body.Checks))
			for name, check := range body.Checks {
				got[name] = check.Status
			}
			assert.Equal(t, tc.wantChecks, got)
		})
	}
}
