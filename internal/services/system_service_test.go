package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusDegraded}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", CommitSHA: "9f1c2e0", Environment: "prod", StartedAt: start},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.Equal(t, "1.4.0", report.Version)
	require.Equal(t, "9f1c2e0", report.CommitSHA)
	require.Equal(t, "prod", report.Environment)
	require.Equal(t, 5*time.Minute, report.Uptime)
	require.Equal(t, now, report.GeneratedAt)
	require.Equal(t, domain.HealthStatusDegraded, report.Status)
}

func TestSystemServiceHealthReportPropagatesErrors(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.EqualError(t, err, "boom")
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)
}

func TestSystemServiceReportsPolicyAndFeatures(t *testing.T) {
	p := policy.Default()
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"storage": {Status: domain.HealthStatusOK}},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Policy:           &p,
		Features:         map[string]bool{"payouts": false, "events": true},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Len(t, report.Checks, 4)
	require.Contains(t, report.Checks["policy"].Detail, "fingerprint="+p.Fingerprint())
	require.Contains(t, report.Checks["policy"].Detail, "clamp=[10,2500]")
	require.Equal(t, "disabled", report.Checks["feature:payouts"].Detail)
	require.Equal(t, "enabled", report.Checks["feature:events"].Detail)
}
