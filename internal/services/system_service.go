package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/repositories"
)

// BuildInfo is the deployment metadata echoed by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
// Policy and Features are optional and only add informational checks to the report.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	Policy           *policy.Policy
	Features         map[string]bool
}

type systemService struct {
	probes     repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	policyNote string
	features   map[string]bool
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		probes:   deps.HealthRepository,
		clock:    func() time.Time { return clock().UTC() },
		build:    deps.Build,
		features: maps.Clone(deps.Features),
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.clock()
	}
	if p := deps.Policy; p != nil {
		svc.policyNote = fmt.Sprintf("fingerprint=%s tiers=%d buffer=%d clamp=[%d,%d]",
			p.Fingerprint(), len(p.Tiers), p.OperatingBufferCents, p.MinRewardCents, p.MaxRewardCents)
	}
	return svc, nil
}

// HealthReport runs the dependency probes and fills in build metadata plus the policy and
// feature checks. Informational checks never change the overall status.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	report.Status = firstNonBlank(report.Status, domain.HealthStatusOK)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck, 1+len(s.features))
	}

	if s.policyNote != "" {
		report.Checks["policy"] = domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: s.policyNote, CheckedAt: now}
	}
	for _, name := range slices.Sorted(maps.Keys(s.features)) {
		detail := "disabled"
		if s.features[name] {
			detail = "enabled"
		}
		report.Checks["feature:"+name] = domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: detail, CheckedAt: now}
	}
	return report, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
