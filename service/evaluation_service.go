package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"opspulse/core"
	"opspulse/metrics"
	"opspulse/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditActionEvaluationRun is the audit action written once per run
const AuditActionEvaluationRun = "evaluation.run"

// EvaluationSummary is the result of one full rule evaluation pass.
type EvaluationSummary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
	Organizations int       `json:"organizations"`
	Created       int64     `json:"created"`
	Updated       int64     `json:"updated"`
	Resolved      int64     `json:"resolved"`
	Unchanged     int64     `json:"unchanged"`
	Errors        int64     `json:"errors"`
}

// EvaluationService runs the fixed health rule set across every tenant. Each
// tenant is evaluated in isolation on a bounded worker pool; a tenant whose
// storage calls fail is counted and skipped, it never aborts the run.
type EvaluationService struct {
	alerts      AlertStore
	orgs        OrganizationStore
	audit       AuditStore
	notifier    Notifier
	logger      *zap.SugaredLogger
	concurrency int
	now         func() time.Time
}

// NewEvaluationService creates a new evaluation service
func NewEvaluationService(alerts AlertStore, orgs OrganizationStore, audit AuditStore, notifier Notifier, concurrency int, logger *zap.SugaredLogger) *EvaluationService {
	if alerts == nil || orgs == nil {
		panic("alert and organization stores are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &EvaluationService{
		alerts:      alerts,
		orgs:        orgs,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}
}

type evaluationCounters struct {
	created   atomic.Int64
	updated   atomic.Int64
	resolved  atomic.Int64
	unchanged atomic.Int64
	errors    atomic.Int64
}

// RunEvaluation evaluates every health rule against every tenant, creating,
// updating, and resolving alerts so open alerts mirror the current findings.
// Only elevated actors may trigger a run.
func (s *EvaluationService) RunEvaluation(ctx context.Context, actor Actor) (*EvaluationSummary, error) {
	if err := EnsureElevatedRole(actor); err != nil {
		return nil, err
	}

	start := s.now()
	organizations, err := s.orgs.GetOrganizations(ctx)
	if err != nil {
		metrics.EvaluationRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("loading organizations: %w", err)
	}

	var counters evaluationCounters
	pool := core.NewWorkerPool(ctx, s.concurrency, len(organizations)+1, "evaluation", s.logger)
	pool.Start()

	var wg sync.WaitGroup
	for i := range organizations {
		org := organizations[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			s.evaluateOrganization(ctx, &org, start, &counters)
		}
		if err := pool.Submit(task); err != nil {
			// Queue is sized for the full tenant list; treat overflow as a
			// per-tenant failure rather than aborting the run.
			s.logger.Errorw("Failed to queue tenant evaluation", "organization_id", org.ID, "error", err)
			counters.errors.Add(1)
			wg.Done()
		}
	}
	wg.Wait()
	pool.Stop()

	summary := &EvaluationSummary{
		RunID:         uuid.NewString(),
		StartedAt:     start,
		DurationMs:    s.now().Sub(start).Milliseconds(),
		Organizations: len(organizations),
		Created:       counters.created.Load(),
		Updated:       counters.updated.Load(),
		Resolved:      counters.resolved.Load(),
		Unchanged:     counters.unchanged.Load(),
		Errors:        counters.errors.Load(),
	}

	s.recordRunAudit(ctx, actor, summary)

	outcome := "completed"
	if summary.Errors > 0 {
		outcome = "partial"
	}
	metrics.EvaluationRuns.WithLabelValues(outcome).Inc()
	metrics.EvaluationDuration.Observe(time.Duration(summary.DurationMs * int64(time.Millisecond)).Seconds())
	s.logger.Infow("Evaluation run finished",
		"run_id", summary.RunID,
		"organizations", summary.Organizations,
		"created", summary.Created,
		"updated", summary.Updated,
		"resolved", summary.Resolved,
		"errors", summary.Errors,
		"duration_ms", summary.DurationMs)

	return summary, nil
}

// evaluateOrganization reconciles one tenant's open alerts against the rule
// set. One open alert per fingerprint at a time; resolved rows are left alone.
func (s *EvaluationService) evaluateOrganization(ctx context.Context, org *core.Organization, now time.Time, counters *evaluationCounters) {
	open, err := s.alerts.GetOpenAlertsByOrganization(ctx, org.ID)
	if err != nil {
		s.logger.Errorw("Failed to load open alerts for tenant", "organization_id", org.ID, "error", err)
		counters.errors.Add(1)
		return
	}
	byFingerprint := make(map[string]*core.Alert, len(open))
	for i := range open {
		byFingerprint[open[i].Fingerprint] = &open[i]
	}

	for _, rule := range core.HealthRules() {
		fingerprint := core.BuildFingerprint(org.ID, rule.Code)
		fired, finding := rule.Evaluate(org, now)
		existing := byFingerprint[fingerprint]

		switch {
		case fired && existing == nil:
			s.createAlert(ctx, org, rule.Code, fingerprint, finding, now, counters)
		case fired && existing != nil:
			s.refreshAlert(ctx, existing, finding, now, counters)
		case !fired && existing != nil:
			if err := s.alerts.ResolveAlert(ctx, existing.ID, now); err != nil {
				s.logger.Errorw("Failed to resolve alert", "alert_id", existing.ID, "error", err)
				counters.errors.Add(1)
				continue
			}
			metrics.AlertTransitions.WithLabelValues("resolved", string(existing.Severity)).Inc()
			counters.resolved.Add(1)
		}
	}
}

func (s *EvaluationService) createAlert(ctx context.Context, org *core.Organization, ruleCode, fingerprint string, finding core.RuleFinding, now time.Time, counters *evaluationCounters) {
	alert := &core.Alert{
		ID:             uuid.NewString(),
		Fingerprint:    fingerprint,
		RuleCode:       ruleCode,
		Severity:       finding.Severity,
		Status:         core.AlertStatusActive,
		OrganizationID: org.ID,
		Title:          finding.Title,
		Description:    finding.Description,
		ReasonCodes:    finding.ReasonCodes,
		DetectedAt:     now,
		UpdatedAt:      now,
	}
	if err := s.alerts.InsertAlert(ctx, alert); err != nil {
		if errors.Is(err, storage.ErrDuplicateFingerprint) {
			// Another run created it first; the next pass will refresh it.
			counters.unchanged.Add(1)
			return
		}
		s.logger.Errorw("Failed to insert alert", "fingerprint", fingerprint, "error", err)
		counters.errors.Add(1)
		return
	}
	metrics.AlertTransitions.WithLabelValues("created", string(alert.Severity)).Inc()
	counters.created.Add(1)

	if s.notifier != nil && finding.Severity != core.SeverityInfo {
		if err := s.notifier.NotifyAlert(ctx, alert); err != nil {
			s.logger.Warnw("Failed to notify for new alert", "fingerprint", fingerprint, "error", err)
		}
	}
}

func (s *EvaluationService) refreshAlert(ctx context.Context, existing *core.Alert, finding core.RuleFinding, now time.Time, counters *evaluationCounters) {
	if existing.Severity == finding.Severity &&
		existing.Description == finding.Description &&
		reasonCodesEqual(existing.ReasonCodes, finding.ReasonCodes) {
		counters.unchanged.Add(1)
		return
	}
	if err := s.alerts.UpdateAlertEvaluation(ctx, existing.ID, finding.Severity, finding.Description, finding.ReasonCodes, now); err != nil {
		s.logger.Errorw("Failed to update alert evaluation", "alert_id", existing.ID, "error", err)
		counters.errors.Add(1)
		return
	}
	metrics.AlertTransitions.WithLabelValues("updated", string(finding.Severity)).Inc()
	counters.updated.Add(1)
}

func (s *EvaluationService) recordRunAudit(ctx context.Context, actor Actor, summary *EvaluationSummary) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, actor.ID, AuditActionEvaluationRun, map[string]interface{}{
		"run_id":        summary.RunID,
		"organizations": summary.Organizations,
		"created":       summary.Created,
		"updated":       summary.Updated,
		"resolved":      summary.Resolved,
		"unchanged":     summary.Unchanged,
		"errors":        summary.Errors,
		"duration_ms":   summary.DurationMs,
	}, "")
	if err != nil {
		s.logger.Warnw("Failed to record evaluation audit entry", "error", err)
	}
}

func reasonCodesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
