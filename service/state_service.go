package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"opspulse/core"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// lockStripes bounds the per-fingerprint mutex table
const lockStripes = 64

// AlertView is an alert with its normalized metadata, derived state, and
// remediation procedure, as returned by every mutation entry point.
type AlertView struct {
	Alert    core.Alert         `json:"alert"`
	Metadata core.AlertMetadata `json:"metadata"`
	State    core.AlertState    `json:"state"`
	Playbook core.Playbook      `json:"playbook"`
}

// MetadataPatch is the operator-facing mutation input. Only dueAt and preset
// are patchable SLA inputs; the derived SLA status is never written directly.
type MetadataPatch struct {
	Status       *core.MetadataStatus `json:"status,omitempty" validate:"omitempty,oneof=OPEN ACKNOWLEDGED SNOOZED RESOLVED"`
	Owner        *core.AlertOwner     `json:"owner,omitempty"`
	SLAPreset    *core.SLAPreset      `json:"sla_preset,omitempty" validate:"omitempty,oneof=15m 1h 24h 72h"`
	SLADueAt     *time.Time           `json:"sla_due_at,omitempty"`
	SnoozedUntil *time.Time           `json:"snoozed_until,omitempty"`
	TraceID      string               `json:"trace_id,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *MetadataPatch) IsEmpty() bool {
	return p.Status == nil && p.Owner == nil && p.SLAPreset == nil &&
		p.SLADueAt == nil && p.SnoozedUntil == nil
}

// AlertStateService owns the operator-facing alert lifecycle: acknowledge,
// metadata patches, playbook step toggles, and reopen. Writes go through a
// per-fingerprint mutex plus an optimistic updated_at check, so two browser
// tabs racing on the same alert cannot silently drop each other's change.
type AlertStateService struct {
	alerts   AlertStore
	audit    AuditStore
	validate *validator.Validate
	logger   *zap.SugaredLogger
	locks    [lockStripes]sync.Mutex
	now      func() time.Time
}

// NewAlertStateService creates a new alert state service
func NewAlertStateService(alerts AlertStore, audit AuditStore, logger *zap.SugaredLogger) *AlertStateService {
	if alerts == nil {
		panic("alerts store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &AlertStateService{
		alerts:   alerts,
		audit:    audit,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AlertStateService) lockFor(fingerprint string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	return &s.locks[h.Sum32()%lockStripes]
}

// GetAlert returns the alert and its normalized metadata for a fingerprint.
func (s *AlertStateService) GetAlert(ctx context.Context, fingerprint string) (*AlertView, error) {
	alert, err := s.alerts.GetAlertByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return s.view(alert, s.now()), nil
}

// Acknowledge marks an open alert as acknowledged.
func (s *AlertStateService) Acknowledge(ctx context.Context, fingerprint, actorID string) (*AlertView, error) {
	mu := s.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	alert, err := s.alerts.GetAlertByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if alert.Status == core.AlertStatusResolved {
		return nil, fmt.Errorf("%w: alert already resolved", ErrNoop)
	}

	md := core.NormalizeMetadata(alert, now)
	if md.Status == core.MetadataAcknowledged {
		return nil, fmt.Errorf("%w: alert already acknowledged", ErrNoop)
	}

	md.History = append(md.History, core.HistoryEntry{
		Event:      core.HistoryAcknowledged,
		At:         now,
		PrevStatus: md.Status,
	})
	md.Status = core.MetadataAcknowledged

	if err := s.persist(ctx, alert, md, core.AlertStatusAcknowledged, now); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "alert.acknowledge", alert)
	return s.refreshedView(ctx, fingerprint, now)
}

// UpdateMetadata merges a validated patch over the normalized metadata and
// re-derives the SLA status before persisting.
func (s *AlertStateService) UpdateMetadata(ctx context.Context, fingerprint string, patch *MetadataPatch) (*AlertView, error) {
	if patch == nil || patch.IsEmpty() {
		return nil, fmt.Errorf("%w: empty patch", ErrNoop)
	}
	if err := s.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	mu := s.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	alert, err := s.alerts.GetAlertByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	md := core.NormalizeMetadata(alert, now)
	md.History = append(md.History, core.HistoryEntry{
		Event:      core.HistoryPatched,
		At:         now,
		PrevStatus: md.Status,
		TraceID:    patch.TraceID,
	})

	if patch.Status != nil {
		md.Status = *patch.Status
	}
	if patch.Owner != nil {
		owner := *patch.Owner
		if owner.AssignedAt == nil {
			owner.AssignedAt = &now
		}
		md.Owner = &owner
	}
	if patch.SnoozedUntil != nil {
		md.SnoozedUntil = patch.SnoozedUntil
		if md.SnoozedUntil.After(now) && md.Status != core.MetadataResolved {
			md.Status = core.MetadataSnoozed
		}
	}
	if patch.SLAPreset != nil || patch.SLADueAt != nil {
		sla := md.SLA
		if sla == nil {
			defaulted := core.CalculateDefaultSLA(alert.DetectedAt, core.PlaybookByRule(alert.RuleCode).DefaultSLAPreset, now)
			sla = &defaulted
		}
		if patch.SLAPreset != nil {
			sla.Preset = *patch.SLAPreset
			sla.DueAt = core.CalculateDefaultSLA(alert.DetectedAt, *patch.SLAPreset, now).DueAt
		}
		if patch.SLADueAt != nil {
			sla.DueAt = *patch.SLADueAt
		}
		md.SLA = sla
	}
	if patch.TraceID != "" {
		md.LastTraceID = patch.TraceID
	}

	// Derived SLA status is recomputed, never taken from the patch.
	if md.SLA != nil && md.Status != core.MetadataResolved {
		md.SLA.Status = core.SLAStatusAt(md.SLA.DueAt, now)
	}

	if err := s.persist(ctx, alert, md, persistedStatusFor(md, alert.Status), now); err != nil {
		return nil, err
	}
	return s.refreshedView(ctx, fingerprint, now)
}

// Reopen resets an alert for another remediation pass: status back to OPEN,
// fresh SLA measured from now, cleared owner and playbook progress, incremented
// reopen counter, and a history snapshot of what was discarded. Deliberately not
// idempotent; every call is a discrete operator action.
func (s *AlertStateService) Reopen(ctx context.Context, fingerprint, traceID string) (*AlertView, error) {
	mu := s.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	alert, err := s.alerts.GetAlertByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	md := core.NormalizeMetadata(alert, now)
	md.History = append(md.History, core.HistoryEntry{
		Event:      core.HistoryReopened,
		At:         now,
		PrevStatus: md.Status,
		PrevSteps:  md.PlaybookSteps,
		TraceID:    traceID,
	})

	playbook := core.PlaybookByRule(alert.RuleCode)
	sla := core.CalculateDefaultSLA(now, playbook.DefaultSLAPreset, now)

	md.Status = core.MetadataOpen
	md.ReopenCount++
	md.Owner = nil
	md.SLA = &sla
	md.PlaybookSteps = []core.PlaybookStepState{}
	md.SnoozedUntil = nil
	if traceID != "" {
		md.LastTraceID = traceID
	}

	if err := s.persist(ctx, alert, md, core.AlertStatusActive, now); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "", "alert.reopen", alert)
	return s.refreshedView(ctx, fingerprint, now)
}

// ToggleStep checks or unchecks one playbook step for an alert.
func (s *AlertStateService) ToggleStep(ctx context.Context, fingerprint, stepID string, checked bool, actorID string) (*AlertView, error) {
	mu := s.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	alert, err := s.alerts.GetAlertByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	playbook := core.PlaybookByRule(alert.RuleCode)
	if !playbook.HasStep(stepID) {
		return nil, fmt.Errorf("%w: unknown playbook step %q", ErrValidation, stepID)
	}

	md := core.NormalizeMetadata(alert, now)

	found := false
	for i := range md.PlaybookSteps {
		if md.PlaybookSteps[i].StepID == stepID {
			md.PlaybookSteps[i].Checked = checked
			if checked {
				md.PlaybookSteps[i].CheckedBy = actorID
				md.PlaybookSteps[i].CheckedAt = &now
			} else {
				md.PlaybookSteps[i].CheckedBy = ""
				md.PlaybookSteps[i].CheckedAt = nil
			}
			found = true
			break
		}
	}
	if !found {
		if len(md.PlaybookSteps) >= playbook.StepCount() {
			return nil, fmt.Errorf("%w: step list already complete", ErrValidation)
		}
		step := core.PlaybookStepState{StepID: stepID, Checked: checked}
		if checked {
			step.CheckedBy = actorID
			step.CheckedAt = &now
		}
		md.PlaybookSteps = append(md.PlaybookSteps, step)
	}

	if err := s.persist(ctx, alert, md, alert.Status, now); err != nil {
		return nil, err
	}
	return s.refreshedView(ctx, fingerprint, now)
}

// persist writes the mutated metadata with the optimistic updated_at check.
func (s *AlertStateService) persist(ctx context.Context, alert *core.Alert, md core.AlertMetadata, status core.AlertStatus, now time.Time) error {
	return s.alerts.UpdateAlertState(ctx, alert.ID, status, md.ToDocument(), alert.UpdatedAt, now)
}

func (s *AlertStateService) refreshedView(ctx context.Context, fingerprint string, now time.Time) (*AlertView, error) {
	alert, err := s.alerts.GetAlertByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return s.view(alert, now), nil
}

func (s *AlertStateService) view(alert *core.Alert, now time.Time) *AlertView {
	md := core.NormalizeMetadata(alert, now)
	return &AlertView{
		Alert:    *alert,
		Metadata: md,
		State:    core.DeriveAlertState(alert, md, now),
		Playbook: core.PlaybookByRule(alert.RuleCode),
	}
}

func (s *AlertStateService) recordAudit(ctx context.Context, actorID, action string, alert *core.Alert) {
	if s.audit == nil {
		return
	}
	if actorID == "" {
		actorID = "operator"
	}
	err := s.audit.Record(ctx, actorID, action, map[string]interface{}{
		"fingerprint": alert.Fingerprint,
		"rule_code":   alert.RuleCode,
	}, alert.OrganizationID)
	if err != nil {
		s.logger.Warnw("Failed to record audit entry", "action", action, "error", err)
	}
}

// persistedStatusFor maps the fine metadata status back onto the coarse
// persisted status column.
func persistedStatusFor(md core.AlertMetadata, current core.AlertStatus) core.AlertStatus {
	switch md.Status {
	case core.MetadataAcknowledged:
		return core.AlertStatusAcknowledged
	case core.MetadataResolved:
		return core.AlertStatusResolved
	case core.MetadataOpen, core.MetadataSnoozed:
		return core.AlertStatusActive
	default:
		return current
	}
}
