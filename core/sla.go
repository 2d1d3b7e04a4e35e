package core

import (
	"strconv"
	"strings"
	"time"
)

// SLAPreset is a named remediation deadline budget
type SLAPreset string

const (
	SLAPreset15m SLAPreset = "15m"
	SLAPreset1h  SLAPreset = "1h"
	SLAPreset24h SLAPreset = "24h"
	SLAPreset72h SLAPreset = "72h"
)

// IsValid checks if the preset is one of the known budgets
func (p SLAPreset) IsValid() bool {
	switch p {
	case SLAPreset15m, SLAPreset1h, SLAPreset24h, SLAPreset72h:
		return true
	default:
		return false
	}
}

// SLAStatus is always derived from DueAt and the clock, never stored truth
type SLAStatus string

const (
	SLAOnTrack  SLAStatus = "ON_TRACK"
	SLAAtRisk   SLAStatus = "AT_RISK"
	SLABreached SLAStatus = "BREACHED"
)

// slaRank orders SLA statuses from none to worst for group aggregation
func slaRank(s SLAStatus) int {
	switch s {
	case SLABreached:
		return 3
	case SLAAtRisk:
		return 2
	case SLAOnTrack:
		return 1
	default:
		return 0
	}
}

// WorseSLAStatus returns the worse of two SLA statuses,
// ordered BREACHED > AT_RISK > ON_TRACK > none.
func WorseSLAStatus(a, b SLAStatus) SLAStatus {
	if slaRank(b) > slaRank(a) {
		return b
	}
	return a
}

// AlertSLA is the remediation deadline attached to an alert.
// Status is recomputed from DueAt on every read.
type AlertSLA struct {
	Preset SLAPreset `json:"preset"`
	DueAt  time.Time `json:"due_at"`
	Status SLAStatus `json:"status"`
}

// atRiskWindow is how close to the deadline an alert turns AT_RISK
const atRiskWindow = 2 * time.Hour

// SLAStatusAt derives the SLA status for a deadline at the given instant.
// Pure; call order and stored state are irrelevant.
func SLAStatusAt(dueAt, now time.Time) SLAStatus {
	if !dueAt.After(now) {
		return SLABreached
	}
	if dueAt.Sub(now) < atRiskWindow {
		return SLAAtRisk
	}
	return SLAOnTrack
}

// PresetDuration parses a preset of the form <number><m|h> into a duration.
// Unrecognized presets fall back to the 72h budget.
func PresetDuration(preset SLAPreset) time.Duration {
	s := string(preset)
	if len(s) < 2 {
		return 72 * time.Hour
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(strings.TrimSpace(s[:len(s)-1]))
	if err != nil || n <= 0 {
		return 72 * time.Hour
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	default:
		return 72 * time.Hour
	}
}

// CalculateDefaultSLA computes the deadline for an alert detected at the given
// time under a preset budget. The 72h preset is deliberately +3 calendar days
// rather than +72h so the deadline lands on the same wall-clock time across
// DST transitions.
func CalculateDefaultSLA(detectedAt time.Time, preset SLAPreset, now time.Time) AlertSLA {
	if !preset.IsValid() {
		preset = SLAPreset72h
	}

	var dueAt time.Time
	if preset == SLAPreset72h {
		dueAt = detectedAt.AddDate(0, 0, 3)
	} else {
		dueAt = detectedAt.Add(PresetDuration(preset))
	}

	return AlertSLA{
		Preset: preset,
		DueAt:  dueAt,
		Status: SLAStatusAt(dueAt, now),
	}
}
