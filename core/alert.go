package core

import (
	"strings"
	"time"
)

// AlertSeverity represents the severity of an alert
type AlertSeverity string

const (
	// SeverityInfo indicates an informational finding
	SeverityInfo AlertSeverity = "INFO"
	// SeverityWarning indicates a condition that needs attention
	SeverityWarning AlertSeverity = "WARNING"
	// SeverityCritical indicates a condition that needs immediate attention
	SeverityCritical AlertSeverity = "CRITICAL"
)

// String returns the string representation
func (s AlertSeverity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s AlertSeverity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// AlertStatus represents the persisted status of an alert
type AlertStatus string

const (
	// AlertStatusActive indicates an alert whose condition still holds
	AlertStatusActive AlertStatus = "ACTIVE"
	// AlertStatusAcknowledged indicates an alert that has been reviewed
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	// AlertStatusResolved indicates an alert whose condition no longer holds
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	default:
		return false
	}
}

// Alert represents a persisted health alert for one rule against one tenant.
// Metadata is opaque to the storage layer; the engine owns its structure
// (see AlertMetadata and NormalizeMetadata).
type Alert struct {
	ID             string                 `json:"id"`
	Fingerprint    string                 `json:"fingerprint"`
	RuleCode       string                 `json:"rule_code"`
	Severity       AlertSeverity          `json:"severity"`
	Status         AlertStatus            `json:"status"`
	OrganizationID string                 `json:"organization_id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	ReasonCodes    []string               `json:"reason_codes,omitempty"`
	DetectedAt     time.Time              `json:"detected_at"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// IsOpen reports whether the alert condition is still standing
// (ACTIVE or ACKNOWLEDGED, not RESOLVED).
func (a *Alert) IsOpen() bool {
	return a.Status == AlertStatusActive || a.Status == AlertStatusAcknowledged
}

// LastTouched returns the more recent of UpdatedAt and DetectedAt.
// Used as the tiebreaker when deduplicating alerts that share a stable key.
func (a *Alert) LastTouched() time.Time {
	if a.UpdatedAt.After(a.DetectedAt) {
		return a.UpdatedAt
	}
	return a.DetectedAt
}

// BuildFingerprint derives the stable alert identity for a rule against a tenant.
func BuildFingerprint(organizationID, ruleCode string) string {
	return organizationID + ":" + ruleCode
}

// StableKey reduces a fingerprint to its first two colon-separated segments,
// tolerating trailing free-form suffixes appended by older writers.
func StableKey(fingerprint string) string {
	parts := strings.SplitN(fingerprint, ":", 3)
	if len(parts) < 2 {
		return fingerprint
	}
	return parts[0] + ":" + parts[1]
}
