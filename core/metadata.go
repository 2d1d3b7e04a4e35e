package core

import (
	"encoding/json"
	"time"
)

// MetadataVersion is the current schema version of the engine-owned metadata
// document. Any other version is upcast through the legacy path before use.
const MetadataVersion = 2

// MetadataStatus is the finer-grained lifecycle state kept in metadata,
// alongside the coarse persisted AlertStatus.
type MetadataStatus string

const (
	MetadataOpen         MetadataStatus = "OPEN"
	MetadataAcknowledged MetadataStatus = "ACKNOWLEDGED"
	MetadataSnoozed      MetadataStatus = "SNOOZED"
	MetadataResolved     MetadataStatus = "RESOLVED"
)

// IsValid checks if the metadata status is valid
func (s MetadataStatus) IsValid() bool {
	switch s {
	case MetadataOpen, MetadataAcknowledged, MetadataSnoozed, MetadataResolved:
		return true
	default:
		return false
	}
}

// OwnerType distinguishes user-owned from role-owned alerts
type OwnerType string

const (
	OwnerTypeUser OwnerType = "user"
	OwnerTypeRole OwnerType = "role"
)

// AlertOwner records who an alert is assigned to
type AlertOwner struct {
	Type       OwnerType  `json:"owner_type"`
	UserID     string     `json:"owner_id,omitempty"`
	Role       string     `json:"owner_role,omitempty"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

// PlaybookStepState tracks execution of one playbook step on one alert
type PlaybookStepState struct {
	StepID    string     `json:"step_id"`
	Checked   bool       `json:"checked"`
	CheckedBy string     `json:"checked_by,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// HistoryEvent names an operator action recorded in the metadata history
type HistoryEvent string

const (
	HistoryReopened     HistoryEvent = "REOPENED"
	HistoryAcknowledged HistoryEvent = "ACKNOWLEDGED"
	HistoryPatched      HistoryEvent = "PATCHED"
)

// HistoryEntry is an append-only snapshot of an operator action
type HistoryEntry struct {
	Event      HistoryEvent        `json:"event"`
	At         time.Time           `json:"at"`
	PrevStatus MetadataStatus      `json:"prev_status,omitempty"`
	PrevSteps  []PlaybookStepState `json:"prev_steps,omitempty"`
	TraceID    string              `json:"trace_id,omitempty"`
}

// AlertMetadata is the versioned, engine-owned document persisted in the
// opaque metadata column of an alert row.
type AlertMetadata struct {
	Version       int                 `json:"version"`
	Status        MetadataStatus      `json:"status"`
	Owner         *AlertOwner         `json:"owner,omitempty"`
	SLA           *AlertSLA           `json:"sla,omitempty"`
	PlaybookSteps []PlaybookStepState `json:"playbook_steps"`
	SnoozedUntil  *time.Time          `json:"snoozed_until,omitempty"`
	ReopenCount   int                 `json:"reopen_count"`
	LastTraceID   string              `json:"last_trace_id,omitempty"`
	History       []HistoryEntry      `json:"history,omitempty"`
}

// ToDocument converts the metadata back into the opaque form stored on the alert
func (m AlertMetadata) ToDocument() map[string]interface{} {
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]interface{}{"version": m.Version}
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]interface{}{"version": m.Version}
	}
	return doc
}

// NormalizeMetadata maps whatever shape is stored on the alert into the
// current metadata schema. Current-version documents pass through with only
// the SLA status re-derived; everything else goes through the legacy upcast.
// The rest of the codebase must never branch on ad-hoc field presence.
func NormalizeMetadata(alert *Alert, now time.Time) AlertMetadata {
	doc := alert.Metadata

	if version, ok := numberField(doc, "version"); ok && int(version) == MetadataVersion {
		if md, ok := decodeCurrent(doc); ok {
			rederiveSLA(&md, now)
			return md
		}
	}

	return upcastLegacy(alert, doc, now)
}

// decodeCurrent round-trips the document through JSON into the typed schema
func decodeCurrent(doc map[string]interface{}) (AlertMetadata, bool) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return AlertMetadata{}, false
	}
	var md AlertMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return AlertMetadata{}, false
	}
	if md.PlaybookSteps == nil {
		md.PlaybookSteps = []PlaybookStepState{}
	}
	return md, true
}

// upcastLegacy builds a current-version document from any legacy shape.
// Missing fields get defaults; recognized legacy synonyms are preserved.
func upcastLegacy(alert *Alert, doc map[string]interface{}, now time.Time) AlertMetadata {
	playbook := PlaybookByRule(alert.RuleCode)

	md := AlertMetadata{
		Version:       MetadataVersion,
		Status:        legacyStatus(alert, doc),
		Owner:         legacyOwner(doc),
		PlaybookSteps: legacySteps(doc, playbook),
		ReopenCount:   legacyReopenCount(doc),
		LastTraceID:   stringField(doc, "last_trace_id", "lastTraceId", "trace_id"),
	}

	if t, ok := timeField(doc, "snoozed_until", "snoozedUntil"); ok {
		md.SnoozedUntil = &t
	}

	if sla, ok := legacySLA(doc, now); ok {
		md.SLA = &sla
	} else {
		sla := CalculateDefaultSLA(alert.DetectedAt, playbook.DefaultSLAPreset, now)
		md.SLA = &sla
	}

	md.History = legacyHistory(doc)

	return md
}

// rederiveSLA recomputes the derived SLA status; stored status is only
// trusted for resolved alerts, where the clock no longer applies.
func rederiveSLA(md *AlertMetadata, now time.Time) {
	if md.SLA == nil || md.Status == MetadataResolved {
		return
	}
	md.SLA.Status = SLAStatusAt(md.SLA.DueAt, now)
}

func legacyStatus(alert *Alert, doc map[string]interface{}) MetadataStatus {
	raw := stringField(doc, "status", "state")
	switch MetadataStatus(raw) {
	case MetadataOpen, MetadataAcknowledged, MetadataSnoozed, MetadataResolved:
		return MetadataStatus(raw)
	}
	// Legacy writers stored the persisted status synonyms.
	switch AlertStatus(raw) {
	case AlertStatusActive:
		return MetadataOpen
	case AlertStatusAcknowledged:
		return MetadataAcknowledged
	case AlertStatusResolved:
		return MetadataResolved
	}
	// Fall back to the persisted row status.
	switch alert.Status {
	case AlertStatusAcknowledged:
		return MetadataAcknowledged
	case AlertStatusResolved:
		return MetadataResolved
	default:
		return MetadataOpen
	}
}

func legacyOwner(doc map[string]interface{}) *AlertOwner {
	if sub, ok := doc["owner"].(map[string]interface{}); ok {
		owner := &AlertOwner{
			Type:       OwnerType(stringField(sub, "owner_type", "type")),
			UserID:     stringField(sub, "owner_id", "user_id", "id"),
			Role:       stringField(sub, "owner_role", "role"),
			AssignedBy: stringField(sub, "assigned_by", "assignedBy"),
		}
		if owner.Type == "" {
			if owner.Role != "" {
				owner.Type = OwnerTypeRole
			} else {
				owner.Type = OwnerTypeUser
			}
		}
		if t, ok := timeField(sub, "assigned_at", "assignedAt"); ok {
			owner.AssignedAt = &t
		}
		return owner
	}

	// Very old documents kept a bare assignee string.
	if assignee := stringField(doc, "assignee", "assigned_to", "assignedTo"); assignee != "" {
		owner := &AlertOwner{Type: OwnerTypeUser, UserID: assignee}
		owner.AssignedBy = stringField(doc, "assigned_by", "assignedBy")
		if t, ok := timeField(doc, "assigned_at", "assignedAt"); ok {
			owner.AssignedAt = &t
		}
		return owner
	}

	return nil
}

func legacySLA(doc map[string]interface{}, now time.Time) (AlertSLA, bool) {
	sub, ok := doc["sla"].(map[string]interface{})
	if !ok {
		return AlertSLA{}, false
	}
	dueAt, ok := timeField(sub, "due_at", "dueAt")
	if !ok {
		return AlertSLA{}, false
	}
	preset := SLAPreset(stringField(sub, "preset"))
	if !preset.IsValid() {
		preset = SLAPreset72h
	}
	return AlertSLA{
		Preset: preset,
		DueAt:  dueAt,
		Status: SLAStatusAt(dueAt, now),
	}, true
}

func legacySteps(doc map[string]interface{}, playbook Playbook) []PlaybookStepState {
	raw, ok := doc["playbook_steps"].([]interface{})
	if !ok {
		raw, ok = doc["steps"].([]interface{})
	}
	if !ok {
		return []PlaybookStepState{}
	}

	steps := make([]PlaybookStepState, 0, len(raw))
	for _, item := range raw {
		sub, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		step := PlaybookStepState{
			StepID:    stringField(sub, "step_id", "stepId", "id"),
			Checked:   boolField(sub, "checked", "done"),
			CheckedBy: stringField(sub, "checked_by", "checkedBy"),
			Note:      stringField(sub, "note"),
		}
		if t, ok := timeField(sub, "checked_at", "checkedAt"); ok {
			step.CheckedAt = &t
		}
		if step.StepID != "" {
			steps = append(steps, step)
		}
		// Step lists never outgrow the playbook they execute.
		if len(steps) >= playbook.StepCount() {
			break
		}
	}
	return steps
}

func legacyReopenCount(doc map[string]interface{}) int {
	if n, ok := numberField(doc, "reopen_count"); ok {
		return int(n)
	}
	if n, ok := numberField(doc, "reopenCount"); ok {
		return int(n)
	}
	return 0
}

func legacyHistory(doc map[string]interface{}) []HistoryEntry {
	raw, ok := doc["history"].([]interface{})
	if !ok {
		return nil
	}
	entries := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		sub, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := HistoryEntry{
			Event:      HistoryEvent(stringField(sub, "event")),
			PrevStatus: MetadataStatus(stringField(sub, "prev_status", "prevStatus")),
			TraceID:    stringField(sub, "trace_id", "traceId"),
		}
		if t, ok := timeField(sub, "at", "timestamp"); ok {
			entry.At = t
		}
		if entry.Event != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

func stringField(doc map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := doc[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func boolField(doc map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		if v, ok := doc[key].(bool); ok {
			return v
		}
	}
	return false
}

func numberField(doc map[string]interface{}, key string) (float64, bool) {
	switch v := doc[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func timeField(doc map[string]interface{}, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch v := doc[key].(type) {
		case time.Time:
			return v, true
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
