package core

import "time"

// AlertState is the UI-facing lifecycle state derived at read time from the
// persisted status plus the snooze deadline.
type AlertState string

const (
	AlertStateOpen         AlertState = "open"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateSnoozed      AlertState = "snoozed"
	AlertStateResolved     AlertState = "resolved"
)

// DeriveAlertState computes the UI-facing state of an alert at the given instant.
func DeriveAlertState(alert *Alert, md AlertMetadata, now time.Time) AlertState {
	if alert.Status == AlertStatusResolved {
		return AlertStateResolved
	}
	if md.SnoozedUntil != nil && md.SnoozedUntil.After(now) {
		return AlertStateSnoozed
	}
	if alert.Status == AlertStatusAcknowledged {
		return AlertStateAcknowledged
	}
	return AlertStateOpen
}

// EnrichedAlert is an alert joined with its normalized metadata, derived
// state, tenant name, and environment classification. It is the unit the
// aggregation pipeline filters, counts, and groups.
type EnrichedAlert struct {
	Alert            Alert                     `json:"alert"`
	Metadata         AlertMetadata             `json:"metadata"`
	State            AlertState                `json:"state"`
	OrganizationName string                    `json:"organization_name"`
	Environment      EnvironmentClassification `json:"environment"`
}

// OrganizationPreview is a short tenant reference shown inside a group
type OrganizationPreview struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// groupPreviewCap bounds the organizations preview per group
const groupPreviewCap = 3

// AlertGroup aggregates alerts sharing ruleCode, severity, and derived state.
type AlertGroup struct {
	Key                  string                `json:"key"`
	RuleCode             string                `json:"rule_code"`
	Severity             AlertSeverity         `json:"severity"`
	State                AlertState            `json:"state"`
	Count                int                   `json:"count"`
	OrgCount             int                   `json:"org_count"`
	OrganizationsPreview []OrganizationPreview `json:"organizations_preview"`
	WorstSLAStatus       SLAStatus             `json:"worst_sla_status,omitempty"`
	ItemIDs              []string              `json:"item_ids"`
}

// GroupKey builds the grouping key ruleCode|severity|state.
func GroupKey(ruleCode string, severity AlertSeverity, state AlertState) string {
	return ruleCode + "|" + string(severity) + "|" + string(state)
}

// BuildAlertGroups folds a filtered alert set into groups. The sum of group
// counts always equals the input length; OrgCount counts every distinct tenant
// even beyond the preview cap. Groups come back in first-seen order.
func BuildAlertGroups(items []EnrichedAlert) []AlertGroup {
	index := make(map[string]int, len(items))
	seenOrgs := make(map[string]map[string]bool, len(items))
	groups := make([]AlertGroup, 0)

	for i := range items {
		item := &items[i]
		key := GroupKey(item.Alert.RuleCode, item.Alert.Severity, item.State)

		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, AlertGroup{
				Key:                  key,
				RuleCode:             item.Alert.RuleCode,
				Severity:             item.Alert.Severity,
				State:                item.State,
				OrganizationsPreview: make([]OrganizationPreview, 0, groupPreviewCap),
			})
			seenOrgs[key] = make(map[string]bool)
		}

		group := &groups[gi]
		group.Count++
		group.ItemIDs = append(group.ItemIDs, item.Alert.ID)

		if item.Metadata.SLA != nil {
			group.WorstSLAStatus = WorseSLAStatus(group.WorstSLAStatus, item.Metadata.SLA.Status)
		}

		orgID := item.Alert.OrganizationID
		if !seenOrgs[key][orgID] {
			seenOrgs[key][orgID] = true
			group.OrgCount++
			if len(group.OrganizationsPreview) < groupPreviewCap {
				group.OrganizationsPreview = append(group.OrganizationsPreview, OrganizationPreview{
					ID:   orgID,
					Name: item.OrganizationName,
				})
			}
		}
	}

	return groups
}
