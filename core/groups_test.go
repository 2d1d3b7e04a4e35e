package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAlertState(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name  string
		alert Alert
		md    AlertMetadata
		want  AlertState
	}{
		{"resolved row wins", Alert{Status: AlertStatusResolved}, AlertMetadata{Status: MetadataOpen}, AlertStateResolved},
		{"resolved ignores snooze", Alert{Status: AlertStatusResolved}, AlertMetadata{Status: MetadataSnoozed, SnoozedUntil: &future}, AlertStateResolved},
		{"active snooze", Alert{Status: AlertStatusActive}, AlertMetadata{Status: MetadataSnoozed, SnoozedUntil: &future}, AlertStateSnoozed},
		{"expired snooze falls back to open", Alert{Status: AlertStatusActive}, AlertMetadata{Status: MetadataSnoozed, SnoozedUntil: &past}, AlertStateOpen},
		{"acknowledged row", Alert{Status: AlertStatusAcknowledged}, AlertMetadata{Status: MetadataAcknowledged}, AlertStateAcknowledged},
		{"plain open", Alert{Status: AlertStatusActive}, AlertMetadata{Status: MetadataOpen}, AlertStateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveAlertState(&tt.alert, tt.md, now))
		})
	}
}

func enriched(id, org, rule string, severity AlertSeverity, state AlertState, sla *AlertSLA) EnrichedAlert {
	return EnrichedAlert{
		Alert:            Alert{ID: id, OrganizationID: org, RuleCode: rule, Severity: severity},
		Metadata:         AlertMetadata{SLA: sla},
		State:            state,
		OrganizationName: "org " + org,
	}
}

func TestBuildAlertGroupsSumEqualsInput(t *testing.T) {
	items := []EnrichedAlert{
		enriched("1", "o1", RuleBillingPastDue, SeverityCritical, AlertStateOpen, nil),
		enriched("2", "o2", RuleBillingPastDue, SeverityCritical, AlertStateOpen, nil),
		enriched("3", "o3", RuleBillingPastDue, SeverityCritical, AlertStateAcknowledged, nil),
		enriched("4", "o1", RuleInactiveOrg, SeverityInfo, AlertStateOpen, nil),
		enriched("5", "o4", RuleInactiveOrg, SeverityInfo, AlertStateOpen, nil),
	}

	groups := BuildAlertGroups(items)
	total := 0
	for _, g := range groups {
		total += g.Count
		assert.Len(t, g.ItemIDs, g.Count)
	}
	assert.Equal(t, len(items), total)
	assert.Len(t, groups, 3)
}

func TestBuildAlertGroupsPreviewCapAndOrgCount(t *testing.T) {
	items := make([]EnrichedAlert, 0, 5)
	for i := 1; i <= 5; i++ {
		items = append(items, enriched(
			fmt.Sprintf("a-%d", i), fmt.Sprintf("o-%d", i),
			RuleNoAdminsAssigned, SeverityCritical, AlertStateOpen, nil,
		))
	}

	groups := BuildAlertGroups(items)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, 5, g.Count)
	// Preview is capped but the true tenant count keeps counting.
	assert.Len(t, g.OrganizationsPreview, 3)
	assert.Equal(t, 5, g.OrgCount)
}

func TestBuildAlertGroupsWorstSLA(t *testing.T) {
	now := time.Now().UTC()
	items := []EnrichedAlert{
		enriched("1", "o1", RuleBillingPastDue, SeverityCritical, AlertStateOpen,
			&AlertSLA{DueAt: now.Add(24 * time.Hour), Status: SLAOnTrack}),
		enriched("2", "o2", RuleBillingPastDue, SeverityCritical, AlertStateOpen,
			&AlertSLA{DueAt: now.Add(-time.Hour), Status: SLABreached}),
		enriched("3", "o3", RuleBillingPastDue, SeverityCritical, AlertStateOpen, nil),
	}

	groups := BuildAlertGroups(items)
	require.Len(t, groups, 1)
	assert.Equal(t, SLABreached, groups[0].WorstSLAStatus)
}

func TestBuildAlertGroupsDistinctOrgCountedOnce(t *testing.T) {
	items := []EnrichedAlert{
		enriched("1", "o1", RuleInactiveOrg, SeverityInfo, AlertStateOpen, nil),
		enriched("2", "o1", RuleInactiveOrg, SeverityInfo, AlertStateOpen, nil),
	}
	groups := BuildAlertGroups(items)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, 1, groups[0].OrgCount)
	assert.Len(t, groups[0].OrganizationsPreview, 1)
}
