package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFingerprint(t *testing.T) {
	assert.Equal(t, "org-1:BILLING_PAST_DUE", BuildFingerprint("org-1", RuleBillingPastDue))
}

func TestStableKey(t *testing.T) {
	assert.Equal(t, "org-1:BILLING_PAST_DUE", StableKey("org-1:BILLING_PAST_DUE"))
	// Trailing free-form suffixes are tolerated.
	assert.Equal(t, "org-1:BILLING_PAST_DUE", StableKey("org-1:BILLING_PAST_DUE:2026-01-05"))
	assert.Equal(t, "org-1", StableKey("org-1"))
}

func TestDeduplicateAlertsKeepsMostRecent(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	older := Alert{ID: "a-1", Fingerprint: "org-1:INACTIVE_ORG:x", UpdatedAt: base}
	newer := Alert{ID: "a-2", Fingerprint: "org-1:INACTIVE_ORG:y", UpdatedAt: base.Add(time.Hour)}
	other := Alert{ID: "a-3", Fingerprint: "org-2:INACTIVE_ORG", UpdatedAt: base}

	got := DeduplicateAlerts([]Alert{older, newer, other})
	require.Len(t, got, 2)
	assert.Equal(t, "a-2", got[0].ID)
	assert.Equal(t, "a-3", got[1].ID)
}

func TestDeduplicateAlertsUsesDetectedAtFallback(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// No UpdatedAt set; the newer detection wins.
	a := Alert{ID: "a-1", Fingerprint: "org-1:NO_ADMINS_ASSIGNED", DetectedAt: base}
	b := Alert{ID: "a-2", Fingerprint: "org-1:NO_ADMINS_ASSIGNED:dup", DetectedAt: base.Add(time.Minute)}

	got := DeduplicateAlerts([]Alert{a, b})
	require.Len(t, got, 1)
	assert.Equal(t, "a-2", got[0].ID)
}

func TestDeduplicateAlertsCountMatchesDistinctKeys(t *testing.T) {
	alerts := []Alert{
		{ID: "1", Fingerprint: "o1:R1"},
		{ID: "2", Fingerprint: "o1:R1:a"},
		{ID: "3", Fingerprint: "o1:R2"},
		{ID: "4", Fingerprint: "o2:R1"},
		{ID: "5", Fingerprint: "o2:R1:b"},
	}
	got := DeduplicateAlerts(alerts)
	assert.Len(t, got, 3)
}
