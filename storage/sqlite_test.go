package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"opspulse/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestAlertStorage(t *testing.T) (*SQLiteAlertStorage, *SQLiteOrganizationStorage) {
	t.Helper()
	db := newTestDB(t)
	alerts, err := NewSQLiteAlertStorage(db, zap.NewNop().Sugar())
	require.NoError(t, err)
	orgs, err := NewSQLiteOrganizationStorage(db, zap.NewNop().Sugar())
	require.NoError(t, err)
	return alerts, orgs
}

func testAlert(id, orgID string) *core.Alert {
	now := time.Now().UTC().Truncate(time.Second)
	return &core.Alert{
		ID:             id,
		Fingerprint:    core.BuildFingerprint(orgID, core.RuleBillingPastDue),
		RuleCode:       core.RuleBillingPastDue,
		Severity:       core.SeverityCritical,
		Status:         core.AlertStatusActive,
		OrganizationID: orgID,
		Title:          "Subscription payment is past due",
		Description:    "payment failed",
		ReasonCodes:    []string{"subscription_PAST_DUE"},
		DetectedAt:     now,
		UpdatedAt:      now,
	}
}

func TestInsertAndGetAlert(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	alert := testAlert("a-1", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, alert))

	got, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, alert.RuleCode, got.RuleCode)
	assert.Equal(t, core.SeverityCritical, got.Severity)
	assert.Equal(t, "payment failed", got.Description)
	assert.Equal(t, []string{"subscription_PAST_DUE"}, got.ReasonCodes)
	assert.Nil(t, got.ResolvedAt)
}

func TestInsertAlertValidation(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	alert := testAlert("", "org-1")
	assert.Error(t, alerts.InsertAlert(ctx, alert))

	alert = testAlert("a-1", "org-1")
	alert.Fingerprint = ""
	assert.Error(t, alerts.InsertAlert(ctx, alert))
}

func TestInsertAlertDuplicateOpenFingerprint(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	require.NoError(t, alerts.InsertAlert(ctx, testAlert("a-1", "org-1")))

	dup := testAlert("a-2", "org-1")
	err := alerts.InsertAlert(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateFingerprint)

	// A resolved alert frees the fingerprint for a new open one.
	require.NoError(t, alerts.ResolveAlert(ctx, "a-1", time.Now().UTC()))
	assert.NoError(t, alerts.InsertAlert(ctx, dup))
}

func TestGetAlertByFingerprintPrefersOpen(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	first := testAlert("a-1", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, first))
	require.NoError(t, alerts.ResolveAlert(ctx, "a-1", time.Now().UTC()))

	second := testAlert("a-2", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, second))

	got, err := alerts.GetAlertByFingerprint(ctx, first.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "a-2", got.ID)
}

func TestGetAlertByFingerprintNotFound(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	_, err := alerts.GetAlertByFingerprint(context.Background(), "org-x:NOPE")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestGetOpenAlertsByOrganization(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	a1 := testAlert("a-1", "org-1")
	a2 := testAlert("a-2", "org-1")
	a2.Fingerprint = core.BuildFingerprint("org-1", core.RuleInactiveOrg)
	a2.RuleCode = core.RuleInactiveOrg
	a3 := testAlert("a-3", "org-2")
	require.NoError(t, alerts.InsertAlert(ctx, a1))
	require.NoError(t, alerts.InsertAlert(ctx, a2))
	require.NoError(t, alerts.InsertAlert(ctx, a3))
	require.NoError(t, alerts.ResolveAlert(ctx, "a-2", time.Now().UTC()))

	open, err := alerts.GetOpenAlertsByOrganization(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a-1", open[0].ID)
}

func TestUpdateAlertEvaluation(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	alert := testAlert("a-1", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, alert))

	now := time.Now().UTC().Truncate(time.Second).Add(time.Minute)
	err := alerts.UpdateAlertEvaluation(ctx, "a-1", core.SeverityWarning, "charge retried", []string{"subscription_UNPAID"}, now)
	require.NoError(t, err)

	got, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.SeverityWarning, got.Severity)
	assert.Equal(t, "charge retried", got.Description)
	assert.Equal(t, []string{"subscription_UNPAID"}, got.ReasonCodes)

	err = alerts.UpdateAlertEvaluation(ctx, "missing", core.SeverityInfo, "", nil, now)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestResolveAlert(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	alert := testAlert("a-1", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, alert))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, alerts.ResolveAlert(ctx, "a-1", now))

	got, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	// Resolving twice affects no rows.
	assert.ErrorIs(t, alerts.ResolveAlert(ctx, "a-1", now), ErrAlertNotFound)
}

func TestUpdateAlertStateOptimisticConcurrency(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	alert := testAlert("a-1", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, alert))

	current, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)

	now := current.UpdatedAt.Add(time.Minute)
	md := map[string]interface{}{"version": 2, "status": "ACKNOWLEDGED"}
	require.NoError(t, alerts.UpdateAlertState(ctx, "a-1", core.AlertStatusAcknowledged, md, current.UpdatedAt, now))

	got, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, "ACKNOWLEDGED", got.Metadata["status"])

	// The first writer moved updated_at, so the stale expectation loses.
	err = alerts.UpdateAlertState(ctx, "a-1", core.AlertStatusResolved, md, current.UpdatedAt, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrStaleWrite)

	err = alerts.UpdateAlertState(ctx, "missing", core.AlertStatusResolved, md, current.UpdatedAt, now)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestUpdateAlertStateResolvedAtBoundary(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()

	alert := testAlert("a-1", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, alert))

	current, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)

	// Operator resolve stamps resolved_at.
	resolvedAt := current.UpdatedAt.Add(time.Minute)
	md := map[string]interface{}{"version": 2, "status": "RESOLVED"}
	require.NoError(t, alerts.UpdateAlertState(ctx, "a-1", core.AlertStatusResolved, md, current.UpdatedAt, resolvedAt))

	got, err := alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolvedAt))

	// Staying resolved keeps the original timestamp.
	later := resolvedAt.Add(time.Minute)
	require.NoError(t, alerts.UpdateAlertState(ctx, "a-1", core.AlertStatusResolved, md, got.UpdatedAt, later))
	got, err = alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolvedAt))

	// Leaving RESOLVED clears it, so the row cannot look resolved-and-active.
	md["status"] = "OPEN"
	require.NoError(t, alerts.UpdateAlertState(ctx, "a-1", core.AlertStatusActive, md, got.UpdatedAt, later.Add(time.Minute)))
	got, err = alerts.GetAlertByFingerprint(ctx, alert.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, got.Status)
	assert.Nil(t, got.ResolvedAt)
}

func TestGetResolvedAlertsSince(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	old := testAlert("a-old", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, old))
	require.NoError(t, alerts.ResolveAlert(ctx, "a-old", now.Add(-40*24*time.Hour)))

	recent := testAlert("a-recent", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, recent))
	require.NoError(t, alerts.ResolveAlert(ctx, "a-recent", now.Add(-time.Hour)))

	resolved, err := alerts.GetResolvedAlertsSince(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "a-recent", resolved[0].ID)
}

func TestDeleteResolvedBefore(t *testing.T) {
	alerts, _ := newTestAlertStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	expired := testAlert("a-expired", "org-1")
	require.NoError(t, alerts.InsertAlert(ctx, expired))
	require.NoError(t, alerts.ResolveAlert(ctx, "a-expired", now.Add(-100*24*time.Hour)))

	kept := testAlert("a-kept", "org-2")
	require.NoError(t, alerts.InsertAlert(ctx, kept))

	deleted, err := alerts.DeleteResolvedBefore(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := alerts.GetAlertCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetOpenAlertsWithOrganizations(t *testing.T) {
	alerts, orgs := newTestAlertStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	trialEnds := now.Add(48 * time.Hour)
	require.NoError(t, orgs.UpsertOrganization(ctx, &core.Organization{
		ID:        "org-1",
		Name:      "Acme Industries",
		CreatedAt: now.AddDate(0, -1, 0),
		Plan:      "PRO",
		Subscription: &core.Subscription{
			Status:             core.SubscriptionTrialing,
			TrialEndsAt:        &trialEnds,
			ProviderCustomerID: "cus_123",
		},
		MemberCount: 4,
	}))

	require.NoError(t, alerts.InsertAlert(ctx, testAlert("a-1", "org-1")))
	// An alert for a tenant without a projection row is dropped by the join.
	require.NoError(t, alerts.InsertAlert(ctx, testAlert("a-orphan", "org-ghost")))

	joined, err := alerts.GetOpenAlertsWithOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, "a-1", joined[0].Alert.ID)
	assert.Equal(t, "Acme Industries", joined[0].Organization.Name)
	require.NotNil(t, joined[0].Organization.Subscription)
	assert.Equal(t, core.SubscriptionTrialing, joined[0].Organization.Subscription.Status)
	assert.Equal(t, "cus_123", joined[0].Organization.Subscription.ProviderCustomerID)
	require.NotNil(t, joined[0].Organization.Subscription.TrialEndsAt)
	assert.Equal(t, 4, joined[0].Organization.MemberCount)
}

func TestUpsertAndGetOrganization(t *testing.T) {
	_, orgs := newTestAlertStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	org := &core.Organization{
		ID:          "org-1",
		Name:        "First Name",
		CreatedAt:   now,
		MemberCount: 1,
	}
	require.NoError(t, orgs.UpsertOrganization(ctx, org))

	org.Name = "Renamed"
	org.Plan = "ENTERPRISE"
	org.MemberCount = 9
	require.NoError(t, orgs.UpsertOrganization(ctx, org))

	got, err := orgs.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "ENTERPRISE", got.Plan)
	assert.Equal(t, 9, got.MemberCount)
	assert.Nil(t, got.Subscription)

	_, err = orgs.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)

	err = orgs.UpsertOrganization(ctx, &core.Organization{Name: "no id"})
	assert.Error(t, err)
}

func TestGetOrganizationsOrderedByCreation(t *testing.T) {
	_, orgs := newTestAlertStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, orgs.UpsertOrganization(ctx, &core.Organization{ID: "o-new", Name: "Newer", CreatedAt: now}))
	require.NoError(t, orgs.UpsertOrganization(ctx, &core.Organization{ID: "o-old", Name: "Older", CreatedAt: now.AddDate(-1, 0, 0)}))

	all, err := orgs.GetOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "o-old", all[0].ID)
	assert.Equal(t, "o-new", all[1].ID)
}

func TestAuditRecordAndLastByAction(t *testing.T) {
	db := newTestDB(t)
	audit, err := NewSQLiteAuditStorage(db, zap.NewNop().Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	last, err := audit.LastByAction(ctx, "evaluation.run")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, audit.Record(ctx, "actor-1", "evaluation.run", map[string]interface{}{"created": 1.0}, ""))
	require.NoError(t, audit.Record(ctx, "actor-2", "alert.acknowledge", nil, "org-1"))

	last, err = audit.LastByAction(ctx, "evaluation.run")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "actor-1", last.ActorID)
	assert.Equal(t, 1.0, last.Details["created"])

	last, err = audit.LastByAction(ctx, "alert.acknowledge")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "org-1", last.OrganizationID)
}

func TestNotificationRecordAndCountSince(t *testing.T) {
	db := newTestDB(t)
	notes, err := NewSQLiteNotificationStorage(db, zap.NewNop().Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, notes.Record(ctx, "a-1", "alert.critical", "Subscription payment is past due", "details", map[string]interface{}{"fingerprint": "org-1:BILLING_PAST_DUE"}))
	require.NoError(t, notes.Record(ctx, "a-2", "alert.warning", "Trial ends soon", "", nil))

	count, err := notes.CountSince(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = notes.CountSince(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
