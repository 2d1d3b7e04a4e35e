package notify

import (
	"context"
	"testing"
	"time"

	"opspulse/core"
	"opspulse/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func notifierAlert(id, orgID string, severity core.AlertSeverity) *core.Alert {
	now := time.Now().UTC()
	return &core.Alert{
		ID:             id,
		Fingerprint:    core.BuildFingerprint(orgID, core.RuleBillingPastDue),
		RuleCode:       core.RuleBillingPastDue,
		Severity:       severity,
		Status:         core.AlertStatusActive,
		OrganizationID: orgID,
		Title:          "Subscription payment is past due",
		Description:    "payment failed",
		ReasonCodes:    []string{"subscription_PAST_DUE"},
		DetectedAt:     now,
		UpdatedAt:      now,
	}
}

func TestNotifyAlertRecords(t *testing.T) {
	store := storage.NewMockNotificationStorage()
	n := NewRecordingNotifier(store, core.SeverityWarning, time.Hour, zap.NewNop().Sugar())

	err := n.NotifyAlert(context.Background(), notifierAlert("a-1", "org-1", core.SeverityCritical))
	require.NoError(t, err)

	require.Len(t, store.Records, 1)
	rec := store.Records[0]
	assert.Equal(t, "a-1", rec.AlertID)
	assert.Equal(t, KindAlertCritical, rec.Kind)
	assert.Equal(t, "Subscription payment is past due", rec.Title)
	assert.Equal(t, "org-1:BILLING_PAST_DUE", rec.Metadata["fingerprint"])
	assert.Equal(t, "CRITICAL", rec.Metadata["severity"])
}

func TestNotifyAlertWarningKind(t *testing.T) {
	store := storage.NewMockNotificationStorage()
	n := NewRecordingNotifier(store, core.SeverityWarning, time.Hour, zap.NewNop().Sugar())

	require.NoError(t, n.NotifyAlert(context.Background(), notifierAlert("a-1", "org-1", core.SeverityWarning)))
	require.Len(t, store.Records, 1)
	assert.Equal(t, KindAlertWarning, store.Records[0].Kind)
}

func TestNotifyAlertBelowSeverityFloor(t *testing.T) {
	store := storage.NewMockNotificationStorage()
	n := NewRecordingNotifier(store, core.SeverityWarning, time.Hour, zap.NewNop().Sugar())

	require.NoError(t, n.NotifyAlert(context.Background(), notifierAlert("a-1", "org-1", core.SeverityInfo)))
	assert.Empty(t, store.Records)
}

func TestNotifyAlertSuppressesRepeatFingerprint(t *testing.T) {
	store := storage.NewMockNotificationStorage()
	n := NewRecordingNotifier(store, core.SeverityWarning, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, n.NotifyAlert(ctx, notifierAlert("a-1", "org-1", core.SeverityCritical)))
	// Same fingerprint again inside the window: suppressed.
	require.NoError(t, n.NotifyAlert(ctx, notifierAlert("a-2", "org-1", core.SeverityCritical)))
	require.Len(t, store.Records, 1)

	// A different tenant has a different fingerprint and still gets through.
	require.NoError(t, n.NotifyAlert(ctx, notifierAlert("a-3", "org-2", core.SeverityCritical)))
	assert.Len(t, store.Records, 2)
}

func TestNotifyAlertStoreFailureIsReturned(t *testing.T) {
	store := storage.NewMockNotificationStorage()
	store.Err = storage.ErrDatabaseClosed
	n := NewRecordingNotifier(store, core.SeverityWarning, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	err := n.NotifyAlert(ctx, notifierAlert("a-1", "org-1", core.SeverityCritical))
	assert.ErrorIs(t, err, storage.ErrDatabaseClosed)

	// A failed record must not poison the suppression cache.
	store.Err = nil
	require.NoError(t, n.NotifyAlert(ctx, notifierAlert("a-1", "org-1", core.SeverityCritical)))
	assert.Len(t, store.Records, 1)
}

func TestNewRecordingNotifierDefaults(t *testing.T) {
	store := storage.NewMockNotificationStorage()
	// Invalid floor falls back to WARNING, so INFO is still filtered.
	n := NewRecordingNotifier(store, core.AlertSeverity("LOUD"), 0, zap.NewNop().Sugar())

	require.NoError(t, n.NotifyAlert(context.Background(), notifierAlert("a-1", "org-1", core.SeverityInfo)))
	assert.Empty(t, store.Records)

	require.NoError(t, n.NotifyAlert(context.Background(), notifierAlert("a-2", "org-1", core.SeverityWarning)))
	assert.Len(t, store.Records, 1)
}
