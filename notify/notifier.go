package notify

import (
	"context"
	"fmt"
	"time"

	"opspulse/core"
	"opspulse/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Kind values for recorded notifications
const (
	KindAlertCritical = "alert_critical"
	KindAlertWarning  = "alert_warning"
)

// suppressionCacheSize bounds the fingerprints tracked for re-notify suppression
const suppressionCacheSize = 4096

// RecordStore is the append-only sink notifications are written to
type RecordStore interface {
	Record(ctx context.Context, alertID, kind, title, body string, metadata map[string]interface{}) error
}

// RecordingNotifier writes one notification record per newly firing alert.
// A fingerprint that was notified inside the suppression window is skipped,
// so a flapping rule cannot flood the sink.
type RecordingNotifier struct {
	store       RecordStore
	minSeverity core.AlertSeverity
	recent      *expirable.LRU[string, time.Time]
	logger      *zap.SugaredLogger
}

// NewRecordingNotifier creates a notifier that suppresses repeat notifications
// for the same fingerprint within renotifyWindow.
func NewRecordingNotifier(store RecordStore, minSeverity core.AlertSeverity, renotifyWindow time.Duration, logger *zap.SugaredLogger) *RecordingNotifier {
	if store == nil {
		panic("notification store is required")
	}
	if !minSeverity.IsValid() {
		minSeverity = core.SeverityWarning
	}
	if renotifyWindow <= 0 {
		renotifyWindow = time.Hour
	}
	return &RecordingNotifier{
		store:       store,
		minSeverity: minSeverity,
		recent:      expirable.NewLRU[string, time.Time](suppressionCacheSize, nil, renotifyWindow),
		logger:      logger,
	}
}

var severityRank = map[core.AlertSeverity]int{
	core.SeverityInfo:     1,
	core.SeverityWarning:  2,
	core.SeverityCritical: 3,
}

// NotifyAlert records a notification for an alert unless its severity is below
// the configured floor or its fingerprint was notified recently.
func (n *RecordingNotifier) NotifyAlert(ctx context.Context, alert *core.Alert) error {
	if severityRank[alert.Severity] < severityRank[n.minSeverity] {
		return nil
	}
	if _, seen := n.recent.Get(alert.Fingerprint); seen {
		metrics.NotificationsSuppressed.Inc()
		n.logger.Debugw("Notification suppressed by re-notify window",
			"fingerprint", alert.Fingerprint, "severity", alert.Severity)
		return nil
	}

	kind := KindAlertWarning
	if alert.Severity == core.SeverityCritical {
		kind = KindAlertCritical
	}
	body := fmt.Sprintf("%s\nRule %s fired for tenant %s.", alert.Description, alert.RuleCode, alert.OrganizationID)
	err := n.store.Record(ctx, alert.ID, kind, alert.Title, body, map[string]interface{}{
		"fingerprint":     alert.Fingerprint,
		"rule_code":       alert.RuleCode,
		"severity":        string(alert.Severity),
		"organization_id": alert.OrganizationID,
		"reason_codes":    alert.ReasonCodes,
	})
	if err != nil {
		return fmt.Errorf("recording notification: %w", err)
	}

	n.recent.Add(alert.Fingerprint, time.Now())
	metrics.NotificationsRecorded.WithLabelValues(kind).Inc()
	return nil
}
