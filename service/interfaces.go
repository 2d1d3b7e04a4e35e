package service

import (
	"context"
	"time"

	"opspulse/core"
	"opspulse/storage"
)

// Narrow storage interfaces defined on the consumer side so services can be
// tested against the hand mocks in the storage package.

// AlertStore defines alert persistence operations needed by the services
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	GetAlertByFingerprint(ctx context.Context, fingerprint string) (*core.Alert, error)
	GetOpenAlertsByOrganization(ctx context.Context, organizationID string) ([]core.Alert, error)
	GetOpenAlertsWithOrganizations(ctx context.Context) ([]storage.AlertWithOrganization, error)
	GetResolvedAlertsSince(ctx context.Context, since time.Time) ([]core.Alert, error)
	UpdateAlertEvaluation(ctx context.Context, id string, severity core.AlertSeverity, description string, reasonCodes []string, now time.Time) error
	ResolveAlert(ctx context.Context, id string, now time.Time) error
	UpdateAlertState(ctx context.Context, id string, status core.AlertStatus, metadata map[string]interface{}, expectedUpdatedAt, now time.Time) error
}

// OrganizationStore defines read access to tenant projections
type OrganizationStore interface {
	GetOrganizations(ctx context.Context) ([]core.Organization, error)
}

// AuditStore is the append-only audit sink
type AuditStore interface {
	Record(ctx context.Context, actorID, action string, details map[string]interface{}, organizationID string) error
	LastByAction(ctx context.Context, action string) (*storage.AuditRecord, error)
}

// NotificationStore is the append-only notification sink
type NotificationStore interface {
	Record(ctx context.Context, alertID, kind, title, body string, metadata map[string]interface{}) error
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// Notifier emits notification records for newly created alerts
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *core.Alert) error
}
