package storage

import (
	"context"
	"sync"
	"time"

	"opspulse/core"
)

// Hand-written in-memory mocks shared by service and api tests. Each mock
// takes an optional Err to force the failure path.

// MockAlertStorage is an in-memory AlertStore
type MockAlertStorage struct {
	mu     sync.Mutex
	Alerts map[string]*core.Alert // keyed by alert ID
	Orgs   map[string]*core.Organization
	Err    error

	Inserted []string
	Resolved []string
	Updated  []string
}

// NewMockAlertStorage creates an empty mock alert store
func NewMockAlertStorage() *MockAlertStorage {
	return &MockAlertStorage{
		Alerts: make(map[string]*core.Alert),
		Orgs:   make(map[string]*core.Organization),
	}
}

// Put seeds an alert
func (m *MockAlertStorage) Put(alert *core.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alert
	m.Alerts[alert.ID] = &cp
}

func (m *MockAlertStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.Alerts {
		if existing.Fingerprint == alert.Fingerprint && existing.IsOpen() {
			return ErrDuplicateFingerprint
		}
	}
	cp := *alert
	m.Alerts[alert.ID] = &cp
	m.Inserted = append(m.Inserted, alert.ID)
	return nil
}

func (m *MockAlertStorage) GetAlertByFingerprint(ctx context.Context, fingerprint string) (*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var newest *core.Alert
	for _, alert := range m.Alerts {
		if alert.Fingerprint != fingerprint {
			continue
		}
		if alert.IsOpen() {
			cp := *alert
			return &cp, nil
		}
		if newest == nil || alert.UpdatedAt.After(newest.UpdatedAt) {
			newest = alert
		}
	}
	if newest == nil {
		return nil, ErrAlertNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *MockAlertStorage) GetOpenAlertsByOrganization(ctx context.Context, organizationID string) ([]core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	alerts := make([]core.Alert, 0)
	for _, alert := range m.Alerts {
		if alert.OrganizationID == organizationID && alert.IsOpen() {
			alerts = append(alerts, *alert)
		}
	}
	return alerts, nil
}

func (m *MockAlertStorage) GetOpenAlertsWithOrganizations(ctx context.Context) ([]AlertWithOrganization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	items := make([]AlertWithOrganization, 0)
	for _, alert := range m.Alerts {
		if !alert.IsOpen() {
			continue
		}
		item := AlertWithOrganization{Alert: *alert}
		if org, ok := m.Orgs[alert.OrganizationID]; ok {
			item.Organization = *org
		} else {
			item.Organization = core.Organization{ID: alert.OrganizationID, Name: alert.OrganizationID}
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *MockAlertStorage) GetResolvedAlertsSince(ctx context.Context, since time.Time) ([]core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	alerts := make([]core.Alert, 0)
	for _, alert := range m.Alerts {
		if alert.Status == core.AlertStatusResolved && alert.ResolvedAt != nil && !alert.ResolvedAt.Before(since) {
			alerts = append(alerts, *alert)
		}
	}
	return alerts, nil
}

func (m *MockAlertStorage) UpdateAlertEvaluation(ctx context.Context, id string, severity core.AlertSeverity, description string, reasonCodes []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	alert, ok := m.Alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	alert.Severity = severity
	alert.Description = description
	alert.ReasonCodes = reasonCodes
	alert.UpdatedAt = now
	m.Updated = append(m.Updated, id)
	return nil
}

func (m *MockAlertStorage) ResolveAlert(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	alert, ok := m.Alerts[id]
	if !ok || alert.Status == core.AlertStatusResolved {
		return ErrAlertNotFound
	}
	alert.Status = core.AlertStatusResolved
	at := now
	alert.ResolvedAt = &at
	alert.UpdatedAt = now
	m.Resolved = append(m.Resolved, id)
	return nil
}

func (m *MockAlertStorage) UpdateAlertState(ctx context.Context, id string, status core.AlertStatus, metadata map[string]interface{}, expectedUpdatedAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	alert, ok := m.Alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	if !alert.UpdatedAt.Equal(expectedUpdatedAt) {
		return ErrStaleWrite
	}
	alert.Status = status
	alert.Metadata = metadata
	alert.UpdatedAt = now
	if status == core.AlertStatusResolved {
		if alert.ResolvedAt == nil {
			at := now
			alert.ResolvedAt = &at
		}
	} else {
		alert.ResolvedAt = nil
	}
	return nil
}

func (m *MockAlertStorage) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var deleted int64
	for id, alert := range m.Alerts {
		if alert.Status == core.AlertStatusResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			delete(m.Alerts, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockAlertStorage) GetAlertCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return int64(len(m.Alerts)), nil
}

// MockOrganizationStorage is an in-memory OrganizationStore
type MockOrganizationStorage struct {
	mu   sync.Mutex
	Orgs []core.Organization
	Err  error
}

// NewMockOrganizationStorage creates an empty mock organization store
func NewMockOrganizationStorage(orgs ...core.Organization) *MockOrganizationStorage {
	return &MockOrganizationStorage{Orgs: orgs}
}

func (m *MockOrganizationStorage) GetOrganizations(ctx context.Context) ([]core.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]core.Organization, len(m.Orgs))
	copy(out, m.Orgs)
	return out, nil
}

func (m *MockOrganizationStorage) GetOrganization(ctx context.Context, id string) (*core.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.Orgs {
		if m.Orgs[i].ID == id {
			cp := m.Orgs[i]
			return &cp, nil
		}
	}
	return nil, ErrOrganizationNotFound
}

// MockAuditStorage is an in-memory audit sink
type MockAuditStorage struct {
	mu      sync.Mutex
	Records []AuditRecord
	Err     error
}

// NewMockAuditStorage creates an empty mock audit sink
func NewMockAuditStorage() *MockAuditStorage {
	return &MockAuditStorage{}
}

func (m *MockAuditStorage) Record(ctx context.Context, actorID, action string, details map[string]interface{}, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Records = append(m.Records, AuditRecord{
		ActorID:        actorID,
		Action:         action,
		Details:        details,
		OrganizationID: organizationID,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

func (m *MockAuditStorage) LastByAction(ctx context.Context, action string) (*AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for i := len(m.Records) - 1; i >= 0; i-- {
		if m.Records[i].Action == action {
			cp := m.Records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// MockNotificationStorage is an in-memory notification sink
type MockNotificationStorage struct {
	mu      sync.Mutex
	Records []NotificationRecord
	Err     error
}

// NewMockNotificationStorage creates an empty mock notification sink
func NewMockNotificationStorage() *MockNotificationStorage {
	return &MockNotificationStorage{}
}

func (m *MockNotificationStorage) Record(ctx context.Context, alertID, kind, title, body string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Records = append(m.Records, NotificationRecord{
		AlertID:   alertID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *MockNotificationStorage) CountSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var count int64
	for _, r := range m.Records {
		if !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
