package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"opspulse/core"

	"go.uber.org/zap"
)

// SQLiteAlertStorage handles alert persistence in SQLite
type SQLiteAlertStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// AlertWithOrganization is an alert row joined with its tenant projection
type AlertWithOrganization struct {
	Alert        core.Alert
	Organization core.Organization
}

// NewSQLiteAlertStorage creates a new SQLite alert storage handler
func NewSQLiteAlertStorage(db *SQLite, logger *zap.SugaredLogger) (*SQLiteAlertStorage, error) {
	s := &SQLiteAlertStorage{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure alerts table: %w", err)
	}
	return s, nil
}

// ensureTable creates the alerts table if it doesn't exist. The partial
// unique index enforces at most one non-resolved alert per fingerprint.
func (s *SQLiteAlertStorage) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		rule_code TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		reason_codes TEXT,  -- JSON array
		detected_at DATETIME NOT NULL,
		resolved_at DATETIME,
		updated_at DATETIME NOT NULL,
		metadata TEXT       -- JSON document, opaque to this layer
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_fingerprint
		ON alerts(fingerprint) WHERE status != 'RESOLVED';
	CREATE INDEX IF NOT EXISTS idx_alerts_org ON alerts(organization_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_resolved_at ON alerts(resolved_at);
	`

	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create alerts table: %w", err)
	}
	s.logger.Info("Alerts table ensured in SQLite")
	return nil
}

// InsertAlert creates a new alert row. A second non-resolved alert for the
// same fingerprint is rejected with ErrDuplicateFingerprint.
func (s *SQLiteAlertStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	if alert.ID == "" {
		return errors.New("alert ID cannot be empty")
	}
	if alert.Fingerprint == "" {
		return errors.New("alert fingerprint cannot be empty")
	}

	reasonsJSON, err := json.Marshal(alert.ReasonCodes)
	if err != nil {
		return fmt.Errorf("failed to marshal reason codes: %w", err)
	}
	metadataJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO alerts (id, fingerprint, rule_code, severity, status, organization_id,
			title, description, reason_codes, detected_at, resolved_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.WriteDB.ExecContext(ctx, query,
		alert.ID,
		alert.Fingerprint,
		alert.RuleCode,
		alert.Severity.String(),
		alert.Status.String(),
		alert.OrganizationID,
		alert.Title,
		nullIfEmpty(alert.Description),
		string(reasonsJSON),
		alert.DetectedAt,
		nullableTime(alert.ResolvedAt),
		alert.UpdatedAt,
		string(metadataJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

const alertColumns = `id, fingerprint, rule_code, severity, status, organization_id,
	title, description, reason_codes, detected_at, resolved_at, updated_at, metadata`

// GetAlertByFingerprint returns the non-resolved alert for a fingerprint, or
// the most recently updated resolved one when no open alert exists.
func (s *SQLiteAlertStorage) GetAlertByFingerprint(ctx context.Context, fingerprint string) (*core.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE fingerprint = ?
		ORDER BY (status != 'RESOLVED') DESC, updated_at DESC
		LIMIT 1
	`
	row := s.db.ReadDB.QueryRowContext(ctx, query, fingerprint)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert by fingerprint: %w", err)
	}
	return alert, nil
}

// GetOpenAlertsByOrganization returns ACTIVE and ACKNOWLEDGED alerts for one tenant.
func (s *SQLiteAlertStorage) GetOpenAlertsByOrganization(ctx context.Context, organizationID string) ([]core.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE organization_id = ? AND status IN ('ACTIVE', 'ACKNOWLEDGED')
		ORDER BY detected_at ASC
	`
	return s.queryAlerts(ctx, query, organizationID)
}

// GetOpenAlertsWithOrganizations returns every non-resolved alert joined with
// its tenant projection, for the aggregation pipeline.
func (s *SQLiteAlertStorage) GetOpenAlertsWithOrganizations(ctx context.Context) ([]AlertWithOrganization, error) {
	query := `
		SELECT a.id, a.fingerprint, a.rule_code, a.severity, a.status, a.organization_id,
			a.title, a.description, a.reason_codes, a.detected_at, a.resolved_at, a.updated_at, a.metadata,
			o.id, o.name, o.created_at, o.plan, o.subscription_status, o.trial_ends_at,
			o.provider_customer_id, o.last_activity_at, o.member_count
		FROM alerts a
		JOIN organizations o ON o.id = a.organization_id
		WHERE a.status != 'RESOLVED'
		ORDER BY a.detected_at ASC
	`
	rows, err := s.db.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts with organizations: %w", err)
	}
	defer rows.Close()

	results := make([]AlertWithOrganization, 0)
	for rows.Next() {
		var (
			item        AlertWithOrganization
			description sql.NullString
			reasonsJSON sql.NullString
			resolvedAt  sql.NullTime
			metaJSON    sql.NullString
			plan        sql.NullString
			subStatus   sql.NullString
			trialEnds   sql.NullTime
			providerID  sql.NullString
			lastActive  sql.NullTime
		)
		err := rows.Scan(
			&item.Alert.ID, &item.Alert.Fingerprint, &item.Alert.RuleCode,
			&item.Alert.Severity, &item.Alert.Status, &item.Alert.OrganizationID,
			&item.Alert.Title, &description, &reasonsJSON,
			&item.Alert.DetectedAt, &resolvedAt, &item.Alert.UpdatedAt, &metaJSON,
			&item.Organization.ID, &item.Organization.Name, &item.Organization.CreatedAt,
			&plan, &subStatus, &trialEnds, &providerID, &lastActive,
			&item.Organization.MemberCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		fillAlertOptionals(&item.Alert, description, reasonsJSON, resolvedAt, metaJSON)
		fillOrganizationOptionals(&item.Organization, plan, subStatus, trialEnds, providerID, lastActive)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert rows error: %w", err)
	}
	return results, nil
}

// GetResolvedAlertsSince returns alerts resolved at or after the cutoff,
// used for SLA compliance math.
func (s *SQLiteAlertStorage) GetResolvedAlertsSince(ctx context.Context, since time.Time) ([]core.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = 'RESOLVED' AND resolved_at >= ?
		ORDER BY resolved_at DESC
	`
	return s.queryAlerts(ctx, query, since)
}

// UpdateAlertEvaluation updates severity, description, and reason codes in
// place while a rule condition keeps firing with changed attributes.
func (s *SQLiteAlertStorage) UpdateAlertEvaluation(ctx context.Context, id string, severity core.AlertSeverity, description string, reasonCodes []string, now time.Time) error {
	reasonsJSON, err := json.Marshal(reasonCodes)
	if err != nil {
		return fmt.Errorf("failed to marshal reason codes: %w", err)
	}
	result, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE alerts SET severity = ?, description = ?, reason_codes = ?, updated_at = ? WHERE id = ?`,
		severity.String(), nullIfEmpty(description), string(reasonsJSON), now, id)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return requireRowAffected(result)
}

// ResolveAlert marks an alert resolved the moment its condition stops holding.
func (s *SQLiteAlertStorage) ResolveAlert(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE alerts SET status = 'RESOLVED', resolved_at = ?, updated_at = ? WHERE id = ? AND status != 'RESOLVED'`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateAlertState persists an operator mutation (status and metadata) with an
// optimistic concurrency check against the updated_at read earlier. A stale
// write returns ErrStaleWrite so the caller can re-read and retry. resolved_at
// tracks the status column: set on entering RESOLVED, cleared on leaving it.
func (s *SQLiteAlertStorage) UpdateAlertState(ctx context.Context, id string, status core.AlertStatus, metadata map[string]interface{}, expectedUpdatedAt, now time.Time) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return s.db.WithTransaction(func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE alerts SET status = ?, metadata = ?, updated_at = ?,
				resolved_at = CASE WHEN ? = 'RESOLVED' THEN COALESCE(resolved_at, ?) ELSE NULL END
			 WHERE id = ? AND updated_at = ?`,
			status.String(), string(metadataJSON), now, status.String(), now, id, expectedUpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update alert state: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check alert existence: %w", err)
		}
		if exists == 0 {
			return ErrAlertNotFound
		}
		return ErrStaleWrite
	})
}

// DeleteResolvedBefore removes resolved alerts older than the cutoff (retention).
func (s *SQLiteAlertStorage) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.WriteDB.ExecContext(ctx,
		`DELETE FROM alerts WHERE status = 'RESOLVED' AND resolved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old resolved alerts: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.Infof("Deleted %d resolved alerts older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// GetAlertCount returns the total number of alert rows.
func (s *SQLiteAlertStorage) GetAlertCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

func (s *SQLiteAlertStorage) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]core.Alert, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]core.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert rows error: %w", err)
	}
	return alerts, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var (
		alert       core.Alert
		description sql.NullString
		reasonsJSON sql.NullString
		resolvedAt  sql.NullTime
		metaJSON    sql.NullString
	)
	err := row.Scan(
		&alert.ID, &alert.Fingerprint, &alert.RuleCode, &alert.Severity,
		&alert.Status, &alert.OrganizationID, &alert.Title, &description,
		&reasonsJSON, &alert.DetectedAt, &resolvedAt, &alert.UpdatedAt, &metaJSON,
	)
	if err != nil {
		return nil, err
	}
	fillAlertOptionals(&alert, description, reasonsJSON, resolvedAt, metaJSON)
	return &alert, nil
}

func fillAlertOptionals(alert *core.Alert, description, reasonsJSON sql.NullString, resolvedAt sql.NullTime, metaJSON sql.NullString) {
	if description.Valid {
		alert.Description = description.String
	}
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		_ = json.Unmarshal([]byte(reasonsJSON.String), &alert.ReasonCodes)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &alert.Metadata)
	}
}

func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
