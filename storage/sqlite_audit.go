package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRecord is one append-only audit log entry
type AuditRecord struct {
	ID             string                 `json:"id"`
	ActorID        string                 `json:"actor_id"`
	Action         string                 `json:"action"`
	Details        map[string]interface{} `json:"details,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// SQLiteAuditStorage is the append-only audit sink
type SQLiteAuditStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAuditStorage creates a new SQLite audit storage handler
func NewSQLiteAuditStorage(db *SQLite, logger *zap.SugaredLogger) (*SQLiteAuditStorage, error) {
	s := &SQLiteAuditStorage{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}
	return s, nil
}

func (s *SQLiteAuditStorage) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,             -- JSON document
		organization_id TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC);
	`
	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}
	return nil
}

// Record appends an audit entry. Append-only; there is no update or delete.
func (s *SQLiteAuditStorage) Record(ctx context.Context, actorID, action string, details map[string]interface{}, organizationID string) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}
	_, err = s.db.WriteDB.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action, details, organization_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), actorID, action, string(detailsJSON), nullIfEmpty(organizationID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// LastByAction returns the most recent audit entry for an action, or nil.
func (s *SQLiteAuditStorage) LastByAction(ctx context.Context, action string) (*AuditRecord, error) {
	row := s.db.ReadDB.QueryRowContext(ctx,
		`SELECT id, actor_id, action, details, organization_id, created_at
		 FROM audit_log WHERE action = ? ORDER BY created_at DESC LIMIT 1`, action)

	var (
		record      AuditRecord
		detailsJSON sql.NullString
		orgID       sql.NullString
	)
	err := row.Scan(&record.ID, &record.ActorID, &record.Action, &detailsJSON, &orgID, &record.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last audit record: %w", err)
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		_ = json.Unmarshal([]byte(detailsJSON.String), &record.Details)
	}
	if orgID.Valid {
		record.OrganizationID = orgID.String
	}
	return &record, nil
}
