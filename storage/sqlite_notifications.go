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

// NotificationRecord is one append-only notification entry awaiting delivery
// by an external dispatcher. Delivery transport is outside this core.
type NotificationRecord struct {
	ID        string                 `json:"id"`
	AlertID   string                 `json:"alert_id"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SQLiteNotificationStorage is the append-only notification sink
type SQLiteNotificationStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteNotificationStorage creates a new SQLite notification storage handler
func NewSQLiteNotificationStorage(db *SQLite, logger *zap.SugaredLogger) (*SQLiteNotificationStorage, error) {
	s := &SQLiteNotificationStorage{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure notifications table: %w", err)
	}
	return s, nil
}

func (s *SQLiteNotificationStorage) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		metadata TEXT,           -- JSON document
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at DESC);
	`
	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}
	return nil
}

// Record appends a notification entry.
func (s *SQLiteNotificationStorage) Record(ctx context.Context, alertID, kind, title, body string, metadata map[string]interface{}) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}
	_, err = s.db.WriteDB.ExecContext(ctx,
		`INSERT INTO notifications (id, alert_id, kind, title, body, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), alertID, kind, title, nullIfEmpty(body), string(metadataJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification record: %w", err)
	}
	return nil
}

// CountSince returns how many notifications were recorded at or after the cutoff.
func (s *SQLiteNotificationStorage) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE created_at >= ?`, since).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}
