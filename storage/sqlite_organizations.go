package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opspulse/core"

	"go.uber.org/zap"
)

// SQLiteOrganizationStorage reads the tenant projection the alerting core
// evaluates. Tenant rows are owned by the platform sync jobs; this core only
// reads them, with Upsert kept for seeding and tests.
type SQLiteOrganizationStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteOrganizationStorage creates a new SQLite organization storage handler
func NewSQLiteOrganizationStorage(db *SQLite, logger *zap.SugaredLogger) (*SQLiteOrganizationStorage, error) {
	s := &SQLiteOrganizationStorage{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure organizations table: %w", err)
	}
	return s, nil
}

func (s *SQLiteOrganizationStorage) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		plan TEXT,
		subscription_status TEXT,
		trial_ends_at DATETIME,
		provider_customer_id TEXT,
		last_activity_at DATETIME,
		member_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_organizations_name ON organizations(name);
	`
	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create organizations table: %w", err)
	}
	s.logger.Info("Organizations table ensured in SQLite")
	return nil
}

const organizationColumns = `id, name, created_at, plan, subscription_status,
	trial_ends_at, provider_customer_id, last_activity_at, member_count`

// GetOrganizations returns every tenant with its subscription, activity, and
// member-count projections.
func (s *SQLiteOrganizationStorage) GetOrganizations(ctx context.Context) ([]core.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations ORDER BY created_at ASC`
	rows, err := s.db.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]core.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("organization rows error: %w", err)
	}
	return orgs, nil
}

// GetOrganization returns a single tenant by id.
func (s *SQLiteOrganizationStorage) GetOrganization(ctx context.Context, id string) (*core.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = ?`
	org, err := scanOrganization(s.db.ReadDB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// UpsertOrganization writes a tenant projection row.
func (s *SQLiteOrganizationStorage) UpsertOrganization(ctx context.Context, org *core.Organization) error {
	if org.ID == "" {
		return errors.New("organization ID cannot be empty")
	}

	var (
		subStatus  interface{}
		trialEnds  interface{}
		providerID interface{}
		lastActive interface{}
	)
	if org.Subscription != nil {
		subStatus = org.Subscription.Status.String()
		if org.Subscription.TrialEndsAt != nil {
			trialEnds = *org.Subscription.TrialEndsAt
		}
		providerID = nullIfEmpty(org.Subscription.ProviderCustomerID)
	}
	if org.Stats.LastActivityAt != nil {
		lastActive = *org.Stats.LastActivityAt
	}

	query := `
		INSERT INTO organizations (id, name, created_at, plan, subscription_status,
			trial_ends_at, provider_customer_id, last_activity_at, member_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			plan = excluded.plan,
			subscription_status = excluded.subscription_status,
			trial_ends_at = excluded.trial_ends_at,
			provider_customer_id = excluded.provider_customer_id,
			last_activity_at = excluded.last_activity_at,
			member_count = excluded.member_count
	`
	_, err := s.db.WriteDB.ExecContext(ctx, query,
		org.ID, org.Name, org.CreatedAt, nullIfEmpty(org.Plan),
		subStatus, trialEnds, providerID, lastActive, org.MemberCount)
	if err != nil {
		return fmt.Errorf("failed to upsert organization: %w", err)
	}
	return nil
}

func scanOrganization(row rowScanner) (*core.Organization, error) {
	var (
		org        core.Organization
		plan       sql.NullString
		subStatus  sql.NullString
		trialEnds  sql.NullTime
		providerID sql.NullString
		lastActive sql.NullTime
	)
	err := row.Scan(&org.ID, &org.Name, &org.CreatedAt, &plan, &subStatus,
		&trialEnds, &providerID, &lastActive, &org.MemberCount)
	if err != nil {
		return nil, err
	}
	fillOrganizationOptionals(&org, plan, subStatus, trialEnds, providerID, lastActive)
	return &org, nil
}

func fillOrganizationOptionals(org *core.Organization, plan, subStatus sql.NullString, trialEnds sql.NullTime, providerID sql.NullString, lastActive sql.NullTime) {
	if plan.Valid {
		org.Plan = plan.String
	}
	if subStatus.Valid {
		sub := &core.Subscription{Status: core.SubscriptionStatus(subStatus.String)}
		if trialEnds.Valid {
			t := trialEnds.Time
			sub.TrialEndsAt = &t
		}
		if providerID.Valid {
			sub.ProviderCustomerID = providerID.String
		}
		org.Subscription = sub
	}
	if lastActive.Valid {
		t := lastActive.Time
		org.Stats.LastActivityAt = &t
	}
}
