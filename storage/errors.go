package storage

import "errors"

// Storage error constants
var (
	// ErrAlertNotFound is returned when a fingerprint does not resolve to an alert
	ErrAlertNotFound = errors.New("alert not found")

	// ErrOrganizationNotFound is returned when an organization is not found
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrDuplicateFingerprint is returned when a second non-resolved alert
	// would share a fingerprint
	ErrDuplicateFingerprint = errors.New("active alert with this fingerprint already exists")

	// ErrStaleWrite is returned when an optimistic concurrency check fails
	// because the row changed since it was read
	ErrStaleWrite = errors.New("alert was modified concurrently")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")
)
