// Package core defines the fundamental types and errors for Daygrid.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Connection errors
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionInactive = errors.New("connection is not active")
	ErrCredentialNotFound = errors.New("credentials not found")
	ErrCredentialExpired  = errors.New("credentials expired, re-authentication required")
	ErrDecryptionFailed   = errors.New("credential decryption failed")

	// Registry errors
	ErrExternalItemNotFound = errors.New("external item not found")
	ErrDuplicateLink        = errors.New("external id already linked to a different entity")
	ErrStaleWrite           = errors.New("stale write: version mismatch")

	// Job errors
	ErrJobNotFound    = errors.New("sync job not found")
	ErrJobImmutable   = errors.New("job is in a terminal state")
	ErrInvalidPayload = errors.New("malformed job payload")

	// Local entity errors
	ErrTaskNotFound  = errors.New("task not found")
	ErrEventNotFound = errors.New("event not found")

	// Storage errors
	ErrRecordNotFound  = errors.New("record not found")
	ErrMigrationFailed = errors.New("migration failed")
)
