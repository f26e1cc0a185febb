// Package common defines sentinel errors shared by the local store, the
// remote gateway, the reconciler and the CLI. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate id")
	ErrInvalidTask = errors.New("invalid task")

	// Remote errors. Everything the gateway cannot classify is returned wrapped.
	ErrUnavailable  = errors.New("remote unavailable")
	ErrUnauthorized = errors.New("unauthorized")

	// Session errors.
	ErrNoSession    = errors.New("no active session")
	ErrInvalidToken = errors.New("invalid token")

	// Sync flow control.
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrSyncIncomplete = errors.New("sync incomplete")

	// Backup is not configured.
	ErrBackupDisabled = errors.New("backup disabled")
)
