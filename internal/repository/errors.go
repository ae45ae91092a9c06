// Package repository persists orders, workshop sessions, reservations, gift
// cards and ledger entries in MySQL.  Its sentinel errors are shared with the
// in-memory store so that the service layer can distinguish failure modes
// without knowing which backend it runs on.
package repository

import "errors"

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert collides with a unique key,
// most importantly a ledger idempotency key that is already committed.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrVersionConflict is returned when an UPDATE guarded by a version
// counter matched no row because another writer committed first.
var ErrVersionConflict = errors.New("version conflict")
