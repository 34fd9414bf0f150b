package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Customer errors
	ErrCustomerNotFound = errors.New("customer not found")
	ErrCustomerExists   = errors.New("customer already exists")

	// Invoice errors
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvoiceExists   = errors.New("invoice already exists")

	// Concurrency errors
	ErrVersionConflict = errors.New("invoice modified concurrently")

	// Channel errors
	ErrUnknownChannel = errors.New("unknown contact channel")
)
