package ledger

import "context"

// Repository defines the interface for durable ledger storage. It is read
// once at startup to seed "already installed" checks and written on every
// install-state change, so a crash mid-installation leaves the stored
// ledger reflecting exactly the steps that completed.
type Repository interface {
	// Load reads the ledger from the given path.
	// Returns ErrLedgerNotFound if no ledger exists there yet.
	Load(ctx context.Context, path string) (*Ledger, error)

	// Save writes the ledger to the given path.
	Save(ctx context.Context, path string, l *Ledger) error

	// Exists returns true if a ledger exists at the given path.
	Exists(ctx context.Context, path string) bool
}
