// Package ledgerfile provides adapters for ledger persistence.
package ledgerfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/toolbay/toolbay/internal/domain/ledger"
)

// YAMLRepository implements ledger.Repository using YAML files.
type YAMLRepository struct{}

// NewYAMLRepository creates a new YAML-based ledger repository.
func NewYAMLRepository() *YAMLRepository {
	return &YAMLRepository{}
}

// Load reads a ledger from the given path.
func (r *YAMLRepository) Load(_ context.Context, path string) (*ledger.Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledger.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var dto ledger.LedgerDTO
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrLedgerCorrupt, err)
	}

	l, err := ledger.FromDTO(dto)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrLedgerCorrupt, err)
	}

	return l, nil
}

// Save writes a ledger to the given path atomically.
func (r *YAMLRepository) Save(_ context.Context, path string, l *ledger.Ledger) error {
	dto := ledger.ToDTO(l)

	data, err := yaml.Marshal(&dto)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrSaveFailed, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %w", ledger.ErrSaveFailed, err)
	}

	// Write to a temp file first so a crash never leaves a torn ledger.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrSaveFailed, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ledger.ErrSaveFailed, err)
	}

	return nil
}

// Exists returns true if a ledger exists at the given path.
func (r *YAMLRepository) Exists(_ context.Context, path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Ensure YAMLRepository implements ledger.Repository.
var _ ledger.Repository = (*YAMLRepository)(nil)
