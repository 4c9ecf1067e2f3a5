// Package ledger maintains the durable record of installed plugins. It is
// the only state of the plugin subsystem that survives across resolution
// sessions.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// Ledger errors.
var (
	ErrEntryExists    = errors.New("plugin already recorded in ledger")
	ErrEntryNotFound  = errors.New("plugin not found in ledger")
	ErrInvalidEntry   = errors.New("invalid ledger entry")
	ErrLedgerNotFound = errors.New("ledger file not found")
	ErrLedgerCorrupt  = errors.New("ledger file corrupt")
	ErrSaveFailed     = errors.New("failed to save ledger")
)

// Entry records one installed plugin: the manifest it was installed from,
// the installed version, and whether the plugin is currently enabled.
type Entry struct {
	Manifest         registry.Manifest
	InstalledVersion registry.Version
	InstalledAt      time.Time
	Enabled          bool
}

// ID returns the installed plugin's id.
func (e Entry) ID() registry.PluginID {
	return e.Manifest.ID
}

// IsZero returns true if the entry carries no plugin.
func (e Entry) IsZero() bool {
	return e.Manifest.ID.IsZero()
}

// Ledger is the aggregate of installed plugins, unique per plugin id, with
// thread-safe access.
type Ledger struct {
	mu      sync.RWMutex
	entries map[registry.PluginID]Entry
	order   []registry.PluginID
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[registry.PluginID]Entry),
	}
}

// Has returns true if the plugin id is recorded as installed.
func (l *Ledger) Has(id registry.PluginID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// Get returns the entry for a plugin id.
func (l *Ledger) Get(id registry.PluginID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[id]
	return entry, ok
}

// InstalledVersion returns the installed version for a plugin id.
func (l *Ledger) InstalledVersion(id registry.PluginID) (registry.Version, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[id]
	if !ok {
		return registry.Version{}, false
	}
	return entry.InstalledVersion, true
}

// Add records a newly installed plugin. Entries are unique per plugin id:
// adding an id that is already recorded fails with ErrEntryExists.
func (l *Ledger) Add(entry Entry) error {
	if entry.IsZero() {
		return ErrInvalidEntry
	}
	if entry.InstalledVersion.IsZero() {
		return fmt.Errorf("%w: %s has no installed version", ErrInvalidEntry, entry.ID())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := entry.ID()
	if _, exists := l.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrEntryExists, id)
	}
	l.entries[id] = entry
	l.order = append(l.order, id)
	return nil
}

// Remove deletes a plugin from the ledger on uninstall.
// Returns true if the entry was removed, false if it did not exist.
func (l *Ledger) Remove(id registry.PluginID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[id]; !exists {
		return false
	}
	delete(l.entries, id)
	for i, other := range l.order {
		if other.Equals(id) {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// SetEnabled toggles whether an installed plugin is enabled.
func (l *Ledger) SetEnabled(id registry.PluginID, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	entry.Enabled = enabled
	l.entries[id] = entry
	return nil
}

// List returns all entries in first-install order.
func (l *Ledger) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		entries = append(entries, l.entries[id])
	}
	return entries
}

// Count returns the number of installed plugins.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
