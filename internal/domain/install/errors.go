package install

import (
	"errors"
	"fmt"
	"strings"

	"github.com/toolbay/toolbay/internal/domain/registry"
	"github.com/toolbay/toolbay/internal/domain/resolve"
)

// ErrCancelled indicates the executor was cancelled between install steps.
var ErrCancelled = errors.New("installation cancelled")

// AlreadyInstalledError indicates the requested plugin is already in the
// ledger. Resolution is short-circuited before any registry call is made.
type AlreadyInstalledError struct {
	ID registry.PluginID
}

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("plugin %q is already installed", e.ID)
}

// IsAlreadyInstalled returns true if the error reports an already-installed
// plugin.
func IsAlreadyInstalled(err error) bool {
	var installedErr *AlreadyInstalledError
	return errors.As(err, &installedErr)
}

// CycleError blocks installation because the dependency graph contains one
// or more cycles.
type CycleError struct {
	Cycles []resolve.Cycle
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = c.String()
	}
	return fmt.Sprintf("dependency cycle(s) detected: %s", strings.Join(parts, "; "))
}

// ConflictError blocks installation because dependents disagree on the
// version of one or more shared dependencies.
type ConflictError struct {
	Conflicts []resolve.Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("version conflict(s) detected: %s", strings.Join(parts, "; "))
}

// MissingDependencyError blocks installation because the registry does not
// know one or more dependency ids in the closure.
type MissingDependencyError struct {
	Missing []resolve.MissingDependency
}

func (e *MissingDependencyError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		if m.RequiredBy.IsZero() {
			parts[i] = m.ID.String()
		} else {
			parts[i] = fmt.Sprintf("%s (required by %s)", m.ID, m.RequiredBy)
		}
	}
	return fmt.Sprintf("unknown dependencies: %s", strings.Join(parts, ", "))
}

func (e *MissingDependencyError) Unwrap() error {
	return registry.ErrNotFound
}

// DownloadFailedError indicates the package transfer for one plugin failed.
type DownloadFailedError struct {
	ID  registry.PluginID
	Err error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download failed for %s: %v", e.ID, e.Err)
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}

// VerificationFailedError indicates the downloaded package did not pass the
// installation backend's integrity check.
type VerificationFailedError struct {
	ID     registry.PluginID
	Reason string
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s", e.ID, e.Reason)
}

// BackendRejectedError indicates the installation backend refused or failed
// to register the plugin.
type BackendRejectedError struct {
	ID     registry.PluginID
	Reason string
}

func (e *BackendRejectedError) Error() string {
	return fmt.Sprintf("backend rejected %s: %s", e.ID, e.Reason)
}

// InvalidStateError indicates an operation was requested in a state that
// does not permit it.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}
