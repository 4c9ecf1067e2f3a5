package registry

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// ErrRegistryUnavailable indicates the registry could not be reached.
	ErrRegistryUnavailable = errors.New("registry unavailable")
	// ErrNotFound indicates the registry does not know the requested plugin.
	ErrNotFound = errors.New("plugin not found")
	// ErrUnauthorized indicates the registry rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates the registry throttled the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrServerError indicates the registry failed internally.
	ErrServerError = errors.New("registry server error")
)

// NotFoundError reports an unknown plugin id, and the plugin that required
// it when the miss was discovered during dependency traversal.
type NotFoundError struct {
	ID         PluginID
	RequiredBy PluginID
}

func (e *NotFoundError) Error() string {
	if !e.RequiredBy.IsZero() {
		return fmt.Sprintf("plugin %q not found (required by %q)", e.ID, e.RequiredBy)
	}
	return fmt.Sprintf("plugin %q not found", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsNotFound returns true if the error indicates an unknown plugin id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if the error indicates the registry could not
// be reached at all.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRegistryUnavailable)
}
