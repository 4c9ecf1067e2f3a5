package install

import (
	"context"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// Backend performs the transfer, integrity verification, and registration
// of one plugin. The executor treats it as opaque per-step work with an
// error outcome; integrity policy itself lives behind this port.
type Backend interface {
	// Download transfers the package archive for a manifest.
	Download(ctx context.Context, m *registry.Manifest) ([]byte, error)

	// Install verifies and registers a downloaded package.
	Install(ctx context.Context, m *registry.Manifest, data []byte) error
}
