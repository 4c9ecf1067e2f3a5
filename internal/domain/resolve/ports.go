package resolve

import (
	"context"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// ManifestSource is the read side of the plugin registry consumed during
// resolution. It is a domain port: the HTTP client implements it in
// production and in-memory fakes implement it in tests.
type ManifestSource interface {
	// FetchManifestList returns the registry's plugin listing.
	FetchManifestList(ctx context.Context) ([]registry.ListEntry, error)

	// FetchPluginDetails returns the full manifest for a plugin id,
	// failing with a registry.NotFoundError for unknown ids.
	FetchPluginDetails(ctx context.Context, id registry.PluginID) (*registry.Manifest, error)
}

// InstalledView reports what is currently installed. The ledger implements
// it; resolution uses it only to annotate nodes, never to prune traversal.
type InstalledView interface {
	// Has returns true if the plugin id is installed.
	Has(id registry.PluginID) bool

	// InstalledVersion returns the installed version for an id.
	InstalledVersion(id registry.PluginID) (registry.Version, bool)
}
