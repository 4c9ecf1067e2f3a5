// Package backend provides the installation backend that transfers,
// verifies, and stores plugin packages.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toolbay/toolbay/internal/domain/install"
	"github.com/toolbay/toolbay/internal/domain/registry"
)

// ArchiveSource is the registry surface the backend downloads from.
type ArchiveSource interface {
	FetchArchive(ctx context.Context, id registry.PluginID, version registry.Version) ([]byte, error)
}

// ArchiveBackend downloads plugin archives from the registry, verifies
// their declared checksum, and stores archive plus manifest snapshot under
// the plugins directory for the host runtime to load.
type ArchiveBackend struct {
	source ArchiveSource
	dir    string
}

// NewArchiveBackend creates a backend storing plugins under dir.
func NewArchiveBackend(source ArchiveSource, dir string) *ArchiveBackend {
	return &ArchiveBackend{
		source: source,
		dir:    dir,
	}
}

// Download transfers the package archive for a manifest.
func (b *ArchiveBackend) Download(ctx context.Context, m *registry.Manifest) ([]byte, error) {
	data, err := b.source.FetchArchive(ctx, m.ID, m.Version)
	if err != nil {
		return nil, &install.DownloadFailedError{ID: m.ID, Err: err}
	}
	return data, nil
}

// Install verifies the archive against the manifest's checksum and stores
// it in the plugin's directory alongside a manifest snapshot.
func (b *ArchiveBackend) Install(_ context.Context, m *registry.Manifest, data []byte) error {
	if m.Checksum != "" {
		if err := verifyChecksum(data, m.Checksum); err != nil {
			return &install.VerificationFailedError{ID: m.ID, Reason: err.Error()}
		}
	}

	pluginDir := filepath.Join(b.dir, m.ID.String())
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return &install.BackendRejectedError{ID: m.ID, Reason: err.Error()}
	}

	archivePath := filepath.Join(pluginDir, fmt.Sprintf("%s-%s.tar.gz", m.ID, m.Version))
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return &install.BackendRejectedError{ID: m.ID, Reason: err.Error()}
	}

	manifestData, err := yaml.Marshal(m)
	if err != nil {
		return &install.BackendRejectedError{ID: m.ID, Reason: err.Error()}
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), manifestData, 0o644); err != nil {
		return &install.BackendRejectedError{ID: m.ID, Reason: err.Error()}
	}

	return nil
}

// Remove deletes a plugin's directory on uninstall.
func (b *ArchiveBackend) Remove(id registry.PluginID) error {
	return os.RemoveAll(filepath.Join(b.dir, id.String()))
}

// verifyChecksum checks data against a hex-encoded SHA256 hash. Only the
// pass/fail outcome is reported; key management and signatures live with
// the host's trust infrastructure.
func verifyChecksum(data []byte, expected string) error {
	expected = strings.ToLower(strings.TrimPrefix(strings.ToLower(expected), "sha256:"))
	if len(expected) != 64 {
		return fmt.Errorf("invalid checksum length: expected 64 hex characters, got %d", len(expected))
	}

	hash := sha256.Sum256(data)
	actual := hex.EncodeToString(hash[:])
	if actual != expected {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// Ensure ArchiveBackend implements install.Backend.
var _ install.Backend = (*ArchiveBackend)(nil)
