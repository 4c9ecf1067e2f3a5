package ledgerfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbay/toolbay/internal/domain/ledger"
	"github.com/toolbay/toolbay/internal/domain/registry"
)

func testEntry(id, version string) ledger.Entry {
	return ledger.Entry{
		Manifest: registry.Manifest{
			ID:      registry.MustNewPluginID(id),
			Name:    id,
			Version: registry.NewVersion(version),
			Dependencies: []registry.DeclaredDependency{
				{ID: registry.MustNewPluginID("cell-db"), Version: registry.NewVersion("3.2.0")},
			},
		},
		InstalledVersion: registry.NewVersion(version),
		InstalledAt:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Enabled:          true,
	}
}

func TestYAMLRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		repo := NewYAMLRepository()
		path := filepath.Join(t.TempDir(), "ledger.yaml")

		original := ledger.NewLedger()
		require.NoError(t, original.Add(testEntry("battery-analyzer", "2.1.0")))
		require.NoError(t, original.Add(testEntry("charge-curves", "1.0.0")))

		require.NoError(t, repo.Save(ctx, path, original))
		assert.True(t, repo.Exists(ctx, path))

		loaded, err := repo.Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Count())

		entries := loaded.List()
		assert.Equal(t, "battery-analyzer", entries[0].ID().String())
		assert.Equal(t, "charge-curves", entries[1].ID().String())
		assert.Equal(t, "2.1.0", entries[0].InstalledVersion.String())
		assert.True(t, entries[0].Enabled)
		require.Len(t, entries[0].Manifest.Dependencies, 1)
		assert.Equal(t, "cell-db", entries[0].Manifest.Dependencies[0].ID.String())
	})

	t.Run("missing file", func(t *testing.T) {
		repo := NewYAMLRepository()
		path := filepath.Join(t.TempDir(), "nope.yaml")

		_, err := repo.Load(ctx, path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrLedgerNotFound)
		assert.False(t, repo.Exists(ctx, path))
	})

	t.Run("corrupt file", func(t *testing.T) {
		repo := NewYAMLRepository()
		path := filepath.Join(t.TempDir(), "ledger.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0o644))

		_, err := repo.Load(ctx, path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrLedgerCorrupt)
	})

	t.Run("invalid entry id is corrupt", func(t *testing.T) {
		repo := NewYAMLRepository()
		path := filepath.Join(t.TempDir(), "ledger.yaml")
		content := "version: 1\nentries:\n  - id: \"Not Valid\"\n    version: 1.0.0\n    installed_version: 1.0.0\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		_, err := repo.Load(ctx, path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrLedgerCorrupt)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		repo := NewYAMLRepository()
		path := filepath.Join(t.TempDir(), "nested", "deeper", "ledger.yaml")

		l := ledger.NewLedger()
		require.NoError(t, l.Add(testEntry("battery-analyzer", "2.1.0")))
		require.NoError(t, repo.Save(ctx, path, l))
		assert.True(t, repo.Exists(ctx, path))
	})

	t.Run("save leaves no temp file behind", func(t *testing.T) {
		repo := NewYAMLRepository()
		dir := t.TempDir()
		path := filepath.Join(dir, "ledger.yaml")

		require.NoError(t, repo.Save(ctx, path, ledger.NewLedger()))

		files, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "ledger.yaml", files[0].Name())
	})
}
