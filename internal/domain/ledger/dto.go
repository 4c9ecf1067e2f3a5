package ledger

import (
	"fmt"
	"time"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// LedgerFileVersion is the current ledger file format version.
const LedgerFileVersion = 1

// LedgerDTO is the serialized shape of a Ledger.
//
//nolint:revive // Name mirrors the aggregate it serializes
type LedgerDTO struct {
	Version int        `yaml:"version"`
	Entries []EntryDTO `yaml:"entries"`
}

// EntryDTO is the serialized shape of one installed plugin.
type EntryDTO struct {
	ID               string          `yaml:"id"`
	Name             string          `yaml:"name"`
	Version          string          `yaml:"version"`
	InstalledVersion string          `yaml:"installed_version"`
	InstalledAt      time.Time       `yaml:"installed_at"`
	Enabled          bool            `yaml:"enabled"`
	Description      string          `yaml:"description,omitempty"`
	DownloadURL      string          `yaml:"download_url,omitempty"`
	SizeBytes        int64           `yaml:"size_bytes,omitempty"`
	Checksum         string          `yaml:"checksum,omitempty"`
	Dependencies     []DependencyDTO `yaml:"dependencies,omitempty"`
}

// DependencyDTO is the serialized shape of one declared dependency.
type DependencyDTO struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version,omitempty"`
}

// ToDTO converts a Ledger to its serialized shape, in first-install order.
func ToDTO(l *Ledger) LedgerDTO {
	dto := LedgerDTO{Version: LedgerFileVersion}
	for _, entry := range l.List() {
		m := entry.Manifest
		entryDTO := EntryDTO{
			ID:               m.ID.String(),
			Name:             m.Name,
			Version:          m.Version.String(),
			InstalledVersion: entry.InstalledVersion.String(),
			InstalledAt:      entry.InstalledAt,
			Enabled:          entry.Enabled,
			Description:      m.Description,
			DownloadURL:      m.DownloadURL,
			SizeBytes:        m.SizeBytes,
			Checksum:         m.Checksum,
		}
		for _, dep := range m.Dependencies {
			entryDTO.Dependencies = append(entryDTO.Dependencies, DependencyDTO{
				ID:      dep.ID.String(),
				Version: dep.Version.String(),
			})
		}
		dto.Entries = append(dto.Entries, entryDTO)
	}
	return dto
}

// FromDTO reconstructs a Ledger from its serialized shape, validating every
// plugin id on the way in.
func FromDTO(dto LedgerDTO) (*Ledger, error) {
	l := NewLedger()
	for _, entryDTO := range dto.Entries {
		id, err := registry.NewPluginID(entryDTO.ID)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entryDTO.ID, err)
		}

		manifest := registry.Manifest{
			ID:          id,
			Name:        entryDTO.Name,
			Version:     registry.NewVersion(entryDTO.Version),
			Description: entryDTO.Description,
			DownloadURL: entryDTO.DownloadURL,
			SizeBytes:   entryDTO.SizeBytes,
			Checksum:    entryDTO.Checksum,
		}
		for _, depDTO := range entryDTO.Dependencies {
			depID, err := registry.NewPluginID(depDTO.ID)
			if err != nil {
				return nil, fmt.Errorf("entry %q dependency %q: %w", entryDTO.ID, depDTO.ID, err)
			}
			manifest.Dependencies = append(manifest.Dependencies, registry.DeclaredDependency{
				ID:      depID,
				Version: registry.NewVersion(depDTO.Version),
			})
		}

		entry := Entry{
			Manifest:         manifest,
			InstalledVersion: registry.NewVersion(entryDTO.InstalledVersion),
			InstalledAt:      entryDTO.InstalledAt,
			Enabled:          entryDTO.Enabled,
		}
		if err := l.Add(entry); err != nil {
			return nil, err
		}
	}
	return l, nil
}
