package registry

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// DeclaredDependency is one direct dependency declared by a manifest.
// The version is the exact release the dependent was built against; it may
// be empty when the dependent accepts whatever the registry currently lists.
type DeclaredDependency struct {
	ID      PluginID `json:"id" yaml:"id"`
	Version Version  `json:"version,omitempty" yaml:"version,omitempty"`
}

// Manifest is the declared metadata for one plugin version, including its
// direct dependencies. A manifest is immutable once fetched.
type Manifest struct {
	ID           PluginID             `json:"id" yaml:"id"`
	Name         string               `json:"name" yaml:"name"`
	Version      Version              `json:"version" yaml:"version"`
	Description  string               `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string               `json:"author,omitempty" yaml:"author,omitempty"`
	Homepage     string               `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Dependencies []DeclaredDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DownloadURL  string               `json:"download_url,omitempty" yaml:"download_url,omitempty"`
	SizeBytes    int64                `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Checksum     string               `json:"checksum,omitempty" yaml:"checksum,omitempty"` // SHA256 hex
}

// ListEntry is one row of the registry's plugin listing.
type ListEntry struct {
	ID          PluginID `json:"id"`
	Name        string   `json:"name"`
	Version     Version  `json:"version"`
	Description string   `json:"description,omitempty"`
}

// String returns a human-readable plugin description.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s@%s", m.ID, m.Version)
}

// Clone creates a deep copy of the Manifest.
func (m Manifest) Clone() Manifest {
	clone := m
	if m.Dependencies != nil {
		clone.Dependencies = make([]DeclaredDependency, len(m.Dependencies))
		copy(clone.Dependencies, m.Dependencies)
	}
	return clone
}

// ValidateManifest checks the structural requirements of a fetched manifest.
// Version strings are opaque tokens, so only their presence is required here.
func ValidateManifest(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest cannot be nil")
	}
	if m.ID.IsZero() {
		return fmt.Errorf("%w: manifest has no id", ErrInvalidPluginID)
	}
	if m.Version.IsZero() {
		return fmt.Errorf("%w: manifest %s has no version", ErrInvalidVersion, m.ID)
	}
	for i, dep := range m.Dependencies {
		if dep.ID.IsZero() {
			return fmt.Errorf("%w: dependency %d of %s has no id", ErrInvalidPluginID, i, m.ID)
		}
		if dep.ID.Equals(m.ID) {
			return fmt.Errorf("%w: %s declares itself as a dependency", ErrInvalidPluginID, m.ID)
		}
	}
	return nil
}

// CompareVersions orders two versions for presentation and for the
// installed-but-outdated annotation. Semver ordering is used when both
// versions parse as semver; otherwise they fall back to lexical order.
// Conflict detection never calls this: whether two requirements agree is
// always decided by exact string equality.
func CompareVersions(a, b Version) int {
	av := normalizeSemver(a.String())
	bv := normalizeSemver(b.String())
	if semver.IsValid(av) && semver.IsValid(bv) {
		return semver.Compare(av, bv)
	}
	return strings.Compare(a.String(), b.String())
}

// normalizeSemver adds the leading v that x/mod/semver expects.
func normalizeSemver(s string) string {
	if s == "" || strings.HasPrefix(s, "v") {
		return s
	}
	return "v" + s
}
