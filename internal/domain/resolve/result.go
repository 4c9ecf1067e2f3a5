// Package resolve builds the transitive dependency graph of a plugin and
// plans a safe installation order over it.
package resolve

import (
	"fmt"
	"strings"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// DependencyNode is one plugin in the dependency closure. There is at most
// one node per plugin id per resolution; only the manifest's declared
// version is recorded for that id.
type DependencyNode struct {
	ID          registry.PluginID
	Version     registry.Version
	IsRoot      bool
	IsInstalled bool
	NeedsUpdate bool
	// Level is the maximum depth at which the id was reached across all
	// discovery paths. It is presentation layering only and never feeds
	// correctness decisions.
	Level int
}

// DependencyEdge is a directed relation meaning "dependent requires
// dependency".
type DependencyEdge struct {
	From registry.PluginID // the dependent
	To   registry.PluginID // the dependency
}

// Cycle is a dependency chain that loops back on itself. Its first and last
// elements are always equal.
type Cycle []registry.PluginID

// String renders the cycle as a -> b -> a.
func (c Cycle) String() string {
	parts := make([]string, len(c))
	for i, id := range c {
		parts[i] = id.String()
	}
	return strings.Join(parts, " -> ")
}

// Conflict reports a dependency id that two or more dependents require at
// different versions. Both slices are in first-request order.
type Conflict struct {
	DependencyID     registry.PluginID
	RequiredVersions []registry.Version
	RequiredBy       []registry.PluginID
}

func (c Conflict) String() string {
	versions := make([]string, len(c.RequiredVersions))
	for i, v := range c.RequiredVersions {
		versions[i] = v.String()
	}
	dependents := make([]string, len(c.RequiredBy))
	for i, id := range c.RequiredBy {
		dependents[i] = id.String()
	}
	return fmt.Sprintf("%s required at versions %s by %s",
		c.DependencyID, strings.Join(versions, ", "), strings.Join(dependents, ", "))
}

// MissingDependency reports a dependency id the registry does not know,
// together with the dependent that declared it.
type MissingDependency struct {
	ID         registry.PluginID
	RequiredBy registry.PluginID
}

// ResolutionResult is the outcome of resolving one root plugin. It is
// transient: recomputed on each resolve request and never mutated after
// construction. All slices are in first-discovery order, so resolving the
// same root twice against an unchanged registry yields identical results.
type ResolutionResult struct {
	Root      registry.PluginID
	Nodes     []DependencyNode
	Edges     []DependencyEdge
	Cycles    []Cycle
	Conflicts []Conflict
	Missing   []MissingDependency
	// InstallOrder is set only when Cycles, Conflicts, and Missing are all
	// empty. Dependencies appear strictly before their dependents.
	InstallOrder []registry.PluginID
	// TotalSize is the sum of the per-plugin download sizes in bytes.
	TotalSize int64

	manifests map[registry.PluginID]*registry.Manifest
	nodeIndex map[registry.PluginID]int
}

// HasErrors returns true if anything blocks installation.
func (r *ResolutionResult) HasErrors() bool {
	return len(r.Cycles) > 0 || len(r.Conflicts) > 0 || len(r.Missing) > 0
}

// Node returns the node for a plugin id, if it is part of the closure.
func (r *ResolutionResult) Node(id registry.PluginID) (DependencyNode, bool) {
	idx, ok := r.nodeIndex[id]
	if !ok {
		return DependencyNode{}, false
	}
	return r.Nodes[idx], true
}

// Manifest returns the fetched manifest for a plugin id in the closure.
func (r *ResolutionResult) Manifest(id registry.PluginID) (*registry.Manifest, bool) {
	m, ok := r.manifests[id]
	return m, ok
}
