package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolbay/toolbay/internal/domain/registry"
	"github.com/toolbay/toolbay/internal/ports"
)

// DefaultPrefetch is the default bound on concurrent sibling manifest
// fetches during traversal.
const DefaultPrefetch = 4

// GraphBuilder traverses the dependency closure of a root plugin, producing
// nodes, edges, detected cycles, and detected version conflicts.
type GraphBuilder struct {
	source    ManifestSource
	installed InstalledView
	prefetch  int
	logger    ports.Logger
}

// BuilderOption configures a GraphBuilder.
type BuilderOption func(*GraphBuilder)

// WithInstalledView annotates nodes with installed state from the ledger.
func WithInstalledView(view InstalledView) BuilderOption {
	return func(b *GraphBuilder) {
		b.installed = view
	}
}

// WithPrefetch bounds concurrent sibling manifest fetches.
func WithPrefetch(n int) BuilderOption {
	return func(b *GraphBuilder) {
		b.prefetch = n
	}
}

// WithLogger sets the logger used during traversal.
func WithLogger(logger ports.Logger) BuilderOption {
	return func(b *GraphBuilder) {
		b.logger = logger
	}
}

// NewGraphBuilder creates a GraphBuilder reading manifests from the given
// source.
func NewGraphBuilder(source ManifestSource, opts ...BuilderOption) *GraphBuilder {
	b := &GraphBuilder{
		source:   source,
		prefetch: DefaultPrefetch,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve builds the dependency closure of rootID. The version parameter is
// optional; when set it names the release the caller asked for and is
// checked against what the registry serves for the root.
//
// Resolve fails only when the registry cannot be reached or serves invalid
// data. Cycles, version conflicts, and unknown dependency ids do not fail
// resolution: they are recorded on the result so the caller can inspect
// everything that blocks installation at once.
func (b *GraphBuilder) Resolve(ctx context.Context, rootID registry.PluginID, version registry.Version) (*ResolutionResult, error) {
	if rootID.IsZero() {
		return nil, fmt.Errorf("%w: root id cannot be empty", registry.ErrInvalidPluginID)
	}

	t := &traversal{
		builder: b,
		cache:   newManifestCache(b.source, b.prefetch),
		visited: make(map[registry.PluginID]bool),
		result: &ResolutionResult{
			Root:      rootID,
			manifests: make(map[registry.PluginID]*registry.Manifest),
			nodeIndex: make(map[registry.PluginID]int),
		},
		requirements: make(map[registry.PluginID]*requirementSet),
	}

	if err := t.visit(ctx, rootID, nil, 0, registry.PluginID{}); err != nil {
		return nil, err
	}

	if root, ok := t.result.manifests[rootID]; ok && !version.IsZero() && !root.Version.Equals(version) {
		return nil, fmt.Errorf("%w: registry lists %s at %s, not %s",
			registry.ErrNotFound, rootID, root.Version, version)
	}

	t.collectConflicts()

	if !t.result.HasErrors() {
		order, err := Plan(t.result)
		if err != nil {
			return nil, err
		}
		t.result.InstallOrder = order
	}

	if b.logger != nil {
		b.logger.Debug(ctx, "resolution complete",
			ports.F("root", rootID.String()),
			ports.F("nodes", len(t.result.Nodes)),
			ports.F("cycles", len(t.result.Cycles)),
			ports.F("conflicts", len(t.result.Conflicts)),
			ports.F("missing", len(t.result.Missing)))
	}

	return t.result, nil
}

// traversal holds the shared accumulators of one Resolve call. The active
// path is never stored here: each visit frame owns its own copy, so deeper
// frames cannot alias a sibling's path.
type traversal struct {
	builder *GraphBuilder
	cache   *manifestCache
	visited map[registry.PluginID]bool
	result  *ResolutionResult

	requirements     map[registry.PluginID]*requirementSet
	requirementOrder []registry.PluginID
}

// requirementSet accumulates every version each dependent requested of one
// dependency id, in first-request order.
type requirementSet struct {
	versions     []registry.Version
	seenVersions map[registry.Version]bool
	requiredBy   []registry.PluginID
	seenBy       map[registry.PluginID]bool
}

// visit processes one plugin id reached at the given depth. path holds the
// ids on the active chain from the root up to (excluding) id.
func (t *traversal) visit(ctx context.Context, id registry.PluginID, path []registry.PluginID, depth int, requiredBy registry.PluginID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A repeat on the active chain closes a cycle. The edge was already
	// recorded by the dependent; the branch is not re-expanded.
	if i := indexOf(path, id); i >= 0 {
		cycle := make(Cycle, 0, len(path)-i+1)
		cycle = append(cycle, path[i:]...)
		cycle = append(cycle, id)
		t.result.Cycles = append(t.result.Cycles, cycle)
		return nil
	}

	// Reached again via a different path: raise the node's level to the
	// deepest discovery but do not re-traverse its dependencies.
	if t.visited[id] {
		if idx, ok := t.result.nodeIndex[id]; ok && depth > t.result.Nodes[idx].Level {
			t.result.Nodes[idx].Level = depth
		}
		return nil
	}
	t.visited[id] = true

	manifest, err := t.cache.get(ctx, id)
	if err != nil {
		var notFound *registry.NotFoundError
		if errors.As(err, &notFound) {
			t.result.Missing = append(t.result.Missing, MissingDependency{
				ID:         id,
				RequiredBy: requiredBy,
			})
			return nil
		}
		return err
	}

	node := DependencyNode{
		ID:      id,
		Version: manifest.Version,
		IsRoot:  depth == 0,
		Level:   depth,
	}
	if view := t.builder.installed; view != nil && view.Has(id) {
		node.IsInstalled = true
		// Annotation only: an installed release older than the registry's is
		// flagged, a newer one (local downgrade of the registry) is not.
		if installed, ok := view.InstalledVersion(id); ok && !installed.Equals(manifest.Version) {
			node.NeedsUpdate = registry.CompareVersions(installed, manifest.Version) < 0
		}
	}
	t.result.nodeIndex[id] = len(t.result.Nodes)
	t.result.Nodes = append(t.result.Nodes, node)
	t.result.manifests[id] = manifest
	t.result.TotalSize += manifest.SizeBytes

	if len(manifest.Dependencies) > 1 {
		siblings := make([]registry.PluginID, 0, len(manifest.Dependencies))
		for _, dep := range manifest.Dependencies {
			if !t.visited[dep.ID] {
				siblings = append(siblings, dep.ID)
			}
		}
		t.cache.prefetch(ctx, siblings)
	}

	for _, dep := range manifest.Dependencies {
		t.recordRequirement(dep, id)
		t.result.Edges = append(t.result.Edges, DependencyEdge{From: id, To: dep.ID})

		childPath := make([]registry.PluginID, 0, len(path)+1)
		childPath = append(childPath, path...)
		childPath = append(childPath, id)

		if err := t.visit(ctx, dep.ID, childPath, depth+1, id); err != nil {
			return err
		}
	}

	return nil
}

// recordRequirement notes that dependent requested dep.Version of dep.ID.
// Unversioned requirements add no version and so can never conflict.
func (t *traversal) recordRequirement(dep registry.DeclaredDependency, dependent registry.PluginID) {
	if dep.Version.IsZero() {
		return
	}

	set, ok := t.requirements[dep.ID]
	if !ok {
		set = &requirementSet{
			seenVersions: make(map[registry.Version]bool),
			seenBy:       make(map[registry.PluginID]bool),
		}
		t.requirements[dep.ID] = set
		t.requirementOrder = append(t.requirementOrder, dep.ID)
	}

	if !set.seenVersions[dep.Version] {
		set.seenVersions[dep.Version] = true
		set.versions = append(set.versions, dep.Version)
	}
	if !set.seenBy[dependent] {
		set.seenBy[dependent] = true
		set.requiredBy = append(set.requiredBy, dependent)
	}
}

// collectConflicts turns every dependency id requested at two or more
// distinct versions into a Conflict entry.
func (t *traversal) collectConflicts() {
	for _, id := range t.requirementOrder {
		set := t.requirements[id]
		if len(set.versions) < 2 {
			continue
		}
		t.result.Conflicts = append(t.result.Conflicts, Conflict{
			DependencyID:     id,
			RequiredVersions: append([]registry.Version(nil), set.versions...),
			RequiredBy:       append([]registry.PluginID(nil), set.requiredBy...),
		})
	}
}

func indexOf(path []registry.PluginID, id registry.PluginID) int {
	for i, p := range path {
		if p.Equals(id) {
			return i
		}
	}
	return -1
}
