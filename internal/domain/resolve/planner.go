package resolve

import (
	"errors"
	"fmt"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// ErrUnresolvable indicates no install order exists for a resolution result.
var ErrUnresolvable = errors.New("install order unresolvable")

// Plan converts an acyclic, conflict-free resolution result into a linear
// installation sequence in which every dependency appears strictly before
// every dependent that references it. Nodes with no ordering constraint
// relative to each other keep their first-discovery order, so the output is
// stable across runs with identical input graphs.
//
// Plan refuses to produce an order while the result carries cycles or
// conflicts: the planner never installs through an unresolved graph.
func Plan(result *ResolutionResult) ([]registry.PluginID, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}
	if len(result.Cycles) > 0 {
		return nil, fmt.Errorf("%w: %d dependency cycle(s) detected", ErrUnresolvable, len(result.Cycles))
	}
	if len(result.Conflicts) > 0 {
		return nil, fmt.Errorf("%w: %d version conflict(s) detected", ErrUnresolvable, len(result.Conflicts))
	}

	// Adjacency in declared-dependency order. Edges to ids outside the node
	// set (unresolved dependencies) carry no install work and are skipped.
	deps := make(map[registry.PluginID][]registry.PluginID, len(result.Nodes))
	for _, edge := range result.Edges {
		if _, ok := result.nodeIndex[edge.To]; !ok {
			continue
		}
		deps[edge.From] = append(deps[edge.From], edge.To)
	}

	order := make([]registry.PluginID, 0, len(result.Nodes))
	placed := make(map[registry.PluginID]bool, len(result.Nodes))

	// Post-order DFS from each node in first-discovery order emits
	// dependencies before dependents with deterministic tie-breaking.
	var place func(id registry.PluginID)
	place = func(id registry.PluginID) {
		if placed[id] {
			return
		}
		placed[id] = true
		for _, dep := range deps[id] {
			place(dep)
		}
		order = append(order, id)
	}

	for _, node := range result.Nodes {
		place(node.ID)
	}

	return order, nil
}
