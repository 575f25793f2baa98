package dag

import (
	"fmt"
	"sort"
	"strings"
)

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*vertex),
	}
}

// AddNode adds a node. Adding an existing ID is a no-op.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &vertex{
		id:         id,
		deps:       make(map[string]*vertex),
		dependents: make(map[string]*vertex),
	}
}

// AddEdge records that toID waits for fromID. Both nodes must exist.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the sorted IDs of the nodes the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted IDs of the nodes that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.dependents), nil
}

// Order returns the node IDs in dependency order. Among nodes that are ready
// at the same time the smaller ID comes first, so the order is stable. A
// cycle is an error naming its path.
func (g *Graph) Order() ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	pending := make(map[string]int, len(g.nodes))
	var ready []string
	for id, n := range g.nodes {
		pending[id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		delete(pending, id)

		var released []string
		for _, next := range sortedKeys(g.nodes[id].dependents) {
			pending[next]--
			if pending[next] == 0 {
				released = append(released, next)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	if len(pending) > 0 {
		return nil, g.cycleError(pending)
	}
	return order, nil
}

// DetectCycles returns an error naming a cycle of the graph, if any.
func (g *Graph) DetectCycles() error {
	_, err := g.Order()
	return err
}

// cycleError walks back through unresolved dependencies from the smallest
// unresolved node until a node repeats. Every unresolved node has at least
// one unresolved dependency, so the walk always closes a cycle.
func (g *Graph) cycleError(unresolved map[string]int) error {
	ids := make([]string, 0, len(unresolved))
	for id := range unresolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := map[string]int{}
	var path []string
	for id := ids[0]; ; {
		if at, ok := seen[id]; ok {
			cycle := append(path[at:], id)
			// path follows dependencies backwards; report it in edge order.
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return fmt.Errorf("cycle detected: %s", strings.Join(cycle, " -> "))
		}
		seen[id] = len(path)
		path = append(path, id)
		for _, dep := range sortedKeys(g.nodes[id].deps) {
			if _, ok := unresolved[dep]; ok {
				id = dep
				break
			}
		}
	}
}

func sortedKeys(m map[string]*vertex) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
