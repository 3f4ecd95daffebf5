// Package schedule derives evaluation order from the graph. Index keeps
// forward and reverse adjacency in sync with graph changes; Scheduler
// tracks per-node status and hands out ready nodes in insertion order.
// Neither holds kernel state.
package schedule

import (
	"cmp"
	"slices"

	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// Index is node-level adjacency with edge multiplicities, updated
// incrementally from graph.Change values.
type Index struct {
	forward map[graph.NodeID]map[graph.NodeID]int // producer -> consumer -> edges
	reverse map[graph.NodeID]map[graph.NodeID]int // consumer -> producer -> edges
	seq     map[graph.NodeID]uint64
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		forward: make(map[graph.NodeID]map[graph.NodeID]int),
		reverse: make(map[graph.NodeID]map[graph.NodeID]int),
		seq:     make(map[graph.NodeID]uint64),
	}
}

// Build indexes an existing graph from scratch.
func Build(g *graph.Graph) *Index {
	ix := NewIndex()
	for _, n := range g.Nodes() {
		ix.addNode(n.ID, n.Seq)
	}
	for _, e := range g.Edges() {
		ix.addEdge(e)
	}
	return ix
}

// Apply folds one graph mutation into the index. Changes must be applied
// in generation order.
func (ix *Index) Apply(g *graph.Graph, ch graph.Change) {
	for _, id := range ch.AddedNodes {
		n, ok := g.Node(id)
		if ok {
			ix.addNode(id, n.Seq)
		}
	}
	for _, e := range ch.RemovedEdges {
		ix.removeEdge(e)
	}
	for _, id := range ch.RemovedNodes {
		delete(ix.forward, id)
		delete(ix.reverse, id)
		delete(ix.seq, id)
	}
	for _, e := range ch.AddedEdges {
		ix.addEdge(e)
	}
}

func (ix *Index) addNode(id graph.NodeID, seq uint64) {
	ix.seq[id] = seq
}

func (ix *Index) addEdge(e graph.Edge) {
	bump(ix.forward, e.From, e.To, 1)
	bump(ix.reverse, e.To, e.From, 1)
}

func (ix *Index) removeEdge(e graph.Edge) {
	bump(ix.forward, e.From, e.To, -1)
	bump(ix.reverse, e.To, e.From, -1)
}

func bump(m map[graph.NodeID]map[graph.NodeID]int, a, b graph.NodeID, delta int) {
	inner := m[a]
	if inner == nil {
		if delta < 0 {
			return
		}
		inner = make(map[graph.NodeID]int)
		m[a] = inner
	}
	inner[b] += delta
	if inner[b] <= 0 {
		delete(inner, b)
	}
	if len(inner) == 0 {
		delete(m, a)
	}
}

// Has reports whether id is indexed.
func (ix *Index) Has(id graph.NodeID) bool {
	_, ok := ix.seq[id]
	return ok
}

// Len returns the number of indexed nodes.
func (ix *Index) Len() int { return len(ix.seq) }

// Seq returns the insertion sequence of id.
func (ix *Index) Seq(id graph.NodeID) uint64 { return ix.seq[id] }

// Consumers returns the nodes fed by id, in insertion order.
func (ix *Index) Consumers(id graph.NodeID) []graph.NodeID {
	return ix.sorted(ix.forward[id])
}

// Producers returns the nodes feeding id, in insertion order.
func (ix *Index) Producers(id graph.NodeID) []graph.NodeID {
	return ix.sorted(ix.reverse[id])
}

func (ix *Index) sorted(set map[graph.NodeID]int) []graph.NodeID {
	out := make([]graph.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	ix.sortBySeq(out)
	return out
}

func (ix *Index) sortBySeq(ids []graph.NodeID) {
	slices.SortFunc(ids, func(a, b graph.NodeID) int { return cmp.Compare(ix.seq[a], ix.seq[b]) })
}

// DirtySet returns the given nodes plus everything reachable from them
// along forward edges, in insertion order. Unknown ids are skipped.
func (ix *Index) DirtySet(ids ...graph.NodeID) []graph.NodeID {
	seen := make(map[graph.NodeID]bool, len(ids))
	var queue []graph.NodeID
	for _, id := range ids {
		if ix.Has(id) && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for i := 0; i < len(queue); i++ {
		for c := range ix.forward[queue[i]] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	ix.sortBySeq(queue)
	return queue
}
