package script

import (
	"fmt"
	"maps"

	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// NodeDecl is one node declared by a script. Params holds only the values
// the script sets; everything else takes the catalog default.
type NodeDecl struct {
	ID     graph.NodeID
	TypeID string
	Params map[string]any
}

// Design is the result of evaluating a script: nodes in declaration
// order and edges in connection order. Edge.Seq is unused.
type Design struct {
	Nodes []NodeDecl
	Edges []graph.Edge

	index map[graph.NodeID]int
}

func newDesign() *Design {
	return &Design{index: make(map[graph.NodeID]int)}
}

// Node returns the declaration for id.
func (d *Design) Node(id graph.NodeID) (NodeDecl, bool) {
	i, ok := d.index[id]
	if !ok {
		return NodeDecl{}, false
	}
	n := d.Nodes[i]
	n.Params = maps.Clone(n.Params)
	return n, true
}

func (d *Design) declare(id graph.NodeID, typeID string, params map[string]any) error {
	if _, dup := d.index[id]; dup {
		return fmt.Errorf("node %q declared twice", id)
	}
	d.index[id] = len(d.Nodes)
	d.Nodes = append(d.Nodes, NodeDecl{ID: id, TypeID: typeID, Params: params})
	return nil
}

func (d *Design) setParam(id graph.NodeID, name string, v any) error {
	i, ok := d.index[id]
	if !ok {
		return fmt.Errorf("no node named %q", id)
	}
	if d.Nodes[i].Params == nil {
		d.Nodes[i].Params = make(map[string]any)
	}
	d.Nodes[i].Params[name] = v
	return nil
}

func (d *Design) connect(from graph.NodeID, fromPort string, to graph.NodeID, toPort string) error {
	for _, id := range []graph.NodeID{from, to} {
		if _, ok := d.index[id]; !ok {
			return fmt.Errorf("no node named %q", id)
		}
	}
	e := graph.Edge{From: from, FromPort: fromPort, To: to, ToPort: toPort}
	for _, have := range d.Edges {
		if have.Same(e) {
			return fmt.Errorf("%s connected twice", e)
		}
	}
	d.Edges = append(d.Edges, e)
	return nil
}
