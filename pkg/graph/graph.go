package graph

import (
	"cmp"
	"slices"

	"github.com/google/uuid"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
)

// Graph holds node instances and edges. It is not safe for concurrent
// use; the engine serializes access.
type Graph struct {
	catalog    *catalog.Catalog
	nodes      map[NodeID]*NodeInstance
	order      []NodeID                    // insertion order
	inbound    map[NodeID]map[string][]Edge // to -> port -> edges, insertion order
	outbound   map[NodeID][]Edge
	generation uint64
	nextSeq    uint64
}

// New returns an empty graph whose nodes are typed by cat.
func New(cat *catalog.Catalog) *Graph {
	return &Graph{
		catalog:  cat,
		nodes:    make(map[NodeID]*NodeInstance),
		inbound:  make(map[NodeID]map[string][]Edge),
		outbound: make(map[NodeID][]Edge),
	}
}

// Catalog returns the catalog the graph was built with.
func (g *Graph) Catalog() *catalog.Catalog { return g.catalog }

// Generation returns the current generation.
func (g *Graph) Generation() uint64 { return g.generation }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id NodeID) (NodeInstance, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return NodeInstance{}, false
	}
	return n.clone(), true
}

// Entry returns the catalog entry for a node.
func (g *Graph) Entry(id NodeID) (*catalog.Entry, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return g.catalog.Lookup(n.TypeID)
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []NodeInstance {
	out := make([]NodeInstance, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Inputs returns the edges feeding a node's input port in insertion order.
func (g *Graph) Inputs(id NodeID, port string) []Edge {
	return slices.Clone(g.inbound[id][port])
}

// Outputs returns every edge leaving a node in insertion order.
func (g *Graph) Outputs(id NodeID) []Edge {
	return slices.Clone(g.outbound[id])
}

// Edges returns all edges ordered by insertion.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, id := range g.order {
		out = append(out, g.outbound[id]...)
	}
	slices.SortFunc(out, func(a, b Edge) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (g *Graph) bump() uint64 {
	g.generation++
	return g.generation
}

func (g *Graph) seq() uint64 {
	g.nextSeq++
	return g.nextSeq
}

// AddNode creates a node of typeID. params override the catalog defaults
// and are coerced to their canonical types.
func (g *Graph) AddNode(typeID string, params map[string]any, opts ...AddOption) (NodeInstance, Change, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	entry, ok := g.catalog.Lookup(typeID)
	if !ok {
		return NodeInstance{}, Change{}, structural("addNode", ErrUnknownType, o.id, "", "%q", typeID)
	}
	id := o.id
	if id.IsZero() {
		id = NodeID(uuid.NewString())
	}
	if _, exists := g.nodes[id]; exists {
		return NodeInstance{}, Change{}, structural("addNode", ErrDuplicateNode, id, "", "")
	}

	resolved := entry.DefaultParams()
	for name, v := range params {
		spec, ok := entry.Param(name)
		if !ok {
			return NodeInstance{}, Change{}, structural("addNode", ErrUnknownParam, id, name, "%s has no param %q", typeID, name)
		}
		cv, err := spec.Coerce(v)
		if err != nil {
			return NodeInstance{}, Change{}, paramError("addNode", id, name, err)
		}
		resolved[name] = cv
	}

	gen := g.bump()
	n := &NodeInstance{ID: id, TypeID: typeID, Params: resolved, Generation: gen, Seq: g.seq()}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return n.clone(), Change{Generation: gen, Affected: []NodeID{id}, AddedNodes: []NodeID{id}}, nil
}

// RemoveNode deletes a node and every edge touching it. The affected set
// is the node's former consumers.
func (g *Graph) RemoveNode(id NodeID) (Change, error) {
	if _, ok := g.nodes[id]; !ok {
		return Change{}, structural("removeNode", ErrNotFound, id, "", "")
	}

	var removed []Edge
	for _, edges := range g.inbound[id] {
		for _, e := range edges {
			g.outbound[e.From] = slices.DeleteFunc(g.outbound[e.From], e.Same)
			removed = append(removed, e)
		}
	}
	var affected []NodeID
	for _, e := range g.outbound[id] {
		g.dropInbound(e)
		removed = append(removed, e)
		if !slices.Contains(affected, e.To) {
			affected = append(affected, e.To)
		}
	}
	slices.SortFunc(removed, func(a, b Edge) int { return cmp.Compare(a.Seq, b.Seq) })

	delete(g.nodes, id)
	delete(g.inbound, id)
	delete(g.outbound, id)
	g.order = slices.DeleteFunc(g.order, func(x NodeID) bool { return x == id })

	gen := g.bump()
	return Change{Generation: gen, Affected: affected, RemovedNodes: []NodeID{id}, RemovedEdges: removed}, nil
}

// Connect adds an edge from an output port to an input port. It rejects
// unknown nodes or ports, incompatible port types, a second edge into a
// Single port, duplicate edges, and any edge that would close a cycle.
func (g *Graph) Connect(from NodeID, fromPort string, to NodeID, toPort string) (Change, error) {
	const op = "connect"
	src, ok := g.nodes[from]
	if !ok {
		return Change{}, structural(op, ErrNotFound, from, "", "")
	}
	dst, ok := g.nodes[to]
	if !ok {
		return Change{}, structural(op, ErrNotFound, to, "", "")
	}
	srcEntry, _ := g.catalog.Lookup(src.TypeID)
	dstEntry, _ := g.catalog.Lookup(dst.TypeID)

	out, ok := srcEntry.Output(fromPort)
	if !ok {
		return Change{}, structural(op, ErrUnknownPort, from, fromPort, "%s has no output %q", src.TypeID, fromPort)
	}
	in, ok := dstEntry.Input(toPort)
	if !ok {
		return Change{}, structural(op, ErrUnknownPort, to, toPort, "%s has no input %q", dst.TypeID, toPort)
	}
	if !catalog.Compatible(out.Type, in.Type) {
		return Change{}, structural(op, ErrPortTypeMismatch, to, toPort, "%s output is %s, input wants %s", fromPort, out.Type, in.Type)
	}

	edge := Edge{From: from, FromPort: fromPort, To: to, ToPort: toPort}
	existing := g.inbound[to][toPort]
	if in.Kind == catalog.Single && len(existing) > 0 {
		return Change{}, structural(op, ErrPortArityViolation, to, toPort, "single port already fed by %s", existing[0])
	}
	if slices.ContainsFunc(existing, edge.Same) {
		return Change{}, structural(op, ErrPortArityViolation, to, toPort, "duplicate edge %s", edge)
	}
	if g.reaches(to, from) {
		return Change{}, structural(op, ErrCycleDetected, to, toPort, "%s would close a cycle", edge)
	}

	gen := g.bump()
	edge.Seq = g.seq()
	if g.inbound[to] == nil {
		g.inbound[to] = make(map[string][]Edge)
	}
	g.inbound[to][toPort] = append(g.inbound[to][toPort], edge)
	g.outbound[from] = append(g.outbound[from], edge)
	return Change{Generation: gen, Affected: []NodeID{to}, AddedEdges: []Edge{edge}}, nil
}

// Disconnect removes the edge joining the given ports.
func (g *Graph) Disconnect(from NodeID, fromPort string, to NodeID, toPort string) (Change, error) {
	want := Edge{From: from, FromPort: fromPort, To: to, ToPort: toPort}
	idx := slices.IndexFunc(g.inbound[to][toPort], want.Same)
	if idx < 0 {
		return Change{}, structural("disconnect", ErrEdgeNotFound, to, toPort, "%s", want)
	}
	edge := g.inbound[to][toPort][idx]
	g.dropInbound(edge)
	g.outbound[from] = slices.DeleteFunc(g.outbound[from], edge.Same)

	gen := g.bump()
	return Change{Generation: gen, Affected: []NodeID{to}, RemovedEdges: []Edge{edge}}, nil
}

// SetParam writes one parameter. Only the node itself is directly
// affected; upstream nodes are untouched.
func (g *Graph) SetParam(id NodeID, name string, value any) (Change, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Change{}, structural("setParam", ErrNotFound, id, "", "")
	}
	entry, _ := g.catalog.Lookup(n.TypeID)
	spec, ok := entry.Param(name)
	if !ok {
		return Change{}, structural("setParam", ErrUnknownParam, id, name, "%s has no param %q", n.TypeID, name)
	}
	v, err := spec.Coerce(value)
	if err != nil {
		return Change{}, paramError("setParam", id, name, err)
	}

	gen := g.bump()
	n.Params[name] = v
	n.Generation = gen
	return Change{Generation: gen, Affected: []NodeID{id}}, nil
}

func (g *Graph) dropInbound(e Edge) {
	ports := g.inbound[e.To]
	ports[e.ToPort] = slices.DeleteFunc(ports[e.ToPort], e.Same)
	if len(ports[e.ToPort]) == 0 {
		delete(ports, e.ToPort)
	}
}

// reaches reports whether target is reachable from start along edges.
func (g *Graph) reaches(start, target NodeID) bool {
	if start == target {
		return true
	}
	seen := map[NodeID]bool{start: true}
	stack := []NodeID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.outbound[id] {
			if e.To == target {
				return true
			}
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}
