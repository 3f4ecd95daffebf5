package script

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// Target is a live graph a design can be applied to. *engine.Engine
// satisfies it.
type Target interface {
	Catalog() *catalog.Catalog
	Nodes() []graph.NodeInstance
	Edges() []graph.Edge
	AddNode(typeID string, params map[string]any, opts ...graph.AddOption) (graph.NodeInstance, error)
	RemoveNode(id graph.NodeID) error
	Connect(from graph.NodeID, fromPort string, to graph.NodeID, toPort string) error
	Disconnect(from graph.NodeID, fromPort string, to graph.NodeID, toPort string) error
	SetParam(id graph.NodeID, name string, value any) error
}

// Summary counts the edits Apply made.
type Summary struct {
	Added        int
	Removed      int
	Updated      int // params written
	Connected    int
	Disconnected int
}

// Changed reports whether any edit was made.
func (s Summary) Changed() bool {
	return s != Summary{}
}

func (s Summary) String() string {
	return fmt.Sprintf("+%d -%d ~%d nodes, +%d -%d edges", s.Added, s.Removed, s.Updated, s.Connected, s.Disconnected)
}

// Apply reconciles t with d using the fewest edits it can find: nodes the
// design no longer declares are removed, a node whose type changed is
// replaced, and only params whose value differs are written. Unchanged
// nodes keep their cached results. Apply stops at the first rejected
// edit; edits made before it stay applied.
func Apply(d *Design, t Target) (Summary, error) {
	var sum Summary
	cat := t.Catalog()

	current := make(map[graph.NodeID]graph.NodeInstance)
	for _, n := range t.Nodes() {
		want, ok := d.Node(n.ID)
		if ok && want.TypeID == n.TypeID {
			current[n.ID] = n
			continue
		}
		if err := t.RemoveNode(n.ID); err != nil {
			return sum, fmt.Errorf("script: apply: %w", err)
		}
		sum.Removed++
	}

	// Group edges by destination port. A port whose surviving sources are
	// not a prefix of the wanted ones is rewired so List order holds.
	type portKey struct {
		node graph.NodeID
		port string
	}
	want := make(map[portKey][]graph.Edge)
	for _, e := range d.Edges {
		k := portKey{e.To, e.ToPort}
		want[k] = append(want[k], e)
	}
	have := make(map[portKey][]graph.Edge)
	for _, e := range t.Edges() {
		k := portKey{e.To, e.ToPort}
		have[k] = append(have[k], e)
	}
	keys := make([]portKey, 0, len(have))
	for k := range have {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b portKey) int {
		return cmp.Or(cmp.Compare(a.node, b.node), cmp.Compare(a.port, b.port))
	})
	for _, k := range keys {
		edges := have[k]
		slices.SortFunc(edges, func(a, b graph.Edge) int { return cmp.Compare(a.Seq, b.Seq) })
		if isPrefix(edges, want[k]) {
			continue
		}
		for _, e := range edges {
			if err := t.Disconnect(e.From, e.FromPort, e.To, e.ToPort); err != nil {
				return sum, fmt.Errorf("script: apply: %w", err)
			}
			sum.Disconnected++
		}
		have[k] = nil
	}

	for _, decl := range d.Nodes {
		n, exists := current[decl.ID]
		if !exists {
			if _, err := t.AddNode(decl.TypeID, decl.Params, graph.WithID(decl.ID)); err != nil {
				return sum, fmt.Errorf("script: apply: %w", err)
			}
			sum.Added++
			continue
		}
		updated, err := syncParams(t, cat, n, decl)
		sum.Updated += updated
		if err != nil {
			return sum, fmt.Errorf("script: apply: %w", err)
		}
	}

	for _, e := range d.Edges {
		k := portKey{e.To, e.ToPort}
		if slices.ContainsFunc(have[k], e.Same) {
			continue
		}
		if err := t.Connect(e.From, e.FromPort, e.To, e.ToPort); err != nil {
			return sum, fmt.Errorf("script: apply: %w", err)
		}
		sum.Connected++
	}
	return sum, nil
}

// syncParams writes the params of n that differ from decl. Params the
// script leaves out go back to their catalog default.
func syncParams(t Target, cat *catalog.Catalog, n graph.NodeInstance, decl NodeDecl) (int, error) {
	entry, ok := cat.Lookup(n.TypeID)
	if !ok {
		return 0, fmt.Errorf("%s: %w", n.ID, graph.ErrUnknownType)
	}
	updated := 0
	for _, spec := range entry.Params {
		v, set := decl.Params[spec.Name]
		if !set {
			v = spec.Default
		}
		if v == nil {
			continue
		}
		if cv, err := spec.Coerce(v); err == nil && reflect.DeepEqual(cv, n.Params[spec.Name]) {
			continue
		}
		if err := t.SetParam(n.ID, spec.Name, v); err != nil {
			return updated, err
		}
		updated++
	}
	for name := range decl.Params {
		if _, ok := entry.Param(name); !ok {
			return updated, t.SetParam(n.ID, name, decl.Params[name])
		}
	}
	return updated, nil
}

// isPrefix reports whether have, in order, joins the same ports as the
// first len(have) edges of want.
func isPrefix(have, want []graph.Edge) bool {
	if len(have) > len(want) {
		return false
	}
	for i := range have {
		if !have[i].Same(want[i]) {
			return false
		}
	}
	return true
}
