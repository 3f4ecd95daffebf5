package schedule

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog/geometry"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// fixture mirrors how the engine drives the index: every change is
// applied as it happens.
type fixture struct {
	t  *testing.T
	g  *graph.Graph
	ix *Index
}

func newFixture(t *testing.T) *fixture {
	g := graph.New(geometry.New())
	return &fixture{t: t, g: g, ix: NewIndex()}
}

func (f *fixture) add(id graph.NodeID, typeID string) {
	f.t.Helper()
	_, ch, err := f.g.AddNode(typeID, nil, graph.WithID(id))
	require.NoError(f.t, err)
	f.ix.Apply(f.g, ch)
}

func (f *fixture) connect(from graph.NodeID, fromPort string, to graph.NodeID, toPort string) {
	f.t.Helper()
	ch, err := f.g.Connect(from, fromPort, to, toPort)
	require.NoError(f.t, err)
	f.ix.Apply(f.g, ch)
}

// diamond builds box -> (left, right) -> union -> mesh, plus an
// unrelated sphere.
func diamond(t *testing.T) *fixture {
	f := newFixture(t)
	f.add("box", "Box")
	f.add("left", "Translate")
	f.add("right", "Rotate")
	f.add("union", "Union")
	f.add("mesh", "Mesh")
	f.add("sphere", "Sphere")
	f.connect("box", "solid", "left", "solid")
	f.connect("box", "solid", "right", "solid")
	f.connect("left", "solid", "union", "solids")
	f.connect("right", "solid", "union", "solids")
	f.connect("union", "solid", "mesh", "solid")
	return f
}

func TestIndexAdjacency(t *testing.T) {
	f := diamond(t)
	assert.Equal(t, []graph.NodeID{"left", "right"}, f.ix.Consumers("box"))
	assert.Equal(t, []graph.NodeID{"left", "right"}, f.ix.Producers("union"))
	assert.Empty(t, f.ix.Producers("box"))
	assert.Equal(t, 6, f.ix.Len())
}

func TestIncrementalIndexMatchesRebuild(t *testing.T) {
	f := diamond(t)
	ch, err := f.g.RemoveNode("right")
	require.NoError(t, err)
	f.ix.Apply(f.g, ch)
	ch, err = f.g.Connect("sphere", "solid", "union", "solids")
	require.NoError(t, err)
	f.ix.Apply(f.g, ch)

	rebuilt := Build(f.g)
	if diff := cmp.Diff(rebuilt.forward, f.ix.forward); diff != "" {
		t.Errorf("forward adjacency drifted (-rebuilt +incremental):\n%s", diff)
	}
	if diff := cmp.Diff(rebuilt.reverse, f.ix.reverse); diff != "" {
		t.Errorf("reverse adjacency drifted (-rebuilt +incremental):\n%s", diff)
	}
}

func TestDirtySet(t *testing.T) {
	f := diamond(t)
	tests := []struct {
		name string
		from []graph.NodeID
		want []graph.NodeID
	}{
		{"root", []graph.NodeID{"box"}, []graph.NodeID{"box", "left", "right", "union", "mesh"}},
		{"branch", []graph.NodeID{"right"}, []graph.NodeID{"right", "union", "mesh"}},
		{"leaf", []graph.NodeID{"mesh"}, []graph.NodeID{"mesh"}},
		{"isolated", []graph.NodeID{"sphere"}, []graph.NodeID{"sphere"}},
		{"unknown skipped", []graph.NodeID{"ghost", "left"}, []graph.NodeID{"left", "union", "mesh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ix.DirtySet(tt.from...))
		})
	}
}

// drain runs the scheduler to completion, settling dispatched nodes with
// the outcome chosen by settle, and returns the order nodes were handed out.
func drain(s *Scheduler, settle func(graph.NodeID) Status) []Decision {
	var out []Decision
	for {
		d, ok := s.NextReady()
		if !ok {
			return out
		}
		out = append(out, d)
		switch d.Verdict {
		case Dispatch:
			s.Start(d.Node)
			s.Settle(d.Node, settle(d.Node))
		case MarkUnready:
			s.Settle(d.Node, Unready)
		case MarkBlocked:
			s.Settle(d.Node, Blocked)
		}
	}
}

func ids(ds []Decision) []graph.NodeID {
	out := make([]graph.NodeID, len(ds))
	for i, d := range ds {
		out[i] = d.Node
	}
	return out
}

func TestNextReadyInsertionOrder(t *testing.T) {
	f := diamond(t)
	s := New(f.g, f.ix)
	order := drain(s, func(graph.NodeID) Status { return Ready })
	assert.Equal(t, []graph.NodeID{"box", "left", "right", "union", "mesh", "sphere"}, ids(order))
	assert.True(t, s.Idle())
	assert.Equal(t, 6, s.Counts()[Ready])
}

func TestNodeWaitsForAllProducers(t *testing.T) {
	f := diamond(t)
	s := New(f.g, f.ix)

	d, ok := s.NextReady()
	require.True(t, ok)
	require.Equal(t, graph.NodeID("box"), d.Node)
	s.Start("box")

	// Nothing downstream of a running node may start; only the
	// independent sphere is ready.
	d, ok = s.NextReady()
	require.True(t, ok)
	assert.Equal(t, graph.NodeID("sphere"), d.Node)
	s.Start("sphere")
	_, ok = s.NextReady()
	assert.False(t, ok)

	s.Settle("box", Ready)
	d, ok = s.NextReady()
	require.True(t, ok)
	assert.Equal(t, graph.NodeID("left"), d.Node)
}

func TestFailurePropagatesAsBlocked(t *testing.T) {
	f := diamond(t)
	s := New(f.g, f.ix)
	order := drain(s, func(id graph.NodeID) Status {
		if id == "left" {
			return Failed
		}
		return Ready
	})

	got := make(map[graph.NodeID]Decision)
	for _, d := range order {
		got[d.Node] = d
	}
	assert.Equal(t, MarkBlocked, got["union"].Verdict)
	assert.Equal(t, "left", got["union"].Cause)
	assert.Equal(t, MarkBlocked, got["mesh"].Verdict)
	assert.Equal(t, Ready, s.Status("right"), "sibling branch keeps going")
	assert.Equal(t, Ready, s.Status("sphere"), "independent branch keeps going")
}

func TestMissingRequiredInputIsUnready(t *testing.T) {
	f := newFixture(t)
	f.add("ext", "Extrude")
	f.add("mesh", "Mesh")
	f.connect("ext", "solid", "mesh", "solid")
	s := New(f.g, f.ix)

	order := drain(s, func(graph.NodeID) Status { return Ready })
	require.Len(t, order, 2)
	assert.Equal(t, Decision{Node: "ext", Verdict: MarkUnready, Cause: "profile"}, order[0])
	assert.Equal(t, Decision{Node: "mesh", Verdict: MarkUnready, Cause: "ext"}, order[1])
}

func TestOptionalInputFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.add("base", "Box")
	f.add("tool", "Sphere")
	f.add("diff", "Difference")
	f.connect("base", "solid", "diff", "base")
	f.connect("tool", "solid", "diff", "tool")
	s := New(f.g, f.ix)

	order := drain(s, func(id graph.NodeID) Status {
		if id == "tool" {
			return Failed
		}
		return Ready
	})
	assert.Equal(t, Dispatch, order[len(order)-1].Verdict)
	assert.Equal(t, Ready, s.Status("diff"))
}

func TestInvalidateRequeuesDirtySet(t *testing.T) {
	f := diamond(t)
	s := New(f.g, f.ix)
	drain(s, func(graph.NodeID) Status { return Ready })

	ch, err := f.g.SetParam("right", "z", 45)
	require.NoError(t, err)
	f.ix.Apply(f.g, ch)
	s.Invalidate(f.ix.DirtySet(ch.Affected...))

	assert.Equal(t, Pending, s.Status("right"))
	assert.Equal(t, Pending, s.Status("mesh"))
	assert.Equal(t, Ready, s.Status("left"))
	assert.False(t, s.Idle())

	order := drain(s, func(graph.NodeID) Status { return Ready })
	assert.Equal(t, []graph.NodeID{"right", "union", "mesh"}, ids(order))
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	f.add("a", "Box")
	f.add("b", "Box")
	s := New(f.g, f.ix)

	s.Forget("a")
	order := drain(s, func(graph.NodeID) Status { return Ready })
	assert.Equal(t, []graph.NodeID{"b"}, ids(order))
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "Status(42)", Status(42).String())
	assert.True(t, Failed.Settled())
	assert.False(t, Running.Settled())
}
