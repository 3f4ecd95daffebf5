// Package tessellate turns evaluated results into triangle meshes for a
// viewport. Mesh outputs are collected as they are; solids nothing else
// consumes are meshed through the kernel bridge. The tessellator is
// read-only and never mutates the graph.
package tessellate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/madfam-io/sim4d-sub012/pkg/engine"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

// Source is the evaluated graph to read. *engine.Engine satisfies it.
type Source interface {
	Results() []engine.Result
	Edges() []graph.Edge
}

// Options configures Tessellate.
type Options struct {
	// AllSolids meshes every Ready solid, not only the ones no other node
	// consumes.
	AllSolids bool
	// Workers bounds concurrent mesh requests. Values <= 0 mean 4.
	Workers int
}

// Tessellate returns one mesh per Ready node that carries a mesh output,
// plus one per unconsumed solid, in node insertion order. Failed and
// pending nodes are skipped.
func Tessellate(ctx context.Context, src Source, b kernel.Bridge, opts Options) ([]*kernel.Mesh, error) {
	consumed := make(map[graph.NodeID]bool)
	for _, e := range src.Edges() {
		consumed[e.From] = true
	}

	results := src.Results()
	meshes := make([]*kernel.Mesh, len(results))

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, r := range results {
		if r.Status != engine.Ready {
			continue
		}
		if m, ok := r.Outputs["mesh"].(*kernel.Mesh); ok {
			meshes[i] = named(m, r.NodeID)
			continue
		}
		solid, ok := r.Outputs["solid"].(kernel.Solid)
		if !ok || (consumed[r.NodeID] && !opts.AllSolids) {
			continue
		}
		g.Go(func() error {
			m, err := toMesh(ctx, b, solid)
			if err != nil {
				return fmt.Errorf("tessellate: node %s: %w", r.NodeID.Short(), err)
			}
			meshes[i] = named(m, r.NodeID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := meshes[:0]
	for _, m := range meshes {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func toMesh(ctx context.Context, b kernel.Bridge, s kernel.Solid) (*kernel.Mesh, error) {
	resp, err := b.Execute(ctx, kernel.Request{Op: kernel.OpMesh, Params: map[string]any{"solid": s}})
	if err != nil {
		return nil, err
	}
	m, ok := resp["mesh"].(*kernel.Mesh)
	if !ok {
		return nil, kernel.Errorf(kernel.OpMesh, kernel.CodeTopology, "response missing mesh")
	}
	return m, nil
}

// named sets the part name, falling back to the node id. Meshes may be
// shared with the evaluation cache, so a copy is returned.
func named(m *kernel.Mesh, id graph.NodeID) *kernel.Mesh {
	c := *m
	if c.PartName == "" {
		c.PartName = string(id)
	}
	return &c
}
