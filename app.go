package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/madfam-io/sim4d-sub012/pkg/cache"
	"github.com/madfam-io/sim4d-sub012/pkg/catalog/geometry"
	"github.com/madfam-io/sim4d-sub012/pkg/config"
	"github.com/madfam-io/sim4d-sub012/pkg/engine"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel/manifold"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel/sdfx"
	"github.com/madfam-io/sim4d-sub012/pkg/script"
	"github.com/madfam-io/sim4d-sub012/pkg/tessellate"
)

// colorPalette is a default palette used to assign distinct colors to parts.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// App ties the script front end to a live engine. Each Evaluate reconciles
// the script into the same graph, so only what changed is recomputed.
type App struct {
	mu     sync.Mutex
	log    *slog.Logger
	bridge kernel.Bridge
	engine *engine.Engine
	script *script.Evaluator
}

// NodeData is one node's row in an evaluation report.
type NodeData struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Hash       string `json:"hash,omitempty"`
	ComputedAt uint64 `json:"computedAt"`
	Error      string `json:"error,omitempty"`
}

// MeshData is a tessellated part with a display color.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
	Color    string    `json:"color"`
}

// EvalErrorData is a script error with its location.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// EvalResult is the full result of one Evaluate call.
type EvalResult struct {
	Generation uint64          `json:"generation"`
	Summary    script.Summary  `json:"summary"`
	Nodes      []NodeData      `json:"nodes"`
	Meshes     []MeshData      `json:"meshes"`
	Errors     []EvalErrorData `json:"errors"`
}

// Failed reports how many nodes failed or are blocked by a failed
// producer. Unready nodes are waiting on input, not failing.
func (r EvalResult) Failed() int {
	return r.count("failed", "blocked")
}

// Unready reports how many nodes lack a required input.
func (r EvalResult) Unready() int {
	return r.count("unready")
}

func (r EvalResult) count(statuses ...string) int {
	n := 0
	for _, node := range r.Nodes {
		if slices.Contains(statuses, node.Status) {
			n++
		}
	}
	return n
}

// NewApp creates an App over the configured kernel with the built-in node
// catalog.
func NewApp(cfg config.Config, log *slog.Logger) (*App, error) {
	k, err := newKernel(cfg.Engine.Kernel)
	if err != nil {
		return nil, err
	}
	bridge := kernel.NewLocal(k, cfg.Engine.Workers)
	cat := geometry.New()
	eng := engine.New(cat, bridge, engine.Config{
		Workers:        cfg.Engine.Workers,
		KernelTimeout:  cfg.Engine.KernelTimeout,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		InitialBackoff: cfg.Engine.InitialBackoff,
		MaxBackoff:     cfg.Engine.MaxBackoff,
		EventBuffer:    cfg.Engine.EventBuffer,
		CacheOptions: []cache.Option{
			cache.WithMaxEntries(cfg.Cache.MaxEntries),
			cache.WithMaxBytes(cfg.Cache.MaxBytes),
		},
		Logger: log,
	})
	return &App{
		log:    log,
		bridge: bridge,
		engine: eng,
		script: script.NewEvaluator(script.WithTimeout(cfg.Script.Timeout), script.WithCatalog(cat)),
	}, nil
}

func newKernel(name string) (kernel.Kernel, error) {
	switch name {
	case "", config.KernelSdfx:
		return sdfx.New(), nil
	case config.KernelManifold:
		return manifold.New()
	}
	return nil, fmt.Errorf("unknown kernel %q", name)
}

// Engine returns the live engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Load evaluates source and reconciles it into the graph without running
// any kernel work. Script errors are reported in the result; err is set
// only for fatal failures.
func (a *App) Load(source string) (EvalResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(source)
}

func (a *App) load(source string) (EvalResult, error) {
	result := EvalResult{Nodes: []NodeData{}, Meshes: []MeshData{}, Errors: []EvalErrorData{}}

	d, evalErrs, err := a.script.Evaluate(source)
	if err != nil {
		return result, err
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{Line: e.Line, Col: e.Col, Message: e.Message})
		}
		return result, nil
	}

	sum, err := script.Apply(d, a.engine)
	result.Summary = sum
	if err != nil {
		// The graph rejected an edit; report it like a script error.
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
	}
	a.log.Debug("Applied script", "changes", sum.String(), "generation", a.engine.Generation())
	return result, nil
}

// Evaluate loads source, runs the engine until every node settles, and
// reports each node's outcome. With meshes set, Ready solids are also
// tessellated.
func (a *App) Evaluate(ctx context.Context, source string, meshes bool) (EvalResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result, err := a.load(source)
	if err != nil || len(result.Errors) > 0 {
		return result, err
	}
	if err := a.engine.Evaluate(ctx); err != nil {
		return result, fmt.Errorf("evaluate: %w", err)
	}

	result.Generation = a.engine.Generation()
	result.Nodes = a.nodes()
	if !meshes {
		return result, nil
	}

	ms, err := tessellate.Tessellate(ctx, a.engine, a.bridge, tessellate.Options{})
	if err != nil {
		return result, err
	}
	for i, m := range ms {
		result.Meshes = append(result.Meshes, MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			PartName: m.PartName,
			Color:    colorPalette[i%len(colorPalette)],
		})
	}
	return result, nil
}

func (a *App) nodes() []NodeData {
	types := make(map[graph.NodeID]string)
	for _, n := range a.engine.Nodes() {
		types[n.ID] = n.TypeID
	}
	var out []NodeData
	for _, r := range a.engine.Results() {
		nd := NodeData{
			ID:         string(r.NodeID),
			Type:       types[r.NodeID],
			Status:     r.Status.String(),
			ComputedAt: r.ComputedAt,
		}
		if r.Status == engine.Ready || r.Status == engine.Failed {
			nd.Hash = r.Hash.Short()
		}
		if r.Err != nil {
			nd.Error = r.Err.Error()
		}
		out = append(out, nd)
	}
	return out
}
