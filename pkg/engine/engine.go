// Package engine is the execution coordinator. It owns the graph, keeps
// the dependency index and scheduler in step with every edit, and drives
// evaluation: ready nodes are served from the cache when their content
// hash is known, and otherwise dispatched to the kernel bridge with
// bounded concurrency. Results computed under a generation that an edit
// has since superseded are discarded rather than applied.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/madfam-io/sim4d-sub012/pkg/cache"
	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
	"github.com/madfam-io/sim4d-sub012/pkg/schedule"
)

// Engine evaluates a node graph incrementally. All methods are safe for
// concurrent use; only one evaluation loop runs at a time.
type Engine struct {
	mu      sync.Mutex
	g       *graph.Graph
	ix      *schedule.Index
	sched   *schedule.Scheduler
	states  map[graph.NodeID]*nodeState
	flights map[graph.NodeID]*flight
	subs    map[uint64]*subscriber
	nextSub uint64

	loopMu sync.Mutex
	sem    *semaphore.Weighted
	group  singleflight.Group
	wake   chan struct{}

	bridge   kernel.Bridge
	cache    *cache.Cache
	cfg      Config
	log      *slog.Logger
	metrics  *metrics
	gatherer prometheus.Gatherer
}

// New returns an engine over an empty graph whose node types come from cat
// and whose geometry requests go to bridge.
func New(cat *catalog.Catalog, bridge kernel.Bridge, cfg Config) *Engine {
	cfg.applyDefaults(bridge)

	var gatherer prometheus.Gatherer
	if cfg.Registerer == nil {
		reg := prometheus.NewRegistry()
		cfg.Registerer, gatherer = reg, reg
	} else if g, ok := cfg.Registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	g := graph.New(cat)
	ix := schedule.NewIndex()
	e := &Engine{
		g:        g,
		ix:       ix,
		sched:    schedule.New(g, ix),
		states:   make(map[graph.NodeID]*nodeState),
		flights:  make(map[graph.NodeID]*flight),
		subs:     make(map[uint64]*subscriber),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		wake:     make(chan struct{}, 1),
		bridge:   bridge,
		cache:    cfg.Cache,
		cfg:      cfg,
		log:      cfg.Logger,
		gatherer: gatherer,
	}
	e.metrics = newMetrics(cfg.Registerer, e.cache)
	return e
}

// Workers returns the concurrency bound on kernel calls.
func (e *Engine) Workers() int { return e.cfg.Workers }

// Cache returns the evaluation cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Gatherer returns the registry holding the engine's metrics, or nil when
// the configured Registerer cannot be gathered from.
func (e *Engine) Gatherer() prometheus.Gatherer { return e.gatherer }

// Catalog returns the node catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.g.Catalog() }

// AddNode inserts a node and schedules it.
func (e *Engine) AddNode(typeID string, params map[string]any, opts ...graph.AddOption) (graph.NodeInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ch, err := e.g.AddNode(typeID, params, opts...)
	if err != nil {
		return graph.NodeInstance{}, err
	}
	e.states[n.ID] = &nodeState{status: Pending}
	e.commitLocked("addNode", ch)
	return n, nil
}

// RemoveNode deletes a node with its edges. Former consumers are
// rescheduled.
func (e *Engine) RemoveNode(id graph.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.g.RemoveNode(id)
	if err != nil {
		return err
	}
	e.commitLocked("removeNode", ch)
	return nil
}

// Connect adds an edge. Structural violations are rejected before any
// state changes.
func (e *Engine) Connect(from graph.NodeID, fromPort string, to graph.NodeID, toPort string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.g.Connect(from, fromPort, to, toPort)
	if err != nil {
		return err
	}
	e.commitLocked("connect", ch)
	return nil
}

// Disconnect removes an edge.
func (e *Engine) Disconnect(from graph.NodeID, fromPort string, to graph.NodeID, toPort string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.g.Disconnect(from, fromPort, to, toPort)
	if err != nil {
		return err
	}
	e.commitLocked("disconnect", ch)
	return nil
}

// SetParam changes one parameter. Only the node and its dependents are
// invalidated.
func (e *Engine) SetParam(id graph.NodeID, name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.g.SetParam(id, name, value)
	if err != nil {
		return err
	}
	e.commitLocked("setParam", ch)
	return nil
}

// commitLocked is the single path from a graph mutation to the rest of the
// engine: index, dirty set, scheduler, cache references, flights, events.
func (e *Engine) commitLocked(op string, ch graph.Change) {
	e.ix.Apply(e.g, ch)
	gen := ch.Generation

	for _, id := range ch.RemovedNodes {
		e.sched.Forget(id)
		delete(e.flights, id)
		if st, ok := e.states[id]; ok {
			e.releaseLocked(st)
			delete(e.states, id)
		}
		e.emitLocked(Event{NodeID: id, Generation: gen, Removed: true})
	}

	dirty := e.ix.DirtySet(ch.Affected...)
	for _, id := range dirty {
		// An in-flight result for a dirty node no longer matches its inputs.
		delete(e.flights, id)
		st, ok := e.states[id]
		if !ok {
			st = &nodeState{}
			e.states[id] = st
		}
		e.releaseLocked(st)
		*st = nodeState{status: Pending}
	}
	e.sched.Invalidate(dirty)

	// Everything still in flight was unaffected by this edit, so its result
	// stays valid for the new generation.
	for _, f := range e.flights {
		f.gen = gen
	}
	for _, id := range dirty {
		e.emitLocked(Event{NodeID: id, Generation: gen, Status: Pending})
	}

	e.log.Debug("Committed graph edit", "op", op, "generation", gen, "dirty", len(dirty))
	e.poke()
}

func (e *Engine) releaseLocked(st *nodeState) {
	if st.retained {
		e.cache.Release(st.hash)
		st.retained = false
	}
}

// Generation returns the current generation.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Generation()
}

// GetResult returns the evaluation state of a node.
func (e *Engine) GetResult(id graph.NodeID) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return Result{}, fmt.Errorf("engine: result for %s: %w", id, graph.ErrNotFound)
	}
	return e.resultLocked(id, st), nil
}

// Results returns every node's result in insertion order.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes := e.g.Nodes()
	out := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, e.resultLocked(n.ID, e.states[n.ID]))
	}
	return out
}

func (e *Engine) resultLocked(id graph.NodeID, st *nodeState) Result {
	return Result{
		NodeID:     id,
		Generation: e.g.Generation(),
		ComputedAt: st.computedAt,
		Status:     st.status,
		Hash:       st.hash,
		Outputs:    st.outputs,
		Err:        st.err,
	}
}

// Counts returns how many nodes are in each status.
func (e *Engine) Counts() map[Status]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Counts()
}

// Node returns a copy of a node.
func (e *Engine) Node(id graph.NodeID) (graph.NodeInstance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Node(id)
}

// Nodes returns copies of all nodes in insertion order.
func (e *Engine) Nodes() []graph.NodeInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Nodes()
}

// Edges returns all edges in insertion order.
func (e *Engine) Edges() []graph.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.Edges()
}

// Validate audits the graph.
func (e *Engine) Validate() []graph.ValidationError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return graph.Validate(e.g)
}

// Subscribe returns a stream of status transitions and a function that
// ends the subscription. A subscriber that falls behind by more than
// buffer events loses the newest ones; buffer <= 0 uses the configured
// default.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = e.cfg.EventBuffer
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	sub := &subscriber{ch: make(chan Event, buffer)}
	e.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs, id)
			close(sub.ch)
		})
	}
}

func (e *Engine) emitLocked(ev Event) {
	for _, sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			e.metrics.eventsDropped.Inc()
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				e.log.Warn("Subscriber is falling behind, dropping events",
					"nodeID", ev.NodeID, "dropped", sub.dropped)
			}
		}
	}
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
