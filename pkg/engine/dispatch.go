package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/madfam-io/sim4d-sub012/pkg/cache"
	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
	"github.com/madfam-io/sim4d-sub012/pkg/schedule"
)

// flight is one dispatched kernel evaluation. gen is re-tagged on every
// edit that leaves the node clean; an edit that dirties the node drops the
// flight instead, so its completion no longer matches.
type flight struct {
	node     graph.NodeID
	gen      uint64
	hash     cache.Hash
	deps     []cache.Hash
	volatile bool
}

// Evaluate runs the dispatch loop until every node has settled for the
// current generation. Edits made while it runs are picked up before it
// returns. Kernel calls in flight when ctx ends keep running and are
// applied when they finish.
func (e *Engine) Evaluate(ctx context.Context) error {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	start := time.Now()
	for {
		// Holding a slot before pulling work blocks only this loop when
		// every worker is busy.
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		e.mu.Lock()
		launched := e.pumpLocked(ctx)
		idle := !launched && e.sched.Idle()
		gen := e.g.Generation()
		e.mu.Unlock()

		if launched {
			continue
		}
		e.sem.Release(1)
		if idle {
			e.log.Debug("Evaluation settled", "generation", gen, "elapsed", time.Since(start))
			return nil
		}
		select {
		case <-e.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run evaluates after every edit until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.Evaluate(ctx); err != nil {
			return err
		}
		select {
		case <-e.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pumpLocked settles nodes that need no kernel work and launches at most
// one flight, which consumes the slot the caller holds.
func (e *Engine) pumpLocked(ctx context.Context) bool {
	for {
		d, ok := e.sched.NextReady()
		if !ok {
			return false
		}
		switch d.Verdict {
		case schedule.MarkUnready:
			e.settleLocked(d.Node, Unready, &UnreadyError{Node: d.Node, Cause: d.Cause})
		case schedule.MarkBlocked:
			e.settleLocked(d.Node, Blocked, &BlockedError{Node: d.Node, Upstream: graph.NodeID(d.Cause)})
		case schedule.Dispatch:
			if e.dispatchLocked(ctx, d.Node) {
				return true
			}
		}
	}
}

// dispatchLocked serves a node from the cache or launches a flight for
// it, and reports whether it launched.
func (e *Engine) dispatchLocked(ctx context.Context, id graph.NodeID) bool {
	n, _ := e.g.Node(id)
	entry, ok := e.g.Entry(id)
	if !ok {
		e.finishLocked(id, cache.Hash{}, nil, fmt.Errorf("engine: %s: %w", id, graph.ErrUnknownType), false)
		return false
	}
	in, upstream, deps := e.resolveLocked(id, entry)

	var h cache.Hash
	var err error
	if entry.Volatile {
		h, err = cache.KeyWithSalt(n.TypeID, n.Params, upstream, rand.Uint64()|1)
	} else {
		h, err = cache.Key(n.TypeID, n.Params, upstream)
	}
	if err != nil {
		e.finishLocked(id, cache.Hash{}, nil, err, false)
		return false
	}

	if !entry.Volatile {
		if hit, ok := e.cache.Lookup(h); ok {
			e.metrics.cacheHits.Inc()
			e.log.Debug("Cache hit", "nodeID", id, "hash", h.Short())
			e.finishLocked(id, h, hit.Outputs, hit.Err, true)
			return false
		}
	}
	e.metrics.cacheMisses.Inc()

	f := &flight{node: id, gen: e.g.Generation(), hash: h, deps: deps, volatile: entry.Volatile}
	e.flights[id] = f
	e.cache.Pin(deps...)
	e.sched.Start(id)
	e.states[id].status = Running
	e.metrics.running.Inc()
	e.emitLocked(Event{NodeID: id, Generation: f.gen, Status: Running})

	go e.run(ctx, f, entry, in, n.Params)
	return true
}

// resolveLocked gathers a node's input values from its producers' results,
// along with the upstream descriptors that feed its content hash. List
// ports concatenate their sources in edge order, flattening sources that
// already carry a list.
func (e *Engine) resolveLocked(id graph.NodeID, entry *catalog.Entry) (catalog.Inputs, []cache.Upstream, []cache.Hash) {
	in := make(catalog.Inputs, len(entry.Inputs))
	var upstream []cache.Upstream
	var deps []cache.Hash

	for _, spec := range entry.Inputs {
		edges := e.g.Inputs(id, spec.Name)
		if len(edges) == 0 {
			if spec.Default != nil {
				in[spec.Name] = spec.Default
				upstream = append(upstream, cache.Upstream{Port: spec.Name, Output: fmt.Sprintf("default=%v", spec.Default)})
			}
			continue
		}

		var list []any
		for _, edge := range edges {
			st := e.states[edge.From]
			if st == nil || st.status != Ready {
				// Only optional inputs get here; their failed producers count as absent.
				continue
			}
			v, ok := st.outputs[edge.FromPort]
			if !ok {
				continue
			}
			upstream = append(upstream, cache.Upstream{Port: spec.Name, Producer: st.hash, Output: edge.FromPort})
			deps = append(deps, st.hash)

			if spec.Kind == catalog.Single {
				in[spec.Name] = v
				continue
			}
			if vs, ok := v.([]any); ok {
				list = append(list, vs...)
			} else {
				list = append(list, v)
			}
		}
		if spec.Kind == catalog.List && list != nil {
			in[spec.Name] = list
		}
	}
	return in, upstream, deps
}

// run performs one flight off the engine lock. Identical non-volatile
// requests in flight at the same time share one evaluation, and the
// leader applies its outcome before releasing followers, so a request
// arriving later finds the cache entry instead of calling again.
func (e *Engine) run(ctx context.Context, f *flight, entry *catalog.Entry, in catalog.Inputs, p catalog.Params) {
	start := time.Now()
	applied := false
	apply := func(out catalog.Outputs, err error) {
		e.metrics.running.Dec()
		e.metrics.evalSeconds.Observe(time.Since(start).Seconds())
		e.mu.Lock()
		e.completeLocked(f, out, err)
		e.mu.Unlock()
		applied = true
	}

	if f.volatile {
		apply(e.evaluate(ctx, f, entry, in, p))
	} else {
		v, err, _ := e.group.Do(f.hash.String(), func() (any, error) {
			if hit, ok := e.cache.Lookup(f.hash); ok {
				// An identical flight finished after this one was dispatched.
				return catalog.Outputs(hit.Outputs), hit.Err
			}
			out, err := e.evaluate(ctx, f, entry, in, p)
			apply(out, err)
			return out, err
		})
		if !applied {
			out, _ := v.(catalog.Outputs)
			apply(out, err)
		}
	}
	e.sem.Release(1)
	e.poke()
}

// completeLocked applies a finished flight. A flight that is no longer
// the node's current one, or whose generation is behind, is dropped.
func (e *Engine) completeLocked(f *flight, out catalog.Outputs, err error) {
	gen := e.g.Generation()
	e.cache.Unpin(f.deps...)
	if cur, ok := e.flights[f.node]; !ok || cur != f || f.gen != gen {
		e.metrics.staleDiscards.Inc()
		e.log.Debug("Discarded stale result", "nodeID", f.node, "generation", f.gen, "current", gen)
		return
	}
	delete(e.flights, f.node)

	stored := false
	if !f.volatile && deterministic(err) {
		e.cache.Store(f.hash, out, err, f.deps, gen)
		stored = true
	}
	if err != nil {
		e.log.Warn("Node evaluation failed", "nodeID", f.node, "hash", f.hash.Short(), "error", err)
	}
	e.finishLocked(f.node, f.hash, out, err, stored)
}

// deterministic reports whether an outcome may be cached. Transient
// failures and timeouts might succeed on another try.
func deterministic(err error) bool {
	if err == nil {
		return true
	}
	if kernel.IsTransient(err) {
		return false
	}
	_, ok := kernel.AsKernelError(err)
	return ok
}

// finishLocked records an evaluation outcome and, when retain is set,
// takes a reference on the cache entry for h.
func (e *Engine) finishLocked(id graph.NodeID, h cache.Hash, outputs catalog.Outputs, err error, retain bool) {
	status := Ready
	if err != nil {
		status = Failed
		outputs = nil
	}
	st := e.states[id]
	e.releaseLocked(st)
	*st = nodeState{
		status:     status,
		hash:       h,
		outputs:    outputs,
		err:        err,
		computedAt: e.g.Generation(),
	}
	if retain {
		e.cache.Retain(h)
		st.retained = true
	}
	e.sched.Settle(id, status)
	e.metrics.outcomes.WithLabelValues(status.String()).Inc()
	e.emitLocked(Event{NodeID: id, Generation: st.computedAt, Status: status})
}

func (e *Engine) settleLocked(id graph.NodeID, status Status, err error) {
	st := e.states[id]
	e.releaseLocked(st)
	*st = nodeState{status: status, err: err, computedAt: e.g.Generation()}
	e.sched.Settle(id, status)
	e.metrics.outcomes.WithLabelValues(status.String()).Inc()
	e.emitLocked(Event{NodeID: id, Generation: st.computedAt, Status: status})
}
