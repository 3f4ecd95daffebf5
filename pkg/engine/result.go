package engine

import (
	"github.com/madfam-io/sim4d-sub012/pkg/cache"
	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
	"github.com/madfam-io/sim4d-sub012/pkg/schedule"
)

// Status is re-exported so viewers need not import the scheduler.
type Status = schedule.Status

const (
	Unready = schedule.Unready
	Pending = schedule.Pending
	Running = schedule.Running
	Ready   = schedule.Ready
	Failed  = schedule.Failed
	Blocked = schedule.Blocked
)

// Result is a node's evaluation state as seen by a viewer.
type Result struct {
	NodeID graph.NodeID
	// Generation is the generation the result is valid for, always the
	// current one. ComputedAt is when the value was produced; it is older
	// when later edits did not touch the node.
	Generation uint64
	ComputedAt uint64
	Status     Status
	Hash       cache.Hash
	Outputs    catalog.Outputs
	Err        error
}

// Value returns the named output.
func (r Result) Value(port string) (any, bool) {
	v, ok := r.Outputs[port]
	return v, ok
}

// Event reports a status transition.
type Event struct {
	NodeID     graph.NodeID
	Generation uint64
	Status     Status
	Removed    bool
}

// nodeState is the engine's per-node record. retained is set when the
// node holds a reference on its cache entry.
type nodeState struct {
	status     Status
	hash       cache.Hash
	outputs    catalog.Outputs
	err        error
	computedAt uint64
	retained   bool
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}
