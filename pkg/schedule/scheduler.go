package schedule

import (
	"container/heap"
	"fmt"

	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// Status is a node's evaluation state within the current generation.
type Status int

const (
	// Unready nodes lack a required input and are not dispatched.
	Unready Status = iota
	// Pending nodes are queued for evaluation.
	Pending
	// Running nodes have a kernel call in flight.
	Running
	// Ready nodes hold a value.
	Ready
	// Failed nodes raised a kernel error of their own.
	Failed
	// Blocked nodes have a required producer that Failed or is Blocked.
	Blocked
)

func (s Status) String() string {
	switch s {
	case Unready:
		return "unready"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Settled reports whether no more work will happen for the node in this
// generation.
func (s Status) Settled() bool {
	return s != Pending && s != Running
}

// Verdict says what to do with a node handed out by NextReady.
type Verdict int

const (
	// Dispatch means every required input is available.
	Dispatch Verdict = iota
	// MarkUnready means a required input is missing.
	MarkUnready
	// MarkBlocked means a required producer failed.
	MarkBlocked
)

func (v Verdict) String() string {
	switch v {
	case Dispatch:
		return "dispatch"
	case MarkUnready:
		return "unready"
	case MarkBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Decision is one node handed out by NextReady.
type Decision struct {
	Node    graph.NodeID
	Verdict Verdict
	// Cause names the producer responsible for MarkBlocked or MarkUnready,
	// or the port when the input is simply unconnected.
	Cause string
}

// Scheduler tracks node statuses and orders ready nodes by insertion
// sequence. It is not safe for concurrent use.
type Scheduler struct {
	g      *graph.Graph
	ix     *Index
	status map[graph.NodeID]Status
	queue  seqHeap
	queued map[graph.NodeID]bool
}

// New returns a scheduler over g and its index. Every indexed node starts
// Pending.
func New(g *graph.Graph, ix *Index) *Scheduler {
	s := &Scheduler{
		g:      g,
		ix:     ix,
		status: make(map[graph.NodeID]Status),
		queued: make(map[graph.NodeID]bool),
	}
	var all []graph.NodeID
	for _, n := range g.Nodes() {
		all = append(all, n.ID)
	}
	s.Invalidate(all)
	return s
}

// Status returns the status of id. Unknown nodes report Unready.
func (s *Scheduler) Status(id graph.NodeID) Status {
	return s.status[id]
}

// Counts returns how many nodes are in each status.
func (s *Scheduler) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, st := range s.status {
		out[st]++
	}
	return out
}

// Invalidate marks ids Pending and queues those whose producers have all
// settled. ids is normally a dirty set from Index.DirtySet.
func (s *Scheduler) Invalidate(ids []graph.NodeID) {
	for _, id := range ids {
		s.status[id] = Pending
	}
	for _, id := range ids {
		s.enqueueIfReady(id)
	}
}

// Forget drops a removed node.
func (s *Scheduler) Forget(id graph.NodeID) {
	delete(s.status, id)
	delete(s.queued, id)
}

// Start marks a dispatched node Running.
func (s *Scheduler) Start(id graph.NodeID) {
	s.status[id] = Running
}

// Settle records a settled status and queues consumers that became ready.
func (s *Scheduler) Settle(id graph.NodeID, st Status) {
	if !st.Settled() {
		panic(fmt.Sprintf("schedule: Settle(%s, %s) with unsettled status", id, st))
	}
	if _, ok := s.status[id]; !ok {
		return
	}
	s.status[id] = st
	for _, c := range s.ix.Consumers(id) {
		if s.status[c] == Pending {
			s.enqueueIfReady(c)
		}
	}
}

// NextReady returns the lowest-sequence Pending node whose producers have
// all settled, with a verdict derived from its producers' statuses.
func (s *Scheduler) NextReady() (Decision, bool) {
	for s.queue.Len() > 0 {
		item := heap.Pop(&s.queue).(seqItem)
		id := item.id
		if !s.queued[id] {
			continue
		}
		delete(s.queued, id)
		if s.status[id] != Pending || !s.producersSettled(id) {
			continue
		}
		return s.decide(id), true
	}
	return Decision{}, false
}

// Idle reports whether nothing is Pending or Running.
func (s *Scheduler) Idle() bool {
	for _, st := range s.status {
		if !st.Settled() {
			return false
		}
	}
	return true
}

func (s *Scheduler) enqueueIfReady(id graph.NodeID) {
	if s.queued[id] || s.status[id] != Pending || !s.producersSettled(id) {
		return
	}
	s.queued[id] = true
	heap.Push(&s.queue, seqItem{id: id, seq: s.ix.Seq(id)})
}

func (s *Scheduler) producersSettled(id graph.NodeID) bool {
	for _, p := range s.ix.Producers(id) {
		if !s.status[p].Settled() {
			return false
		}
	}
	return true
}

// decide inspects every declared input. A failed required producer wins
// over a missing one, so users see the upstream error first. Optional
// inputs whose producer did not become Ready are treated as absent.
func (s *Scheduler) decide(id graph.NodeID) Decision {
	entry, ok := s.g.Entry(id)
	if !ok {
		return Decision{Node: id, Verdict: MarkUnready}
	}
	d := Decision{Node: id, Verdict: Dispatch}
	for _, in := range entry.Inputs {
		edges := s.g.Inputs(id, in.Name)
		if len(edges) == 0 {
			if in.Required && in.Default == nil && d.Verdict == Dispatch {
				d = Decision{Node: id, Verdict: MarkUnready, Cause: in.Name}
			}
			continue
		}
		if !in.Required {
			continue
		}
		for _, e := range edges {
			switch s.status[e.From] {
			case Failed, Blocked:
				return Decision{Node: id, Verdict: MarkBlocked, Cause: string(e.From)}
			case Unready:
				if d.Verdict == Dispatch {
					d = Decision{Node: id, Verdict: MarkUnready, Cause: string(e.From)}
				}
			}
		}
	}
	return d
}

type seqItem struct {
	id  graph.NodeID
	seq uint64
}

// seqHeap is a min-heap on insertion sequence.
type seqHeap []seqItem

func (h seqHeap) Len() int           { return len(h) }
func (h seqHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h seqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x any)        { *h = append(*h, x.(seqItem)) }
func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
