package graph

import (
	"fmt"
	"slices"
)

// NodeID identifies a node instance. Generated ids are UUIDs; callers may
// supply readable ids with WithID.
type NodeID string

// ZeroID is the empty NodeID.
const ZeroID NodeID = ""

// IsZero reports whether id is empty.
func (id NodeID) IsZero() bool { return id == ZeroID }

// Short returns a prefix of the id for log and error messages.
func (id NodeID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// Edge connects an output port of one node to an input port of another.
// Seq records insertion order, which orders the values of a List port.
type Edge struct {
	From     NodeID `json:"from"`
	FromPort string `json:"fromPort"`
	To       NodeID `json:"to"`
	ToPort   string `json:"toPort"`
	Seq      uint64 `json:"seq"`
}

// Same reports whether e and o join the same ports, ignoring Seq.
func (e Edge) Same(o Edge) bool {
	return e.From == o.From && e.FromPort == o.FromPort && e.To == o.To && e.ToPort == o.ToPort
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.From.Short(), e.FromPort, e.To.Short(), e.ToPort)
}

// Change describes the effect of one successful mutation. Affected holds
// the nodes whose own inputs or params changed; their dependents are
// derived by the dependency index.
type Change struct {
	Generation   uint64
	Affected     []NodeID
	AddedNodes   []NodeID
	RemovedNodes []NodeID
	AddedEdges   []Edge
	RemovedEdges []Edge
}

// Touches reports whether id is among the directly affected nodes.
func (c Change) Touches(id NodeID) bool {
	return slices.Contains(c.Affected, id)
}
