package graph

import (
	"maps"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
)

// NodeInstance is one node in the graph. Values returned by Graph are
// copies; edit through the Graph methods.
type NodeInstance struct {
	ID     NodeID         `json:"id"`
	TypeID string         `json:"typeId"`
	Params catalog.Params `json:"params"`
	// Generation is the graph generation at which this node's params were
	// last written.
	Generation uint64 `json:"generation"`
	// Seq is the insertion order, used to break scheduling ties.
	Seq uint64 `json:"seq"`
}

func (n *NodeInstance) clone() NodeInstance {
	c := *n
	c.Params = maps.Clone(n.Params)
	return c
}

// AddOption configures AddNode.
type AddOption func(*addOptions)

type addOptions struct {
	id NodeID
}

// WithID assigns a caller-chosen id instead of a generated one.
func WithID(id NodeID) AddOption {
	return func(o *addOptions) { o.id = id }
}
