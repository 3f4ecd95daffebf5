package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

var (
	// ErrTimeout marks a node whose kernel call exceeded the per-attempt
	// timeout on every attempt.
	ErrTimeout = errors.New("kernel call timed out")
	// ErrBlocked marks a node that was not evaluated because a required
	// producer failed.
	ErrBlocked = errors.New("blocked by upstream error")
	// ErrUnready marks a node with a required input that has no value.
	ErrUnready = errors.New("required input missing")
)

// TimeoutError records which node timed out and after how long.
type TimeoutError struct {
	Node    graph.NodeID
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s: %s after %s", e.Node, ErrTimeout, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// BlockedError names the upstream node responsible for a Blocked status.
type BlockedError struct {
	Node     graph.NodeID
	Upstream graph.NodeID
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("node %s: %s in %s", e.Node, ErrBlocked, e.Upstream)
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// UnreadyError names the unconnected port, or the Unready producer, that
// keeps a node from evaluating. It is informational, not a failure.
type UnreadyError struct {
	Node  graph.NodeID
	Cause string
}

func (e *UnreadyError) Error() string {
	return fmt.Sprintf("node %s: %s (%s)", e.Node, ErrUnready, e.Cause)
}

func (e *UnreadyError) Unwrap() error { return ErrUnready }
