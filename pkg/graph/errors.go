package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
)

// Structural error kinds. A StructuralError unwraps to one of these, so
// callers test with errors.Is.
var (
	ErrNotFound           = errors.New("node not found")
	ErrCycleDetected      = errors.New("cycle detected")
	ErrPortTypeMismatch   = errors.New("port type mismatch")
	ErrPortArityViolation = errors.New("port arity violation")
	ErrUnknownPort        = errors.New("unknown port")
	ErrUnknownParam       = errors.New("unknown param")
	ErrUnknownType        = errors.New("unknown node type")
	ErrDuplicateNode      = errors.New("duplicate node id")
	ErrEdgeNotFound       = errors.New("edge not found")
	ErrOutOfRange         = catalog.ErrOutOfRange
	ErrParamType          = catalog.ErrParamType
)

// StructuralError is a rejected edit. The graph is unchanged when one is
// returned.
type StructuralError struct {
	Op     string // addNode, removeNode, connect, disconnect, setParam
	Kind   error
	Node   NodeID
	Port   string
	Detail string
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	b.WriteString("graph: ")
	b.WriteString(e.Op)
	if !e.Node.IsZero() {
		fmt.Fprintf(&b, " %s", e.Node.Short())
		if e.Port != "" {
			fmt.Fprintf(&b, ".%s", e.Port)
		}
	}
	fmt.Fprintf(&b, ": %v", e.Kind)
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *StructuralError) Unwrap() error { return e.Kind }

func structural(op string, kind error, node NodeID, port, format string, args ...any) *StructuralError {
	return &StructuralError{Op: op, Kind: kind, Node: node, Port: port, Detail: fmt.Sprintf(format, args...)}
}

// paramError maps a catalog coercion failure onto the graph taxonomy.
func paramError(op string, node NodeID, name string, err error) *StructuralError {
	kind := ErrParamType
	if errors.Is(err, ErrOutOfRange) {
		kind = ErrOutOfRange
	}
	return &StructuralError{Op: op, Kind: kind, Node: node, Port: name, Detail: err.Error()}
}
