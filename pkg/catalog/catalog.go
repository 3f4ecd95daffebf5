// Package catalog defines the node type contract consumed by the graph
// and the evaluation engine: typed input/output ports, parameter schemas
// with defaults and bounds, a volatility flag, and a single evaluate
// capability that issues kernel requests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

// AnyType is the port type compatible with every other port type.
const AnyType = "any"

// PortKind is the arity of an input port.
type PortKind int

const (
	// Single ports accept at most one incoming edge.
	Single PortKind = iota
	// List ports accept any number of edges; the resolved value is the
	// concatenation of source values in edge insertion order.
	List
)

func (k PortKind) String() string {
	switch k {
	case Single:
		return "single"
	case List:
		return "list"
	default:
		return fmt.Sprintf("PortKind(%d)", int(k))
	}
}

// InputSpec declares an input port.
type InputSpec struct {
	Name     string
	Kind     PortKind
	Type     string
	Required bool
	Default  any // used when the port is unconnected; nil means none
}

// OutputSpec declares an output port.
type OutputSpec struct {
	Name string
	Type string
}

// Inputs maps input port names to resolved values. List ports resolve
// to []any.
type Inputs map[string]any

// Params maps parameter names to coerced values.
type Params map[string]any

// Outputs maps output port names to produced values.
type Outputs map[string]any

// Env is what the engine hands to an evaluating node.
type Env struct {
	// Geometry is the kernel bridge; nodes do not own it.
	Geometry kernel.Bridge
	// NodeID identifies the node being evaluated, for labels and errors.
	NodeID string
}

// EvaluateFunc computes a node's outputs. It must be a deterministic
// function of its inputs and params unless the entry is Volatile.
type EvaluateFunc func(ctx context.Context, env Env, in Inputs, p Params) (Outputs, error)

// Entry is a node type: its schema plus its evaluation function.
type Entry struct {
	TypeID      string
	Category    string
	Description string
	Inputs      []InputSpec
	Outputs     []OutputSpec
	Params      []ParamSpec
	// Volatile entries are not pure functions of their inputs and are
	// never served from or written to the evaluation cache.
	Volatile bool
	Evaluate EvaluateFunc
}

// Input returns the input port spec named name.
func (e *Entry) Input(name string) (InputSpec, bool) {
	for _, in := range e.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputSpec{}, false
}

// Output returns the output port spec named name.
func (e *Entry) Output(name string) (OutputSpec, bool) {
	for _, out := range e.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputSpec{}, false
}

// Param returns the parameter spec named name.
func (e *Entry) Param(name string) (ParamSpec, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// DefaultParams returns a fresh map holding every parameter's default.
func (e *Entry) DefaultParams() Params {
	out := make(Params, len(e.Params))
	for _, p := range e.Params {
		if p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// Compatible reports whether an output of type from may feed an input of
// type to.
func Compatible(from, to string) bool {
	return from == to || from == AnyType || to == AnyType
}

// ErrDuplicateType is returned when registering a type id twice.
var ErrDuplicateType = errors.New("catalog: duplicate type id")

// Catalog is a registry of node types keyed by type id. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// Register validates and adds an entry. Parameter defaults are coerced in
// place so later hashing sees canonical values.
func (c *Catalog) Register(e *Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[e.TypeID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, e.TypeID)
	}
	c.entries[e.TypeID] = e
	return nil
}

// MustRegister is Register that panics on error, for static built-ins.
func (c *Catalog) MustRegister(entries ...*Entry) {
	for _, e := range entries {
		if err := c.Register(e); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the entry for typeID.
func (c *Catalog) Lookup(typeID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[typeID]
	return e, ok
}

// Entries returns all entries sorted by category, then type id.
func (c *Catalog) Entries() []*Entry {
	c.mu.RLock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].TypeID < out[j].TypeID
	})
	return out
}

// Len returns the number of registered types.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func validateEntry(e *Entry) error {
	if e == nil || e.TypeID == "" {
		return errors.New("catalog: entry needs a type id")
	}
	if e.Evaluate == nil {
		return fmt.Errorf("catalog: %s: missing evaluate function", e.TypeID)
	}
	seen := make(map[string]bool)
	for _, in := range e.Inputs {
		if in.Name == "" || seen["in:"+in.Name] {
			return fmt.Errorf("catalog: %s: bad or duplicate input %q", e.TypeID, in.Name)
		}
		seen["in:"+in.Name] = true
	}
	for _, out := range e.Outputs {
		if out.Name == "" || seen["out:"+out.Name] {
			return fmt.Errorf("catalog: %s: bad or duplicate output %q", e.TypeID, out.Name)
		}
		seen["out:"+out.Name] = true
	}
	for i, p := range e.Params {
		if p.Name == "" || seen["param:"+p.Name] {
			return fmt.Errorf("catalog: %s: bad or duplicate param %q", e.TypeID, p.Name)
		}
		seen["param:"+p.Name] = true
		if p.Default == nil {
			continue
		}
		v, err := p.Coerce(p.Default)
		if err != nil {
			return fmt.Errorf("catalog: %s: default for %q: %w", e.TypeID, p.Name, err)
		}
		e.Params[i].Default = v
	}
	return nil
}
