package graph

import (
	"fmt"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
)

// ValidationSeverity indicates whether a validation finding blocks evaluation
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks evaluation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	NodeID   NodeID             // which node has the problem (zero if graph-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.NodeID.IsZero() {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.NodeID.Short(), e.Message)
}

// Validate audits the graph and returns every finding. Edits already keep
// the graph structurally sound, so errors here indicate a bug; warnings
// flag nodes that will stay Unready. Validate never mutates the graph.
func Validate(g *Graph) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateDAG(g)...)
	errs = append(errs, validateEdges(g)...)
	errs = append(errs, validateRequiredInputs(g)...)
	return errs
}

// HasErrors reports whether any finding has error severity.
func HasErrors(findings []ValidationError) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// validateDAG checks for cycles using DFS with 3-color marking.
// White (0) = unvisited, gray (1) = in current DFS path, black (2) = fully explored.
// If we encounter a gray node during traversal, we have found a cycle.
func validateDAG(g *Graph) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	color := make(map[NodeID]int)
	var errs []ValidationError

	var visit func(id NodeID) bool // returns true if cycle found
	visit = func(id NodeID) bool {
		switch color[id] {
		case black:
			return false
		case gray:
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("cycle detected: node %s is part of a cycle", id.Short()),
				Severity: SeverityError,
			})
			return true
		}

		color[id] = gray
		for _, e := range g.outbound[id] {
			if visit(e.To) {
				return true
			}
		}
		color[id] = black
		return false
	}

	// Start in insertion order so findings are reproducible.
	for _, id := range g.order {
		if color[id] == white && visit(id) {
			break
		}
	}
	return errs
}

// validateEdges checks that every edge joins existing nodes through
// declared, type-compatible ports and that Single ports have one feed.
func validateEdges(g *Graph) []ValidationError {
	var errs []ValidationError
	bad := func(id NodeID, format string, args ...any) {
		errs = append(errs, ValidationError{NodeID: id, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
	}

	for _, e := range g.Edges() {
		src, ok := g.nodes[e.From]
		if !ok {
			bad(e.To, "edge %s references missing source", e)
			continue
		}
		dst, ok := g.nodes[e.To]
		if !ok {
			bad(e.From, "edge %s references missing target", e)
			continue
		}
		srcEntry, _ := g.catalog.Lookup(src.TypeID)
		dstEntry, _ := g.catalog.Lookup(dst.TypeID)
		out, okOut := srcEntry.Output(e.FromPort)
		in, okIn := dstEntry.Input(e.ToPort)
		if !okOut || !okIn {
			bad(e.To, "edge %s uses an undeclared port", e)
			continue
		}
		if !catalog.Compatible(out.Type, in.Type) {
			bad(e.To, "edge %s joins %s to %s", e, out.Type, in.Type)
		}
	}

	for _, id := range g.order {
		for port, edges := range g.inbound[id] {
			entry, _ := g.Entry(id)
			if in, ok := entry.Input(port); ok && in.Kind == catalog.Single && len(edges) > 1 {
				bad(id, "single port %q has %d feeds", port, len(edges))
			}
		}
	}
	return errs
}

// validateRequiredInputs warns about required ports with neither an edge
// nor a default. Such nodes stay Unready.
func validateRequiredInputs(g *Graph) []ValidationError {
	var warns []ValidationError
	for _, id := range g.order {
		entry, _ := g.Entry(id)
		for _, in := range entry.Inputs {
			if in.Required && in.Default == nil && len(g.inbound[id][in.Name]) == 0 {
				warns = append(warns, ValidationError{
					NodeID:   id,
					Message:  fmt.Sprintf("required input %q is not connected", in.Name),
					Severity: SeverityWarning,
				})
			}
		}
	}
	return warns
}
