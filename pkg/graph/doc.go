// Package graph is the mutable node graph edited by users: node instances
// of catalog types, typed edges between their ports, and a generation
// counter bumped once per successful edit. The graph rejects any edit
// that would leave it cyclic or violate a port or parameter schema, so
// it never holds an invalid state.
package graph
