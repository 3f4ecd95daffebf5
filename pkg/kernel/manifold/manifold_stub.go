//go:build !manifold

// Package manifold binds the Manifold mesh-boolean library as a geometry
// kernel. Without the "manifold" build tag this stub is compiled instead
// and New reports ErrNotBuilt.
package manifold

import "github.com/madfam-io/sim4d-sub012/pkg/kernel"

// Available reports whether the Manifold kernel was compiled in.
const Available = false

// New returns ErrNotBuilt.
func New() (kernel.Kernel, error) {
	return nil, ErrNotBuilt
}
