//go:build manifold

// Package manifold binds the Manifold mesh-boolean library
// (https://github.com/elalish/manifold) as a geometry kernel. Solids are
// exact triangle meshes, so booleans keep sharp edges and ToMesh returns
// the mesh as is instead of sampling a field.
//
// Requires manifoldc installed under /usr/local. Build with -tags=manifold.
package manifold

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lmanifoldc

#include <stdlib.h>
#include <manifold/manifoldc.h>
*/
import "C"

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

var (
	_ kernel.Kernel = (*Kernel)(nil)
	_ kernel.Solid  = (*solid)(nil)
)

// Available reports whether the Manifold kernel was compiled in.
const Available = true

// DefaultSegments is used for round solids when the caller passes none.
const DefaultSegments = 64

type solid struct {
	ptr *C.ManifoldManifold
}

// BoundingBox returns the axis-aligned bounding box.
func (s *solid) BoundingBox() (min, max [3]float64) {
	box := C.manifold_bounding_box(C.manifold_alloc_box(), s.ptr)
	defer C.manifold_delete_box(box)

	min = [3]float64{float64(C.manifold_box_min_x(box)), float64(C.manifold_box_min_y(box)), float64(C.manifold_box_min_z(box))}
	max = [3]float64{float64(C.manifold_box_max_x(box)), float64(C.manifold_box_max_y(box)), float64(C.manifold_box_max_z(box))}
	return min, max
}

// wrap takes ownership of ptr; the C object is freed when the solid is
// collected.
func wrap(ptr *C.ManifoldManifold) *solid {
	s := &solid{ptr: ptr}
	runtime.SetFinalizer(s, func(s *solid) {
		if s.ptr != nil {
			C.manifold_delete_manifold(s.ptr)
			s.ptr = nil
		}
	})
	return s
}

// unwrap panics on solids from another kernel; the bridge reports the
// panic as a kernel error for the node.
func unwrap(s kernel.Solid) *C.ManifoldManifold {
	ms, ok := s.(*solid)
	if !ok {
		panic(fmt.Sprintf("manifold: foreign solid %T", s))
	}
	return ms.ptr
}

// Kernel implements kernel.Kernel over manifoldc.
type Kernel struct{}

// New returns a Manifold kernel.
func New() (kernel.Kernel, error) {
	return &Kernel{}, nil
}

func positive(op string, vs ...float64) error {
	for _, v := range vs {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("manifold.%s: dimensions must be positive, got %v", op, vs)
		}
	}
	return nil
}

// Box creates a box with its minimum corner at the origin.
func (k *Kernel) Box(x, y, z float64) (kernel.Solid, error) {
	if err := positive("Box", x, y, z); err != nil {
		return nil, err
	}
	return wrap(C.manifold_cube(C.manifold_alloc_manifold(), C.double(x), C.double(y), C.double(z), 0)), nil
}

// Cylinder creates a cylinder along Z centered on the origin.
func (k *Kernel) Cylinder(height, radius float64, segments int) (kernel.Solid, error) {
	if err := positive("Cylinder", height, radius); err != nil {
		return nil, err
	}
	if segments < 3 {
		segments = DefaultSegments
	}
	ptr := C.manifold_cylinder(C.manifold_alloc_manifold(),
		C.double(height), C.double(radius), C.double(radius), C.int(segments), 1)
	return wrap(ptr), nil
}

// Sphere creates a sphere centered on the origin.
func (k *Kernel) Sphere(radius float64) (kernel.Solid, error) {
	if err := positive("Sphere", radius); err != nil {
		return nil, err
	}
	return wrap(C.manifold_sphere(C.manifold_alloc_manifold(), C.double(radius), DefaultSegments)), nil
}

// Extrude sweeps a profile along +Z from z=0, anchored the same way as
// the sdfx kernel.
func (k *Kernel) Extrude(p kernel.Profile, height float64) (kernel.Solid, error) {
	switch p.Kind {
	case kernel.ProfileRect:
		return k.Box(p.Width, p.Height, height)
	case kernel.ProfileCircle:
		if err := positive("Extrude", p.Radius, height); err != nil {
			return nil, err
		}
		ptr := C.manifold_cylinder(C.manifold_alloc_manifold(),
			C.double(height), C.double(p.Radius), C.double(p.Radius), DefaultSegments, 0)
		return wrap(ptr), nil
	}
	return nil, fmt.Errorf("manifold: cannot extrude %s profile", p.Kind)
}

// Union returns the union of two solids.
func (k *Kernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(C.manifold_union(C.manifold_alloc_manifold(), unwrap(a), unwrap(b)))
}

// Difference returns a minus b.
func (k *Kernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(C.manifold_difference(C.manifold_alloc_manifold(), unwrap(a), unwrap(b)))
}

// Intersection returns the intersection of two solids.
func (k *Kernel) Intersection(a, b kernel.Solid) kernel.Solid {
	return wrap(C.manifold_intersection(C.manifold_alloc_manifold(), unwrap(a), unwrap(b)))
}

// Translate moves a solid by (x, y, z).
func (k *Kernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	return wrap(C.manifold_translate(C.manifold_alloc_manifold(), unwrap(s), C.double(x), C.double(y), C.double(z)))
}

// Rotate rotates a solid by Euler angles in degrees, X then Y then Z.
func (k *Kernel) Rotate(s kernel.Solid, x, y, z float64) kernel.Solid {
	return wrap(C.manifold_rotate(C.manifold_alloc_manifold(), unwrap(s), C.double(x), C.double(y), C.double(z)))
}

// ToMesh copies the solid's MeshGL into a kernel.Mesh. Positions are the
// first three vertex properties; normals follow when present and are
// otherwise averaged from the faces.
func (k *Kernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	gl := C.manifold_get_meshgl(C.manifold_alloc_meshgl(), unwrap(s))
	defer C.manifold_delete_meshgl(gl)

	numVert := int(C.manifold_meshgl_num_vert(gl))
	numTri := int(C.manifold_meshgl_num_tri(gl))
	if numVert == 0 || numTri == 0 {
		return nil, fmt.Errorf("manifold: solid has no surface")
	}
	numProp := int(C.manifold_meshgl_num_prop(gl))

	props := make([]float32, numVert*numProp)
	C.manifold_meshgl_vert_properties((*C.float)(unsafe.Pointer(&props[0])), gl)
	indices := make([]uint32, numTri*3)
	C.manifold_meshgl_tri_verts((*C.uint32_t)(unsafe.Pointer(&indices[0])), gl)

	m := &kernel.Mesh{
		Vertices: make([]float32, numVert*3),
		Normals:  make([]float32, numVert*3),
		Indices:  indices,
	}
	for i := range numVert {
		copy(m.Vertices[i*3:i*3+3], props[i*numProp:i*numProp+3])
		if numProp >= 6 {
			copy(m.Normals[i*3:i*3+3], props[i*numProp+3:i*numProp+6])
		}
	}
	if numProp < 6 {
		vertexNormals(m)
	}
	return m, nil
}

// vertexNormals sets each vertex normal to the normalized sum of the
// face normals around it.
func vertexNormals(m *kernel.Mesh) {
	v := m.Vertices
	for t := 0; t+2 < len(m.Indices); t += 3 {
		i0, i1, i2 := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		ax, ay, az := v[i0*3], v[i0*3+1], v[i0*3+2]
		e1x, e1y, e1z := v[i1*3]-ax, v[i1*3+1]-ay, v[i1*3+2]-az
		e2x, e2y, e2z := v[i2*3]-ax, v[i2*3+1]-ay, v[i2*3+2]-az
		nx := e1y*e2z - e1z*e2y
		ny := e1z*e2x - e1x*e2z
		nz := e1x*e2y - e1y*e2x
		for _, i := range []uint32{i0, i1, i2} {
			m.Normals[i*3] += nx
			m.Normals[i*3+1] += ny
			m.Normals[i*3+2] += nz
		}
	}
	for i := 0; i+2 < len(m.Normals); i += 3 {
		n := m.Normals[i : i+3]
		l := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
		if l > 1e-12 {
			n[0], n[1], n[2] = n[0]/l, n[1]/l, n[2]/l
		}
	}
}
