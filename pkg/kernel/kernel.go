// Package kernel defines the geometry kernel contracts used by the
// evaluation engine. Kernel is the in-process solid modeling abstraction
// (sdfx today); Bridge is the request/response surface the engine talks
// to, which may sit in front of a local Kernel or a remote worker pool.
package kernel

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// ProfileKind identifies the shape of a planar profile.
type ProfileKind int

const (
	ProfileRect ProfileKind = iota
	ProfileCircle
)

func (k ProfileKind) String() string {
	switch k {
	case ProfileRect:
		return "rect"
	case ProfileCircle:
		return "circle"
	default:
		return "unknown"
	}
}

// Profile is a closed planar shape in the XY plane, anchored at the origin.
// Profiles are plain values so they hash and compare cheaply; the kernel
// only turns them into geometry when they are extruded.
type Profile struct {
	Kind   ProfileKind `msgpack:"kind"`
	Width  float64     `msgpack:"width,omitempty"`
	Height float64     `msgpack:"height,omitempty"`
	Radius float64     `msgpack:"radius,omitempty"`
}

// Kernel is the abstract geometry kernel interface.
// Constructors validate their inputs and return an error for degenerate
// shapes; booleans and transforms assume valid solids.
type Kernel interface {
	// Primitives
	Box(x, y, z float64) (Solid, error)
	Cylinder(height, radius float64, segments int) (Solid, error)
	Sphere(radius float64) (Solid, error)
	Extrude(p Profile, height float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees

	// Mesh output
	ToMesh(s Solid) (*Mesh, error)
}
