package kernel

import "context"

// Operation names understood by Local.
const (
	OpRectangle    = "rectangle"
	OpCircle       = "circle"
	OpExtrude      = "extrude"
	OpBox          = "box"
	OpCylinder     = "cylinder"
	OpSphere       = "sphere"
	OpUnion        = "union"
	OpDifference   = "difference"
	OpIntersection = "intersection"
	OpTranslate    = "translate"
	OpRotate       = "rotate"
	OpPattern      = "pattern"
	OpBoundingBox  = "bbox"
	OpMesh         = "mesh"
	OpJitter       = "jitter"
)

// Request is a single kernel call: an operation name and its arguments.
// Geometry handles (Solid, Profile) travel in Params alongside scalars.
type Request struct {
	Op     string
	Params map[string]any
}

// Response holds the named outputs of a kernel call.
type Response map[string]any

// Bridge is the engine's view of the geometry kernel: a request/response
// service that may be slow, may fail, and has no side effects on the graph.
// Implementations return *KernelError for deterministic rejections and
// *TransientError for failures worth retrying.
type Bridge interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// BridgeFunc adapts a function to the Bridge interface.
type BridgeFunc func(ctx context.Context, req Request) (Response, error)

// Execute calls f.
func (f BridgeFunc) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Capacitor is implemented by bridges that know how many requests they
// can run in parallel.
type Capacitor interface {
	Capacity() int
}
