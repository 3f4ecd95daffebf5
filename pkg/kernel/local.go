package kernel

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// maxPatternCount caps LinearPattern copies so a typo cannot stall a worker.
const maxPatternCount = 1000

// UnseededSentinel is the seed value meaning "pick unpredictably".
const UnseededSentinel = -1

// Compile-time interface checks.
var (
	_ Bridge    = (*Local)(nil)
	_ Capacitor = (*Local)(nil)
)

// Local serves Bridge requests in-process by dispatching them onto a Kernel.
// At most Capacity requests run at once; callers beyond that wait for a
// slot or for their context to end. Panics raised by the kernel are
// converted into KernelErrors so one bad node cannot take down the engine.
type Local struct {
	kernel  Kernel
	workers int
	slots   *semaphore.Weighted
}

// NewLocal returns a Local bridge over k. A non-positive workers value
// defaults to the number of CPUs.
func NewLocal(k Kernel, workers int) *Local {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Local{kernel: k, workers: workers, slots: semaphore.NewWeighted(int64(workers))}
}

// Capacity returns the number of requests Local is willing to run at once.
func (l *Local) Capacity() int {
	return l.workers
}

// Execute runs a single request against the wrapped kernel.
func (l *Local) Execute(ctx context.Context, req Request) (resp Response, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.slots.Release(1)
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = Errorf(req.Op, CodePanic, "%v", r)
		}
	}()

	a := args{op: req.Op, p: req.Params}
	switch req.Op {
	case OpRectangle:
		w, h := a.positive("w"), a.positive("h")
		if a.err != nil {
			return nil, a.err
		}
		return Response{"profile": Profile{Kind: ProfileRect, Width: w, Height: h}}, nil

	case OpCircle:
		r := a.positive("r")
		if a.err != nil {
			return nil, a.err
		}
		return Response{"profile": Profile{Kind: ProfileCircle, Radius: r}}, nil

	case OpExtrude:
		p := a.profile("profile")
		h := a.positive("height")
		if a.err != nil {
			return nil, a.err
		}
		return l.solid(req.Op, func() (Solid, error) { return l.kernel.Extrude(p, h) })

	case OpBox:
		x, y, z := a.positive("x"), a.positive("y"), a.positive("z")
		if a.err != nil {
			return nil, a.err
		}
		return l.solid(req.Op, func() (Solid, error) { return l.kernel.Box(x, y, z) })

	case OpCylinder:
		h, r := a.positive("height"), a.positive("radius")
		if a.err != nil {
			return nil, a.err
		}
		return l.solid(req.Op, func() (Solid, error) { return l.kernel.Cylinder(h, r, 32) })

	case OpSphere:
		r := a.positive("radius")
		if a.err != nil {
			return nil, a.err
		}
		return l.solid(req.Op, func() (Solid, error) { return l.kernel.Sphere(r) })

	case OpUnion:
		solids := a.solids("solids")
		if a.err != nil {
			return nil, a.err
		}
		if len(solids) == 0 {
			return nil, Errorf(req.Op, CodeInvalidInput, "union needs at least one solid")
		}
		acc := solids[0]
		for _, s := range solids[1:] {
			acc = l.kernel.Union(acc, s)
		}
		return Response{"solid": acc}, nil

	case OpDifference:
		base, tool := a.solid("base"), a.solid("tool")
		if a.err != nil {
			return nil, a.err
		}
		return Response{"solid": l.kernel.Difference(base, tool)}, nil

	case OpIntersection:
		x, y := a.solid("a"), a.solid("b")
		if a.err != nil {
			return nil, a.err
		}
		return Response{"solid": l.kernel.Intersection(x, y)}, nil

	case OpTranslate:
		s := a.solid("solid")
		x, y, z := a.number("x"), a.number("y"), a.number("z")
		if a.err != nil {
			return nil, a.err
		}
		return Response{"solid": l.kernel.Translate(s, x, y, z)}, nil

	case OpRotate:
		s := a.solid("solid")
		x, y, z := a.number("x"), a.number("y"), a.number("z")
		if a.err != nil {
			return nil, a.err
		}
		return Response{"solid": l.kernel.Rotate(s, x, y, z)}, nil

	case OpPattern:
		s := a.solid("solid")
		count := int(a.number("count"))
		dx, dy, dz := a.number("dx"), a.number("dy"), a.number("dz")
		if a.err != nil {
			return nil, a.err
		}
		if count < 1 || count > maxPatternCount {
			return nil, Errorf(req.Op, CodeInvalidInput, "count %d outside [1, %d]", count, maxPatternCount)
		}
		acc := s
		for i := 1; i < count; i++ {
			f := float64(i)
			acc = l.kernel.Union(acc, l.kernel.Translate(s, dx*f, dy*f, dz*f))
		}
		return Response{"solid": acc}, nil

	case OpBoundingBox:
		s := a.solid("solid")
		if a.err != nil {
			return nil, a.err
		}
		lo, hi := s.BoundingBox()
		return Response{"min": lo, "max": hi}, nil

	case OpMesh:
		s := a.solid("solid")
		if a.err != nil {
			return nil, a.err
		}
		m, err := l.kernel.ToMesh(s)
		if err != nil {
			return nil, Errorf(req.Op, CodeTopology, "%v", err)
		}
		if label, ok := req.Params["label"].(string); ok {
			m.PartName = label
		}
		return Response{"mesh": m}, nil

	case OpJitter:
		s := a.solid("solid")
		amp := a.number("amplitude")
		seed := int64(a.number("seed"))
		if a.err != nil {
			return nil, a.err
		}
		var rng *rand.Rand
		if seed == UnseededSentinel {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		} else {
			rng = rand.New(rand.NewPCG(uint64(seed), 0))
		}
		off := func() float64 { return (rng.Float64()*2 - 1) * amp }
		return Response{"solid": l.kernel.Translate(s, off(), off(), off())}, nil
	}

	return nil, Errorf(req.Op, CodeUnsupported, "unknown operation")
}

// solid runs a constructor and maps its error to an invalid-input rejection.
func (l *Local) solid(op string, build func() (Solid, error)) (Response, error) {
	s, err := build()
	if err != nil {
		return nil, Errorf(op, CodeInvalidInput, "%v", err)
	}
	return Response{"solid": s}, nil
}

// args extracts typed request parameters, remembering the first failure so
// a handler can read every argument and check once.
type args struct {
	op  string
	p   map[string]any
	err error
}

func (a *args) fail(format string, v ...any) {
	if a.err == nil {
		a.err = Errorf(a.op, CodeInvalidInput, format, v...)
	}
}

func (a *args) number(name string) float64 {
	switch v := a.p[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case nil:
		a.fail("missing parameter %q", name)
	default:
		a.fail("parameter %q: expected number, got %T", name, v)
	}
	return 0
}

func (a *args) positive(name string) float64 {
	f := a.number(name)
	if a.err == nil && f <= 0 {
		a.fail("parameter %q must be positive, got %g", name, f)
	}
	return f
}

func (a *args) solid(name string) Solid {
	s, ok := a.p[name].(Solid)
	if !ok {
		a.fail("parameter %q: expected solid, got %T", name, a.p[name])
	}
	return s
}

func (a *args) solids(name string) []Solid {
	switch v := a.p[name].(type) {
	case []Solid:
		return v
	case []any:
		out := make([]Solid, 0, len(v))
		for i, item := range v {
			s, ok := item.(Solid)
			if !ok {
				a.fail("parameter %q[%d]: expected solid, got %T", name, i, item)
				return nil
			}
			out = append(out, s)
		}
		return out
	case Solid:
		return []Solid{v}
	}
	a.fail("parameter %q: expected list of solids, got %T", name, a.p[name])
	return nil
}

func (a *args) profile(name string) Profile {
	p, ok := a.p[name].(Profile)
	if !ok {
		a.fail("parameter %q: expected profile, got %T", name, a.p[name])
	}
	return p
}

// String implements fmt.Stringer for log output.
func (r Request) String() string {
	return fmt.Sprintf("%s(%d params)", r.Op, len(r.Params))
}
