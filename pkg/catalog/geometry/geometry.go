// Package geometry provides the built-in node types: primitives,
// booleans, transforms, patterns, analysis and mesh export. Every node is
// a thin schema over one kernel request.
package geometry

import (
	"context"
	"fmt"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

// Port types.
const (
	TypeProfile = "profile"
	TypeSolid   = "solid"
	TypeMesh    = "mesh"
	TypeVec3    = "vec3"
)

// New returns a catalog holding every built-in node type.
func New() *catalog.Catalog {
	c := catalog.New()
	Register(c)
	return c
}

// Register adds the built-in node types to c. It panics if any type id is
// already taken.
func Register(c *catalog.Catalog) {
	c.MustRegister(
		rectangle(), circle(), extrude(),
		box(), cylinder(), sphere(),
		union(), difference(), intersection(),
		translate(), rotate(), linearPattern(), jitter(),
		boundingBox(), mesh(),
	)
}

func number(name string, def float64, min *float64) catalog.ParamSpec {
	return catalog.ParamSpec{Name: name, Type: catalog.Number, Default: def, Min: min}
}

func size(name string, def float64) catalog.ParamSpec {
	return number(name, def, catalog.Bound(0))
}

func solidIn(name string, required bool) catalog.InputSpec {
	return catalog.InputSpec{Name: name, Kind: catalog.Single, Type: TypeSolid, Required: required}
}

var solidOut = []catalog.OutputSpec{{Name: "solid", Type: TypeSolid}}

// call builds an EvaluateFunc that forwards the given inputs and every
// param to op, and returns the named response fields as outputs.
func call(op string, inputs []string, outputs ...string) catalog.EvaluateFunc {
	return func(ctx context.Context, env catalog.Env, in catalog.Inputs, p catalog.Params) (catalog.Outputs, error) {
		req := kernel.Request{Op: op, Params: make(map[string]any, len(p)+len(inputs))}
		for k, v := range p {
			req.Params[k] = v
		}
		for _, name := range inputs {
			req.Params[name] = in[name]
		}
		resp, err := env.Geometry.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make(catalog.Outputs, len(outputs))
		for _, name := range outputs {
			v, ok := resp[name]
			if !ok {
				return nil, kernel.Errorf(op, kernel.CodeTopology, "response missing %q", name)
			}
			out[name] = v
		}
		return out, nil
	}
}

func rectangle() *catalog.Entry {
	return &catalog.Entry{
		TypeID:      "Rectangle",
		Category:    "sketch",
		Description: "Axis-aligned rectangle profile with its corner at the origin.",
		Outputs:     []catalog.OutputSpec{{Name: "profile", Type: TypeProfile}},
		Params:      []catalog.ParamSpec{size("w", 10), size("h", 10)},
		Evaluate:    call(kernel.OpRectangle, nil, "profile"),
	}
}

func circle() *catalog.Entry {
	return &catalog.Entry{
		TypeID:      "Circle",
		Category:    "sketch",
		Description: "Circle profile centered on the origin.",
		Outputs:     []catalog.OutputSpec{{Name: "profile", Type: TypeProfile}},
		Params:      []catalog.ParamSpec{size("r", 5)},
		Evaluate:    call(kernel.OpCircle, nil, "profile"),
	}
}

func extrude() *catalog.Entry {
	return &catalog.Entry{
		TypeID:      "Extrude",
		Category:    "solid",
		Description: "Sweeps a profile along +Z.",
		Inputs: []catalog.InputSpec{
			{Name: "profile", Kind: catalog.Single, Type: TypeProfile, Required: true},
		},
		Outputs:  solidOut,
		Params:   []catalog.ParamSpec{size("height", 10)},
		Evaluate: call(kernel.OpExtrude, []string{"profile"}, "solid"),
	}
}

func box() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "Box",
		Category: "solid",
		Outputs:  solidOut,
		Params:   []catalog.ParamSpec{size("x", 10), size("y", 10), size("z", 10)},
		Evaluate: call(kernel.OpBox, nil, "solid"),
	}
}

func cylinder() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "Cylinder",
		Category: "solid",
		Outputs:  solidOut,
		Params:   []catalog.ParamSpec{size("height", 10), size("radius", 5)},
		Evaluate: call(kernel.OpCylinder, nil, "solid"),
	}
}

func sphere() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "Sphere",
		Category: "solid",
		Outputs:  solidOut,
		Params:   []catalog.ParamSpec{size("radius", 5)},
		Evaluate: call(kernel.OpSphere, nil, "solid"),
	}
}

func union() *catalog.Entry {
	return &catalog.Entry{
		TypeID:      "Union",
		Category:    "boolean",
		Description: "Union of every connected solid, in connection order.",
		Inputs: []catalog.InputSpec{
			{Name: "solids", Kind: catalog.List, Type: TypeSolid, Required: true},
		},
		Outputs:  solidOut,
		Evaluate: call(kernel.OpUnion, []string{"solids"}, "solid"),
	}
}

func difference() *catalog.Entry {
	sub := call(kernel.OpDifference, []string{"base", "tool"}, "solid")
	return &catalog.Entry{
		TypeID:      "Difference",
		Category:    "boolean",
		Description: "Subtracts tool from base. Without a tool the base passes through.",
		Inputs:      []catalog.InputSpec{solidIn("base", true), solidIn("tool", false)},
		Outputs:     solidOut,
		Evaluate: func(ctx context.Context, env catalog.Env, in catalog.Inputs, p catalog.Params) (catalog.Outputs, error) {
			if in["tool"] == nil {
				return catalog.Outputs{"solid": in["base"]}, nil
			}
			return sub(ctx, env, in, p)
		},
	}
}

func intersection() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "Intersection",
		Category: "boolean",
		Inputs:   []catalog.InputSpec{solidIn("a", true), solidIn("b", true)},
		Outputs:  solidOut,
		Evaluate: call(kernel.OpIntersection, []string{"a", "b"}, "solid"),
	}
}

func translate() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "Translate",
		Category: "transform",
		Inputs:   []catalog.InputSpec{solidIn("solid", true)},
		Outputs:  solidOut,
		Params:   []catalog.ParamSpec{number("x", 0, nil), number("y", 0, nil), number("z", 0, nil)},
		Evaluate: call(kernel.OpTranslate, []string{"solid"}, "solid"),
	}
}

func rotate() *catalog.Entry {
	deg := func(name string) catalog.ParamSpec {
		return catalog.ParamSpec{Name: name, Type: catalog.Number, Default: 0.0,
			Min: catalog.Bound(-360), Max: catalog.Bound(360)}
	}
	return &catalog.Entry{
		TypeID:      "Rotate",
		Category:    "transform",
		Description: "Euler rotation in degrees, applied X then Y then Z.",
		Inputs:      []catalog.InputSpec{solidIn("solid", true)},
		Outputs:     solidOut,
		Params:      []catalog.ParamSpec{deg("x"), deg("y"), deg("z")},
		Evaluate:    call(kernel.OpRotate, []string{"solid"}, "solid"),
	}
}

func linearPattern() *catalog.Entry {
	return &catalog.Entry{
		TypeID:      "LinearPattern",
		Category:    "pattern",
		Description: "Unions count copies of a solid, each offset by (dx, dy, dz) from the last.",
		Inputs:      []catalog.InputSpec{solidIn("solid", true)},
		Outputs:     solidOut,
		Params: []catalog.ParamSpec{
			{Name: "count", Type: catalog.Integer, Default: 2, Min: catalog.Bound(1), Max: catalog.Bound(1000)},
			number("dx", 10, nil), number("dy", 0, nil), number("dz", 0, nil),
		},
		Evaluate: call(kernel.OpPattern, []string{"solid"}, "solid"),
	}
}

func jitter() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "Jitter",
		Category: "pattern",
		Description: fmt.Sprintf("Moves a solid by a random offset up to amplitude on each axis. "+
			"Seed %d picks a fresh offset on every evaluation.", kernel.UnseededSentinel),
		Inputs:  []catalog.InputSpec{solidIn("solid", true)},
		Outputs: solidOut,
		Params: []catalog.ParamSpec{
			size("amplitude", 1),
			{Name: "seed", Type: catalog.Integer, Default: kernel.UnseededSentinel, Min: catalog.Bound(kernel.UnseededSentinel)},
		},
		Volatile: true,
		Evaluate: call(kernel.OpJitter, []string{"solid"}, "solid"),
	}
}

func boundingBox() *catalog.Entry {
	return &catalog.Entry{
		TypeID:   "BoundingBox",
		Category: "analysis",
		Inputs:   []catalog.InputSpec{solidIn("solid", true)},
		Outputs:  []catalog.OutputSpec{{Name: "min", Type: TypeVec3}, {Name: "max", Type: TypeVec3}},
		Evaluate: call(kernel.OpBoundingBox, []string{"solid"}, "min", "max"),
	}
}

func mesh() *catalog.Entry {
	return &catalog.Entry{
		TypeID:      "Mesh",
		Category:    "export",
		Description: "Tessellates a solid into a triangle mesh. An empty label is filled with the node id by the viewport.",
		Inputs:      []catalog.InputSpec{solidIn("solid", true)},
		Outputs:     []catalog.OutputSpec{{Name: "mesh", Type: TypeMesh}},
		Params:      []catalog.ParamSpec{{Name: "label", Type: catalog.String, Default: ""}},
		Evaluate:    call(kernel.OpMesh, []string{"solid"}, "mesh"),
	}
}
