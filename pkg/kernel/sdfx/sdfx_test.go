package sdfx

import (
	"context"
	"math"
	"testing"

	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

// testCells keeps marching cubes cheap in tests.
const testCells = 48

// mustSolid returns a checker for constructor results, so calls read
// mustSolid(t)(k.Box(1, 2, 3)).
func mustSolid(t *testing.T) func(kernel.Solid, error) kernel.Solid {
	return func(s kernel.Solid, err error) kernel.Solid {
		t.Helper()
		if err != nil {
			t.Fatalf("constructor failed: %v", err)
		}
		return s
	}
}

func assertBounds(t *testing.T, s kernel.Solid, wantMin, wantMax [3]float64, tol float64) {
	t.Helper()
	min, max := s.BoundingBox()
	for i := 0; i < 3; i++ {
		if math.Abs(min[i]-wantMin[i]) > tol {
			t.Errorf("min[%d] = %f, expected ~%f", i, min[i], wantMin[i])
		}
		if math.Abs(max[i]-wantMax[i]) > tol {
			t.Errorf("max[%d] = %f, expected ~%f", i, max[i], wantMax[i])
		}
	}
}

func TestBox(t *testing.T) {
	k := New(WithMeshCells(testCells))
	box := mustSolid(t)(k.Box(100, 50, 25))
	mesh, err := k.ToMesh(box)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("mesh is empty")
	}
	triCount := mesh.TriangleCount()
	if len(mesh.Vertices) != len(mesh.Normals) {
		t.Fatalf("vertices length %d != normals length %d", len(mesh.Vertices), len(mesh.Normals))
	}
	if len(mesh.Indices) != triCount*3 {
		t.Fatalf("indices length %d != triCount*3 %d", len(mesh.Indices), triCount*3)
	}
	t.Logf("box triangle count: %d", triCount)
}

func TestBoxBoundsMinCorner(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(100, 50, 25))
	assertBounds(t, box, [3]float64{0, 0, 0}, [3]float64{100, 50, 25}, 0.01)
}

func TestDegenerateBoxFails(t *testing.T) {
	k := New()
	if _, err := k.Box(-1, 10, 10); err == nil {
		t.Fatal("expected error for negative box dimension")
	}
}

func TestSphereBounds(t *testing.T) {
	k := New()
	s := mustSolid(t)(k.Sphere(10))
	assertBounds(t, s, [3]float64{-10, -10, -10}, [3]float64{10, 10, 10}, 0.01)
}

func TestExtrude(t *testing.T) {
	k := New()
	tests := []struct {
		name    string
		profile kernel.Profile
		height  float64
		wantMin [3]float64
		wantMax [3]float64
	}{
		{"rect", kernel.Profile{Kind: kernel.ProfileRect, Width: 10, Height: 5}, 20,
			[3]float64{0, 0, 0}, [3]float64{10, 5, 20}},
		{"circle", kernel.Profile{Kind: kernel.ProfileCircle, Radius: 4}, 12,
			[3]float64{-4, -4, 0}, [3]float64{4, 4, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSolid(t)(k.Extrude(tt.profile, tt.height))
			assertBounds(t, s, tt.wantMin, tt.wantMax, 0.01)
		})
	}
}

func TestDifference(t *testing.T) {
	k := New(WithMeshCells(testCells))

	box := mustSolid(t)(k.Box(100, 100, 100))
	boxMesh, err := k.ToMesh(box)
	if err != nil {
		t.Fatalf("ToMesh(box) failed: %v", err)
	}

	cyl := mustSolid(t)(k.Cylinder(120, 20, 32))
	diff := k.Difference(box, k.Translate(cyl, 50, 50, 50))
	diffMesh, err := k.ToMesh(diff)
	if err != nil {
		t.Fatalf("ToMesh(diff) failed: %v", err)
	}
	// A box with a hole should have more triangles than a plain box.
	if diffMesh.TriangleCount() <= boxMesh.TriangleCount() {
		t.Fatalf("difference (%d triangles) should have more triangles than box (%d triangles)",
			diffMesh.TriangleCount(), boxMesh.TriangleCount())
	}
}

func TestTranslate(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(10, 10, 10))
	translated := k.Translate(box, 100, 200, 300)
	assertBounds(t, translated, [3]float64{100, 200, 300}, [3]float64{110, 210, 310}, 0.5)
}

func TestRotate(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(100, 10, 10))

	// A long box along X rotated 90 degrees around Z should extend along Y instead.
	rotated := k.Rotate(box, 0, 0, 90)
	min, max := rotated.BoundingBox()

	const tol = 1.0
	if xExtent := max[0] - min[0]; math.Abs(xExtent-10) > tol {
		t.Errorf("rotated X extent = %f, expected ~10", xExtent)
	}
	if yExtent := max[1] - min[1]; math.Abs(yExtent-100) > tol {
		t.Errorf("rotated Y extent = %f, expected ~100", yExtent)
	}
}

func TestUnionAndIntersection(t *testing.T) {
	k := New(WithMeshCells(testCells))
	a := mustSolid(t)(k.Box(100, 100, 100))
	b := k.Translate(mustSolid(t)(k.Box(100, 100, 100)), 50, 0, 0)

	assertBounds(t, k.Union(a, b), [3]float64{0, 0, 0}, [3]float64{150, 100, 100}, 0.5)

	inter, err := k.ToMesh(k.Intersection(a, b))
	if err != nil {
		t.Fatalf("ToMesh(intersection) failed: %v", err)
	}
	if inter.IsEmpty() {
		t.Fatal("intersection mesh is empty")
	}
}

func TestForeignSolidThroughBridge(t *testing.T) {
	// A solid from another kernel panics inside sdfx; the local bridge must
	// turn that into a kernel error instead of crashing.
	l := kernel.NewLocal(New(), 1)
	_, err := l.Execute(context.Background(), kernel.Request{
		Op:     kernel.OpTranslate,
		Params: map[string]any{"solid": foreignSolid{}, "x": 1.0, "y": 0.0, "z": 0.0},
	})
	ke, ok := kernel.AsKernelError(err)
	if !ok {
		t.Fatalf("expected kernel error, got %v", err)
	}
	if ke.Code != kernel.CodePanic {
		t.Errorf("code = %q, want %q", ke.Code, kernel.CodePanic)
	}
}

type foreignSolid struct{}

func (foreignSolid) BoundingBox() (min, max [3]float64) { return }
