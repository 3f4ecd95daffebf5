package kernel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mesh helper method tests ---

func TestMeshCounts(t *testing.T) {
	tests := []struct {
		name      string
		mesh      Mesh
		wantVerts int
		wantTris  int
		wantEmpty bool
	}{
		{"empty", Mesh{}, 0, 0, true},
		{"one vertex", Mesh{Vertices: []float32{1, 2, 3}}, 1, 0, false},
		{"two triangles", Mesh{
			Vertices: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0},
			Indices:  []uint32{0, 1, 2, 2, 3, 0},
		}, 4, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mesh.VertexCount(); got != tt.wantVerts {
				t.Errorf("VertexCount() = %d, want %d", got, tt.wantVerts)
			}
			if got := tt.mesh.TriangleCount(); got != tt.wantTris {
				t.Errorf("TriangleCount() = %d, want %d", got, tt.wantTris)
			}
			if got := tt.mesh.IsEmpty(); got != tt.wantEmpty {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.wantEmpty)
			}
		})
	}
}

func TestMeshSizeBytes(t *testing.T) {
	m := &Mesh{
		Vertices: make([]float32, 9),
		Normals:  make([]float32, 9),
		Indices:  make([]uint32, 3),
		PartName: "abc",
	}
	if got, want := m.SizeBytes(), int64(9*4+9*4+3*4+3); got != want {
		t.Errorf("SizeBytes() = %d, want %d", got, want)
	}
}

// --- Stub kernel ---

// stubSolid is a minimal Solid implementation for testing.
type stubSolid struct {
	minBB, maxBB [3]float64
}

func (s *stubSolid) BoundingBox() (min, max [3]float64) {
	return s.minBB, s.maxBB
}

// stubKernel records bounding boxes only, which is enough to check how
// Local wires arguments through.
type stubKernel struct {
	panicOnMesh bool
}

func (k *stubKernel) Box(x, y, z float64) (Solid, error) {
	return &stubSolid{maxBB: [3]float64{x, y, z}}, nil
}

func (k *stubKernel) Cylinder(height, radius float64, _ int) (Solid, error) {
	return &stubSolid{
		minBB: [3]float64{-radius, -radius, 0},
		maxBB: [3]float64{radius, radius, height},
	}, nil
}

func (k *stubKernel) Sphere(radius float64) (Solid, error) {
	return &stubSolid{
		minBB: [3]float64{-radius, -radius, -radius},
		maxBB: [3]float64{radius, radius, radius},
	}, nil
}

func (k *stubKernel) Extrude(p Profile, height float64) (Solid, error) {
	if p.Kind == ProfileCircle {
		return k.Cylinder(height, p.Radius, 32)
	}
	return k.Box(p.Width, p.Height, height)
}

func (k *stubKernel) Union(a, b Solid) Solid {
	amin, amax := a.BoundingBox()
	bmin, bmax := b.BoundingBox()
	out := &stubSolid{}
	for i := 0; i < 3; i++ {
		out.minBB[i] = min(amin[i], bmin[i])
		out.maxBB[i] = max(amax[i], bmax[i])
	}
	return out
}

func (k *stubKernel) Difference(a, _ Solid) Solid   { return a }
func (k *stubKernel) Intersection(a, _ Solid) Solid { return a }

func (k *stubKernel) Translate(s Solid, x, y, z float64) Solid {
	lo, hi := s.BoundingBox()
	d := [3]float64{x, y, z}
	out := &stubSolid{}
	for i := 0; i < 3; i++ {
		out.minBB[i] = lo[i] + d[i]
		out.maxBB[i] = hi[i] + d[i]
	}
	return out
}

func (k *stubKernel) Rotate(s Solid, _, _, _ float64) Solid { return s }

func (k *stubKernel) ToMesh(_ Solid) (*Mesh, error) {
	if k.panicOnMesh {
		panic("marching cubes exploded")
	}
	return &Mesh{Vertices: []float32{0, 0, 0}, Indices: []uint32{0, 0, 0}}, nil
}

var _ Kernel = (*stubKernel)(nil)

// --- Local bridge ---

func TestLocalRectangleExtrude(t *testing.T) {
	l := NewLocal(&stubKernel{}, 2)
	ctx := context.Background()

	resp, err := l.Execute(ctx, Request{Op: OpRectangle, Params: map[string]any{"w": 10.0, "h": 5.0}})
	require.NoError(t, err)
	prof, ok := resp["profile"].(Profile)
	require.True(t, ok, "profile output has type %T", resp["profile"])
	assert.Equal(t, Profile{Kind: ProfileRect, Width: 10, Height: 5}, prof)

	resp, err = l.Execute(ctx, Request{Op: OpExtrude, Params: map[string]any{"profile": prof, "height": 20.0}})
	require.NoError(t, err)
	solid := resp["solid"].(Solid)
	_, hi := solid.BoundingBox()
	assert.Equal(t, [3]float64{10, 5, 20}, hi)
}

func TestLocalRejectsInvalidInput(t *testing.T) {
	l := NewLocal(&stubKernel{}, 1)
	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"missing param", Request{Op: OpBox, Params: map[string]any{"x": 1.0, "y": 1.0}}, CodeInvalidInput},
		{"non-positive", Request{Op: OpSphere, Params: map[string]any{"radius": 0.0}}, CodeInvalidInput},
		{"wrong type", Request{Op: OpCircle, Params: map[string]any{"r": "big"}}, CodeInvalidInput},
		{"empty union", Request{Op: OpUnion, Params: map[string]any{"solids": []any{}}}, CodeInvalidInput},
		{"pattern count", Request{Op: OpPattern, Params: map[string]any{
			"solid": &stubSolid{}, "count": 0.0, "dx": 1.0, "dy": 0.0, "dz": 0.0,
		}}, CodeInvalidInput},
		{"unknown op", Request{Op: "fillet"}, CodeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Execute(context.Background(), tt.req)
			ke, ok := AsKernelError(err)
			require.True(t, ok, "expected KernelError, got %v", err)
			assert.Equal(t, tt.code, ke.Code)
			assert.False(t, IsTransient(err))
		})
	}
}

func TestLocalRecoversPanics(t *testing.T) {
	l := NewLocal(&stubKernel{panicOnMesh: true}, 1)
	_, err := l.Execute(context.Background(), Request{Op: OpMesh, Params: map[string]any{"solid": &stubSolid{}}})
	ke, ok := AsKernelError(err)
	require.True(t, ok)
	assert.Equal(t, CodePanic, ke.Code)
	assert.Contains(t, ke.Message, "marching cubes exploded")
}

func TestLocalUnionAcceptsAnySlice(t *testing.T) {
	l := NewLocal(&stubKernel{}, 1)
	a := &stubSolid{maxBB: [3]float64{1, 1, 1}}
	b := &stubSolid{minBB: [3]float64{-2, 0, 0}, maxBB: [3]float64{0, 3, 1}}
	resp, err := l.Execute(context.Background(), Request{Op: OpUnion, Params: map[string]any{"solids": []any{a, b}}})
	require.NoError(t, err)
	lo, hi := resp["solid"].(Solid).BoundingBox()
	assert.Equal(t, [3]float64{-2, 0, 0}, lo)
	assert.Equal(t, [3]float64{1, 3, 1}, hi)
}

func TestLocalPattern(t *testing.T) {
	l := NewLocal(&stubKernel{}, 1)
	unit := &stubSolid{maxBB: [3]float64{1, 1, 1}}
	resp, err := l.Execute(context.Background(), Request{Op: OpPattern, Params: map[string]any{
		"solid": unit, "count": int64(4), "dx": 2.0, "dy": 0.0, "dz": 0.0,
	}})
	require.NoError(t, err)
	_, hi := resp["solid"].(Solid).BoundingBox()
	assert.Equal(t, 7.0, hi[0])
}

func TestLocalJitterSeeded(t *testing.T) {
	l := NewLocal(&stubKernel{}, 1)
	req := Request{Op: OpJitter, Params: map[string]any{
		"solid": &stubSolid{}, "amplitude": 5.0, "seed": int64(42),
	}}
	r1, err := l.Execute(context.Background(), req)
	require.NoError(t, err)
	r2, err := l.Execute(context.Background(), req)
	require.NoError(t, err)
	lo1, _ := r1["solid"].(Solid).BoundingBox()
	lo2, _ := r2["solid"].(Solid).BoundingBox()
	assert.Equal(t, lo1, lo2, "a fixed seed must reproduce the same offset")
	for _, v := range lo1 {
		assert.LessOrEqual(t, v, 5.0)
		assert.GreaterOrEqual(t, v, -5.0)
	}
}

func TestLocalHonoursCancelledContext(t *testing.T) {
	l := NewLocal(&stubKernel{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Execute(ctx, Request{Op: OpBox})
	assert.True(t, errors.Is(err, context.Canceled))
}

// slowKernel holds every Box call long enough for concurrent requests to
// overlap, and records how many ran at once.
type slowKernel struct {
	stubKernel
	running, peak atomic.Int32
}

func (k *slowKernel) Box(x, y, z float64) (Solid, error) {
	n := k.running.Add(1)
	defer k.running.Add(-1)
	for {
		p := k.peak.Load()
		if n <= p || k.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return k.stubKernel.Box(x, y, z)
}

func TestLocalBoundsConcurrency(t *testing.T) {
	for _, workers := range []int{1, 2} {
		k := &slowKernel{}
		l := NewLocal(k, workers)
		req := Request{Op: OpBox, Params: map[string]any{"x": 1.0, "y": 1.0, "z": 1.0}}

		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Execute(context.Background(), req)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, int(k.peak.Load()), l.Capacity(), "workers=%d", workers)
		assert.Equal(t, int32(0), k.running.Load())
	}
}

func TestLocalWaitingForSlotHonoursContext(t *testing.T) {
	k := &slowKernel{}
	l := NewLocal(k, 1)
	req := Request{Op: OpBox, Params: map[string]any{"x": 1.0, "y": 1.0, "z": 1.0}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Execute(context.Background(), req)
	}()
	require.Eventually(t, func() bool { return k.running.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := l.Execute(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-done

	// The slot is free again once the first call returns.
	_, err = l.Execute(context.Background(), req)
	assert.NoError(t, err)
}

func TestTransientWrapping(t *testing.T) {
	err := Transient(OpBox, ErrUnavailable)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	_, isKernel := AsKernelError(err)
	assert.False(t, isKernel)
}
