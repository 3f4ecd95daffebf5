package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/madfam-io/sim4d-sub012/pkg/config"
	"github.com/madfam-io/sim4d-sub012/pkg/ctxlog"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel/manifold"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(config.Default(), ctxlog.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return app
}

func evaluate(t *testing.T, app *App, source string, meshes bool) EvalResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	result, err := app.Evaluate(ctx, source, meshes)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	return result
}

func nodeByID(t *testing.T, result EvalResult, id string) NodeData {
	t.Helper()
	for _, n := range result.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %q not in result", id)
	return NodeData{}
}

// TestE2EPlateExample exercises the full pipeline: script -> design ->
// engine -> results.
func TestE2EPlateExample(t *testing.T) {
	source, err := os.ReadFile("examples/plate.lisp")
	if err != nil {
		t.Fatalf("failed to read plate.lisp: %v", err)
	}

	result := evaluate(t, newTestApp(t), string(source), false)
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			t.Errorf("eval error (line %d): %s", e.Line, e.Message)
		}
		t.FailNow()
	}

	if len(result.Nodes) != 7 {
		t.Fatalf("expected 7 nodes, got %d", len(result.Nodes))
	}
	for _, n := range result.Nodes {
		if n.Status != "ready" {
			t.Errorf("node %s: status %s (%s)", n.ID, n.Status, n.Error)
		}
		if n.Hash == "" {
			t.Errorf("node %s: no hash", n.ID)
		}
	}
	if result.Summary.Added != 7 || result.Summary.Connected != 6 {
		t.Errorf("summary = %s", result.Summary)
	}
}

// TestE2EEditReusesUnchangedNodes re-runs an edited script against the same
// app; nodes upstream of the edit keep the generation they were computed at.
func TestE2EEditReusesUnchangedNodes(t *testing.T) {
	app := newTestApp(t)
	source, err := os.ReadFile("examples/plate.lisp")
	if err != nil {
		t.Fatal(err)
	}
	first := evaluate(t, app, string(source), false)

	edited := strings.Replace(string(source), ":height 6", ":height 8", 1)
	second := evaluate(t, app, edited, false)
	if len(second.Errors) > 0 {
		t.Fatalf("eval errors: %v", second.Errors)
	}
	if second.Summary.Updated != 1 || second.Summary.Added != 0 {
		t.Errorf("summary = %s, want a single param write", second.Summary)
	}

	outline := nodeByID(t, second, "outline")
	if outline.ComputedAt != nodeByID(t, first, "outline").ComputedAt {
		t.Errorf("outline was recomputed at generation %d", outline.ComputedAt)
	}
	if got := nodeByID(t, second, "plate").ComputedAt; got != second.Generation {
		t.Errorf("plate computed at %d, want current generation %d", got, second.Generation)
	}
	if nodeByID(t, second, "plate").Hash == nodeByID(t, first, "plate").Hash {
		t.Error("plate hash did not change")
	}
}

// TestE2EEmptySource ensures the pipeline handles empty input gracefully.
func TestE2EEmptySource(t *testing.T) {
	for _, src := range []string{"", "   \n\t\n  ", ";; only a comment\n; and another"} {
		result := evaluate(t, newTestApp(t), src, false)
		if len(result.Errors) > 0 {
			t.Errorf("unexpected errors for %q: %v", src, result.Errors)
		}
		if len(result.Nodes) != 0 {
			t.Errorf("expected 0 nodes for %q, got %d", src, len(result.Nodes))
		}
	}
}

// TestE2ESyntaxError ensures eval errors are reported, not fatal errors.
func TestE2ESyntaxError(t *testing.T) {
	result := evaluate(t, newTestApp(t), `(node "test" "Box"`, false)

	if len(result.Errors) == 0 {
		t.Fatal("expected eval errors for syntax error")
	}
	if len(result.Nodes) != 0 {
		t.Errorf("expected 0 nodes on error, got %d", len(result.Nodes))
	}
}

func TestE2EUnknownNodeType(t *testing.T) {
	result := evaluate(t, newTestApp(t), `(node "pot" "Teapot")`, false)
	if len(result.Errors) == 0 {
		t.Fatal("expected an error for an unknown node type")
	}
}

// TestE2EGraphRejection covers scripts that parse but describe an invalid graph.
func TestE2EGraphRejection(t *testing.T) {
	source := `
(node "r" "Rectangle")
(node "t" "Translate")
(connect "r" "profile" "t" "solid")
`
	result := evaluate(t, newTestApp(t), source, false)
	if len(result.Errors) == 0 {
		t.Fatal("expected a port type error")
	}
	if !strings.Contains(result.Errors[0].Message, "type") {
		t.Errorf("error %q does not mention the type mismatch", result.Errors[0].Message)
	}
}

func TestE2EUnreadyAndBlockedNodes(t *testing.T) {
	source := `
(node "loose" "Extrude")
(node "moved" "Translate")
(connect "loose" "solid" "moved" "solid")
(node "ok" "Sphere")
`
	result := evaluate(t, newTestApp(t), source, false)
	if len(result.Errors) > 0 {
		t.Fatalf("eval errors: %v", result.Errors)
	}
	if got := nodeByID(t, result, "loose").Status; got != "unready" {
		t.Errorf("loose: %s, want unready", got)
	}
	if got := nodeByID(t, result, "moved").Status; got != "unready" {
		t.Errorf("moved: %s, want unready", got)
	}
	if got := nodeByID(t, result, "ok").Status; got != "ready" {
		t.Errorf("ok: %s, want ready", got)
	}
	if result.Failed() != 0 || result.Unready() != 2 {
		t.Errorf("failed = %d, unready = %d, want 0 and 2", result.Failed(), result.Unready())
	}
}

func TestEvalResultCounts(t *testing.T) {
	result := EvalResult{Nodes: []NodeData{
		{ID: "a", Status: "ready"},
		{ID: "b", Status: "failed", Error: "kernel: box: invalid_input: x"},
		{ID: "c", Status: "blocked", Error: "blocked by b"},
		{ID: "d", Status: "unready", Error: "missing input profile"},
		{ID: "e", Status: "unready", Error: "missing input solid"},
	}}
	if got := result.Failed(); got != 2 {
		t.Errorf("Failed() = %d, want 2", got)
	}
	if got := result.Unready(); got != 2 {
		t.Errorf("Unready() = %d, want 2", got)
	}
}

func TestE2EArithmeticParams(t *testing.T) {
	source := `
(def base 10)
(def half (/ base 2.0))
(node "b" "Box" :x (* base 3) :y (+ half 0.25) :z base)
(node "extent" "BoundingBox")
(connect "b" "solid" "extent" "solid")
`
	app := newTestApp(t)
	result := evaluate(t, app, source, false)
	if len(result.Errors) > 0 {
		t.Fatalf("eval errors: %v", result.Errors)
	}
	r, err := app.Engine().GetResult("extent")
	if err != nil {
		t.Fatal(err)
	}
	hi, _ := r.Value("max")
	if got := hi.([3]float64); abs(got[0]-30) > 1e-6 || abs(got[1]-5.25) > 1e-6 || abs(got[2]-10) > 1e-6 {
		t.Errorf("max corner = %v, want [30 5.25 10]", got)
	}
}

func TestE2EMeshes(t *testing.T) {
	source := `
(node "ball" "Sphere" :radius 5)
(node "cube" "Box" :x 8 :y 8 :z 8)
(node "moved" "Translate" :x 20)
(connect "cube" "solid" "moved" "solid")
`
	result := evaluate(t, newTestApp(t), source, true)
	if len(result.Errors) > 0 {
		t.Fatalf("eval errors: %v", result.Errors)
	}
	if len(result.Meshes) != 2 {
		t.Fatalf("expected 2 meshes, got %d", len(result.Meshes))
	}
	seen := map[string]bool{}
	for _, m := range result.Meshes {
		seen[m.PartName] = true
		if len(m.Vertices) == 0 || len(m.Normals) == 0 || len(m.Indices) == 0 {
			t.Errorf("part %q: empty geometry", m.PartName)
		}
		if m.Color == "" {
			t.Errorf("part %q: no color assigned", m.PartName)
		}
	}
	if !seen["ball"] || !seen["moved"] {
		t.Errorf("parts = %v, want ball and moved", seen)
	}
	if result.Meshes[0].Color == result.Meshes[1].Color {
		t.Error("parts share a color")
	}
}

// TestE2ERapidEvaluation fires overlapping evaluations; each must complete
// without error and the final graph must match one of the scripts.
func TestE2ERapidEvaluation(t *testing.T) {
	app := newTestApp(t)
	sources := []string{
		`(node "b" "Box" :x 10)`,
		`(node "b" "Box" :x 20)`,
		`(node "b" "Box" :x 30) (node "s" "Sphere")`,
	}

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := app.Evaluate(ctx, src, false)
			if err != nil {
				t.Errorf("evaluate: %v", err)
				return
			}
			if len(result.Errors) > 0 {
				t.Errorf("eval errors: %v", result.Errors)
			}
		}(sources[i%len(sources)])
	}
	wg.Wait()

	for _, r := range app.Engine().Results() {
		if r.Status.String() != "ready" {
			t.Errorf("node %s left %s", r.NodeID, r.Status)
		}
	}
}

func TestNewAppKernelSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Kernel = config.KernelManifold
	_, err := NewApp(cfg, ctxlog.Discard())
	if manifold.Available {
		if err != nil {
			t.Fatalf("manifold kernel: %v", err)
		}
	} else if !errors.Is(err, manifold.ErrNotBuilt) {
		t.Fatalf("err = %v, want ErrNotBuilt", err)
	}

	cfg.Engine.Kernel = "opencascade"
	if _, err := NewApp(cfg, ctxlog.Discard()); err == nil {
		t.Fatal("unknown kernel accepted")
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
