package script

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEvaluateEmptyString(t *testing.T) {
	for _, src := range []string{"", "   \n\t  \n  "} {
		d, evalErrs, err := NewEvaluator().Evaluate(src)
		if err != nil {
			t.Fatalf("unexpected fatal error: %v", err)
		}
		if len(evalErrs) > 0 {
			t.Fatalf("unexpected eval errors: %v", evalErrs)
		}
		if d == nil {
			t.Fatal("expected non-nil design")
		}
		if len(d.Nodes) != 0 {
			t.Errorf("expected empty design, got %d nodes", len(d.Nodes))
		}
	}
}

func TestEvaluateValidExpression(t *testing.T) {
	ev := NewEvaluator()

	// Plain Lisp is allowed; it just declares nothing.
	d, evalErrs, err := ev.Evaluate("(def x 10)\n(def y 20)\n(+ x y)")
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if len(evalErrs) > 0 {
		t.Fatalf("unexpected eval errors: %v", evalErrs)
	}
	if d == nil || len(d.Nodes) != 0 {
		t.Fatalf("expected empty design, got %+v", d)
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	ev := NewEvaluator()

	// Unmatched paren is a parse error.
	d, evalErrs, err := ev.Evaluate("(+ 1 2")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if d != nil {
		t.Fatal("expected nil design on syntax error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error for syntax error")
	}
	if evalErrs[0].Message == "" {
		t.Error("eval error message should not be empty")
	}
}

func TestEvaluateUndefinedSymbol(t *testing.T) {
	d, evalErrs, err := NewEvaluator().Evaluate("(+ 1 undefined-symbol)")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if d != nil {
		t.Fatal("expected nil design on eval error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error for undefined symbol")
	}
}

func TestEvalErrorImplementsError(t *testing.T) {
	e := EvalError{Line: 5, Message: "something went wrong"}
	s := e.Error()
	if !strings.Contains(s, "line 5") {
		t.Errorf("Error() should contain line info, got: %s", s)
	}
	if !strings.Contains(s, "something went wrong") {
		t.Errorf("Error() should contain message, got: %s", s)
	}

	e2 := EvalError{Message: "no location"}
	if strings.Contains(e2.Error(), "line") {
		t.Errorf("Error() with no line should not contain 'line', got: %s", e2.Error())
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	ev := NewEvaluator()
	source := `(node "a" "Box" :x 3) (node "b" "Translate") (connect "a" "solid" "b" "solid")`

	first := mustEvaluate(t, ev, source)
	for i := 0; i < 5; i++ {
		d := mustEvaluate(t, ev, source)
		if len(d.Nodes) != len(first.Nodes) || len(d.Edges) != len(first.Edges) {
			t.Fatalf("iteration %d: design differs: %+v vs %+v", i, d, first)
		}
	}
}

func TestWaitWithTimeout(t *testing.T) {
	ch := make(chan evalResult) // never sends
	current := func() uint64 { return 1 }

	start := time.Now()
	_, _, err := waitWithTimeout(ch, 1, 20*time.Millisecond, current)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error message, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestEvaluateTimeoutOption(t *testing.T) {
	ev := NewEvaluator(WithTimeout(time.Millisecond), WithTimeout(0))
	if ev.timeout != time.Millisecond {
		t.Errorf("timeout = %s, want 1ms", ev.timeout)
	}
	if NewEvaluator().timeout != DefaultTimeout {
		t.Errorf("default timeout = %s, want %s", NewEvaluator().timeout, DefaultTimeout)
	}
}

func TestEvaluateGenerationDiscardsStale(t *testing.T) {
	ch := make(chan evalResult, 1)
	ch <- evalResult{design: newDesign()}

	// The caller started generation 1, but generation 2 is current.
	_, _, err := waitWithTimeout(ch, 1, time.Second, func() uint64 { return 2 })
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
}

func TestParseZygomysError(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "error on line format",
			msg:      "Error on line 5: unexpected token\n",
			wantLine: 5,
			wantMsg:  "unexpected token",
		},
		{
			name:     "no line info",
			msg:      "some generic error",
			wantLine: 0,
			wantMsg:  "some generic error",
		},
		{
			name:     "line format lowercase",
			msg:      "error on line 12: missing paren",
			wantLine: 12,
			wantMsg:  "missing paren",
		},
		{
			name:     "short line format",
			msg:      "line 3: node: unknown type",
			wantLine: 3,
			wantMsg:  "unknown type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := parseZygomysError(errors.New(tt.msg))
			if len(errs) == 0 {
				t.Fatal("expected at least one error")
			}
			e := errs[0]
			if e.Line != tt.wantLine {
				t.Errorf("line = %d, want %d", e.Line, tt.wantLine)
			}
			if !strings.Contains(e.Message, tt.wantMsg) {
				t.Errorf("message = %q, want containing %q", e.Message, tt.wantMsg)
			}
		})
	}
}
