package catalog

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ParamType is the value type of a parameter.
type ParamType int

const (
	Number ParamType = iota
	Integer
	Bool
	String
	Enum
)

func (t ParamType) String() string {
	switch t {
	case Number:
		return "number"
	case Integer:
		return "integer"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Enum:
		return "enum"
	default:
		return fmt.Sprintf("ParamType(%d)", int(t))
	}
}

// Parameter validation failures. The graph reports them as structural
// errors on setParam.
var (
	ErrParamType  = errors.New("param type mismatch")
	ErrOutOfRange = errors.New("param out of range")
)

// ParamSpec declares a parameter. Min and Max are inclusive and apply to
// Number and Integer params; Options lists the allowed Enum values.
type ParamSpec struct {
	Name    string
	Type    ParamType
	Default any
	Min     *float64
	Max     *float64
	Options []string
}

// Bound returns a pointer to v, for ParamSpec.Min and ParamSpec.Max literals.
func Bound(v float64) *float64 { return &v }

// Coerce converts v into the canonical Go type for p.Type (float64,
// int64, bool or string) and checks bounds and options. Canonical types
// keep cache hashes stable: 10 and 10.0 hash the same for a Number.
func (p ParamSpec) Coerce(v any) (any, error) {
	switch p.Type {
	case Number:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a number, got %T", ErrParamType, p.Name, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s must be finite", ErrOutOfRange, p.Name)
		}
		if err := p.checkRange(f); err != nil {
			return nil, err
		}
		return f, nil

	case Integer:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s expects an integer, got %v", ErrParamType, p.Name, v)
		}
		if err := p.checkRange(f); err != nil {
			return nil, err
		}
		return int64(f), nil

	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a bool, got %T", ErrParamType, p.Name, v)
		}
		return b, nil

	case String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrParamType, p.Name, v)
		}
		return s, nil

	case Enum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects one of %v, got %T", ErrParamType, p.Name, p.Options, v)
		}
		if !slices.Contains(p.Options, s) {
			return nil, fmt.Errorf("%w: %s: %q not in %v", ErrOutOfRange, p.Name, s, p.Options)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s has unknown type %s", ErrParamType, p.Name, p.Type)
}

func (p ParamSpec) checkRange(f float64) error {
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("%w: %s = %g below minimum %g", ErrOutOfRange, p.Name, f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("%w: %s = %g above maximum %g", ErrOutOfRange, p.Name, f, *p.Max)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
