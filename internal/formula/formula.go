// Package formula evaluates the per channel calibration expressions applied
// to raw electrometer readings, e.g. "(value/10)*1e-06".
package formula

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Identity is the formula used when none is configured
const Identity = "value"

// Formula is a compiled expression of the single variable "value"
type Formula struct {
	src string
}

// Compile parses src. Formulas are case insensitive.
func Compile(src string) (*Formula, error) {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		src = Identity
	}

	if _, err := syntax.ParseExpr("formula", src, 0); err != nil {
		return nil, fmt.Errorf("invalid formula %q: %w", src, err)
	}

	return &Formula{src: src}, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(src string) *Formula {
	f, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the normalized source of the formula
func (f *Formula) String() string {
	return f.src
}

// IsIdentity reports whether the formula returns its input unchanged
func (f *Formula) IsIdentity() bool {
	return f.src == Identity
}

// Eval computes the formula for one value
func (f *Formula) Eval(value float64) (float64, error) {
	if f.IsIdentity() {
		return value, nil
	}

	thread := &starlark.Thread{Name: "formula"}
	env := starlark.StringDict{"value": starlark.Float(value)}

	result, err := starlark.Eval(thread, "formula", f.src, env)
	if err != nil {
		return 0, fmt.Errorf("formula %q failed for %v: %w", f.src, value, err)
	}

	switch v := result.(type) {
	case starlark.Float:
		return float64(v), nil
	case starlark.Int:
		i, ok := v.Int64()
		if !ok {
			return 0, fmt.Errorf("formula %q: result %s out of range", f.src, v)
		}
		return float64(i), nil
	default:
		return 0, fmt.Errorf("formula %q: result is a %s, not a number", f.src, result.Type())
	}
}

// EvalAll applies the formula to every value
func (f *Formula) EvalAll(values []float64) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		r, err := f.Eval(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
