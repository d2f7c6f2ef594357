package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	tests := []struct {
		src   string
		value float64
		want  float64
	}{
		{"value", 3.5, 3.5},
		{"", 2, 2},
		{"(value/10)*1e-06", 20, 2e-06},
		{"VALUE * 2 + 1", 4, 9},
		{"-value", 1.25, -1.25},
		{"1", 123, 1},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			f, err := Compile(tt.src)
			require.NoError(t, err)
			got, err := f.Eval(tt.value)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-15)
		})
	}
}

func TestCompileRejectsSyntaxErrors(t *testing.T) {
	_, err := Compile("value *")
	assert.Error(t, err)
}

func TestEvalErrors(t *testing.T) {
	_, err := MustCompile("other + 1").Eval(1)
	assert.Error(t, err, "unknown names are not bound")

	_, err = MustCompile("'abc'").Eval(1)
	assert.Error(t, err, "non numeric results are rejected")
}

func TestEvalAll(t *testing.T) {
	f := MustCompile("value*2")
	out, err := f.EvalAll([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, out)
	assert.Equal(t, "value*2", f.String())
	assert.False(t, f.IsIdentity())
	assert.True(t, MustCompile(" Value ").IsIdentity())
}
