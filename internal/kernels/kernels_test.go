package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
)

func TestKernelFuncs(t *testing.T) {
	a := []float64{1, 2}
	b := []float64{3, -1}

	assert.Equal(t, 1.0, Linear()(a, b))
	assert.Equal(t, 4.0, Polynomial(2, 1)(a, b))
	assert.InDelta(t, math.Exp(-13.0/2), RBF(1)(a, b), 1e-15)
	assert.Equal(t, 1.0, RBF(0.5)(a, a))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
		code  string
	}{
		{"linear", "linear", 1, ""},
		{"poly default", "poly", 4, ""},
		{"poly degree", "poly:3", 8, ""},
		{"poly degree offset", "poly:2:0", 1, ""},
		{"rbf default", "RBF", math.Exp(-13.0 / 2), ""},
		{"rbf length scale", "rbf:2", math.Exp(-13.0 / 8), ""},
		{"unknown", "laplace", 0, errors.CodeInvalidInput},
		{"bad parameter", "rbf:abc", 0, errors.CodeInvalidInput},
		{"zero length scale", "rbf:0", 0, errors.CodeInvalidInput},
		{"fractional degree", "poly:1.5", 0, errors.CodeInvalidInput},
	}

	a := []float64{1, 2}
	b := []float64{3, -1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := Parse(tt.input)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, k(a, b), 1e-12)
		})
	}
}

func TestGramUsesColumnSubset(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
	})

	g, err := Gram(x, []int{0}, Linear())
	require.NoError(t, err)
	assert.Equal(t, 3, g.SymmetricDim())
	assert.Equal(t, 6.0, g.At(1, 2))
	assert.Equal(t, g.At(2, 1), g.At(1, 2))

	all, err := Gram(x, nil, Linear())
	require.NoError(t, err)
	assert.Equal(t, 2.0+200, all.At(0, 1))

	_, err = Gram(x, []int{2}, Linear())
	assert.Equal(t, errors.CodeDimensionMismatch, errors.GetCode(err))
}

func TestProduct(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 2, 2, 3})
	b := mat.NewSymDense(2, []float64{4, 5, 5, 6})

	p, err := Product(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.At(0, 0))
	assert.Equal(t, 10.0, p.At(0, 1))
	assert.Equal(t, 18.0, p.At(1, 1))

	_, err = Product(a, mat.NewSymDense(3, nil))
	assert.Equal(t, errors.CodeDimensionMismatch, errors.GetCode(err))
}
