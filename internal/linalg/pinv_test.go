package linalg

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func TestPinvMatchesInverseForFullRank(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		4, 1, 0,
		1, 3, 1,
		0, 1, 2,
	})

	got, err := Pinv(a, 0)
	require.NoError(t, err)

	var want mat.Dense
	require.NoError(t, want.Inverse(a))
	assert.True(t, mat.EqualApprox(got, &want, 1e-10))
}

func TestPinvPenroseConditionsRankDeficient(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := randomDense(rng, 6, 2)
	var a mat.Dense
	a.Mul(b, b.T()) // 6x6 with rank 2

	p, err := Pinv(&a, 0)
	require.NoError(t, err)

	var apa, pap mat.Dense
	apa.Mul(&a, p)
	apa.Mul(&apa, &a)
	assert.True(t, mat.EqualApprox(&apa, &a, 1e-8), "A A+ A = A")

	pap.Mul(p, &a)
	pap.Mul(&pap, p)
	assert.True(t, mat.EqualApprox(&pap, p, 1e-8), "A+ A A+ = A+")

	assert.Equal(t, 2, Rank(&a, 0))
}

func TestPinvRectangular(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := randomDense(rng, 7, 3)

	p, err := Pinv(a, 0)
	require.NoError(t, err)
	r, c := p.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 7, c)

	var pa mat.Dense
	pa.Mul(p, a)
	assert.True(t, mat.EqualApprox(&pa, Identity(3), 1e-10))
}

func TestPinvZeroMatrix(t *testing.T) {
	p, err := Pinv(mat.NewDense(3, 3, nil), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, mat.Norm(p, 1))
}

func TestPinvRejectsNonFinite(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, math.NaN(), 0, 1})
	_, err := Pinv(a, 0)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNumericalInstability, errors.GetCode(err))

	a = mat.NewDense(2, 2, []float64{1, 0, math.Inf(1), 1})
	_, err = Pinv(a, 0)
	assert.Equal(t, errors.CodeNumericalInstability, errors.GetCode(err))
}

func TestTraceProduct(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomDense(rng, 4, 5)
	b := randomDense(rng, 5, 4)

	var ab mat.Dense
	ab.Mul(a, b)
	assert.InDelta(t, mat.Trace(&ab), TraceProduct(a, b), 1e-12)
}

func TestCovarianceDoesNotMutateInput(t *testing.T) {
	k := mat.NewDense(2, 2, []float64{1, 0.5, 0.5, 1})
	v := Covariance(k, 2, 3)

	assert.Equal(t, []float64{5, 1.5, 1.5, 5}, v.RawMatrix().Data)
	assert.Equal(t, []float64{1, 0.5, 0.5, 1}, k.RawMatrix().Data)
}

func TestColumnIsConstant(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{1, 2, 1, 3, 1, 4})
	assert.True(t, ColumnIsConstant(x, 0, 1, 1e-12))
	assert.False(t, ColumnIsConstant(x, 1, 1, 1e-12))
	assert.False(t, ColumnIsConstant(x, 5, 1, 1e-12))
}
