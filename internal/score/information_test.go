package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/linalg"
)

func TestProjectionAnnihilatesDesign(t *testing.T) {
	f := newFixture(t, fixtureConfig{n: 25, delta: 0, sigma: 0.5, lambda: 1, seed: 21}).fit

	engine, err := NewStatEngine(f.KEns, f.Sigma2, f.Tau, 0)
	require.NoError(t, err)
	p0, err := Projection(engine.V0Inv(), f.X, 0)
	require.NoError(t, err)

	var px mat.Dense
	px.Mul(p0, f.X)
	assert.Less(t, mat.Norm(&px, 1), 1e-8, "P0·X = 0")

	// P0·V0·P0 = P0
	v0 := linalg.Covariance(f.KEns, f.Sigma2, f.Tau)
	var pvp mat.Dense
	pvp.Mul(p0, v0)
	pvp.Mul(&pvp, p0)
	assert.True(t, mat.EqualApprox(&pvp, p0, 1e-8))
}

func TestComputeInfoMatchesTraceDefinition(t *testing.T) {
	f := newFixture(t, fixtureConfig{n: 15, delta: 0, sigma: 0.5, lambda: 1, seed: 4}).fit
	n := f.N()

	engine, err := NewStatEngine(f.KEns, f.Sigma2, f.Tau, 0)
	require.NoError(t, err)
	p0, err := Projection(engine.V0Inv(), f.X, 0)
	require.NoError(t, err)

	mDel := mat.NewDense(n, n, nil)
	mDel.Scale(f.Tau, f.KInt)
	mats := []mat.Matrix{mDel, linalg.Identity(n), f.KEns}

	info := ComputeInfo(p0, mats[0], mats[1], mats[2])
	require.Equal(t, 3, info.SymmetricDim())

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var a, b, ab mat.Dense
			a.Mul(p0, mats[i])
			b.Mul(p0, mats[j])
			ab.Mul(&a, &b)
			want := mat.Trace(&ab) / 2
			assert.InDelta(t, want, info.At(i, j), 1e-9*(1+want), "I[%d,%d]", i, j)
		}
	}
	assert.Greater(t, info.At(0, 0), 0.0)
}

func TestEfficientInfoSchurComplement(t *testing.T) {
	info := mat.NewSymDense(3, []float64{
		4, 1, 0.5,
		1, 3, 0.2,
		0.5, 0.2, 2,
	})

	got, err := EfficientInfo(info, 0)
	require.NoError(t, err)

	nuisance := mat.NewDense(2, 2, []float64{3, 0.2, 0.2, 2})
	var nInv mat.Dense
	require.NoError(t, nInv.Inverse(nuisance))
	c := mat.NewVecDense(2, []float64{1, 0.5})
	want := 4 - mat.Inner(c, &nInv, c)

	assert.InDelta(t, want, got, 1e-12)
}

func TestEfficientInfoSingularNuisanceBlock(t *testing.T) {
	// Identical nuisance directions: the pseudo-inverse keeps the result finite.
	info := mat.NewSymDense(3, []float64{
		2, 1, 1,
		1, 1, 1,
		1, 1, 1,
	})

	got, err := EfficientInfo(info, 0)
	require.NoError(t, err)
	// c = (1,1), N⁺ = N/4 for N = ones(2,2), so cᵗN⁺c = 1.
	assert.InDelta(t, 1.0, got, 1e-10)
}
