package score

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gocvek/domain/kernel"
)

// fixtureConfig describes a synthetic additive model with an optional
// x1·x2 interaction of size delta.
type fixtureConfig struct {
	n      int
	delta  float64
	sigma  float64
	lambda float64
	seed   int64
}

type fixture struct {
	fit    *kernel.FittedNull
	k1, k2 *mat.Dense
}

func rbfGram(x []float64, lengthScale float64) *mat.Dense {
	n := len(x)
	k := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := x[i] - x[j]
			k.Set(i, j, math.Exp(-d*d/(2*lengthScale*lengthScale)))
		}
	}
	return k
}

// newFixture draws data and fits the null model at a fixed lambda with the
// true noise variance, which is enough to exercise the calibrators.
func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	rng := rand.New(rand.NewSource(cfg.seed))
	n := cfg.n

	x1 := make([]float64, n)
	x2 := make([]float64, n)
	z := make([]float64, n)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x1[i] = rng.Float64()*4 - 2
		x2[i] = rng.Float64()*4 - 2
		z[i] = rng.NormFloat64()
		mean := 1 + 0.5*z[i] + math.Sin(2*x1[i]) + math.Cos(2*x2[i]) + cfg.delta*x1[i]*x2[i]
		y.SetVec(i, mean+cfg.sigma*rng.NormFloat64())
	}

	X := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 1)
		X.Set(i, 1, z[i])
	}

	k1 := rbfGram(x1, 1)
	k2 := rbfGram(x2, 1)
	kEns := mat.NewDense(n, n, nil)
	kEns.Add(k1, k2)
	kEns.Scale(0.5, kEns)

	kInt := mat.NewDense(n, n, nil)
	kInt.MulElem(k1, k2)

	// GLS fit with V = K + lambda·I.
	v := mat.NewDense(n, n, nil)
	v.Copy(kEns)
	for i := 0; i < n; i++ {
		v.Set(i, i, v.At(i, i)+cfg.lambda)
	}
	var vInv mat.Dense
	require.NoError(t, vInv.Inverse(v))

	var vx, xvx, xvxInv mat.Dense
	vx.Mul(&vInv, X)
	xvx.Mul(X.T(), &vx)
	require.NoError(t, xvxInv.Inverse(&xvx))

	var xvy, beta mat.VecDense
	xvy.MulVec(vx.T(), y)
	beta.MulVec(&xvxInv, &xvy)

	yFixed := mat.NewVecDense(n, nil)
	yFixed.MulVec(X, &beta)

	var resid mat.VecDense
	resid.SubVec(y, yFixed)
	alpha := mat.NewVecDense(n, nil)
	alpha.MulVec(&vInv, &resid)

	sigma2 := cfg.sigma * cfg.sigma
	return &fixture{
		fit: &kernel.FittedNull{
			Y:      y,
			X:      X,
			KInt:   kInt,
			YFixed: yFixed,
			Alpha0: alpha,
			KEns:   kEns,
			Sigma2: sigma2,
			Tau:    sigma2 / cfg.lambda,
			Lambda: cfg.lambda,
		},
		k1: k1,
		k2: k2,
	}
}

// permuteVec returns v reordered by perm
func permuteVec(v *mat.VecDense, perm []int) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	for i, p := range perm {
		out.SetVec(i, v.AtVec(p))
	}
	return out
}

// permuteSym returns m with rows and columns reordered by perm
func permuteSym(m mat.Matrix, perm []int) *mat.Dense {
	n := len(perm)
	out := mat.NewDense(n, n, nil)
	for i, pi := range perm {
		for j, pj := range perm {
			out.Set(i, j, m.At(pi, pj))
		}
	}
	return out
}
