package estimation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gocvek/domain/kernel"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
	"gocvek/internal/score"
)

// ridgeFit is the kernel-ridge / GLS solution of one (K, lambda) pair.
// With V = K + λI and P the residual-forming matrix of V, alpha = P·y,
// the fitted values are y − λ·alpha and the hat matrix is I − λP.
type ridgeFit struct {
	lambda float64
	beta   *mat.VecDense
	alpha  *mat.VecDense
	p      *mat.SymDense
}

func fitRidge(y *mat.VecDense, x *mat.Dense, k mat.Matrix, lambda, pinvTol float64) (*ridgeFit, error) {
	n := y.Len()
	v := linalg.Covariance(k, lambda, 1)
	vInv, err := linalg.Pinv(v, pinvTol)
	if err != nil {
		return nil, errors.Wrapf(err, "inverting K + %g·I", lambda)
	}

	_, p := x.Dims()
	vx := mat.NewDense(n, p, nil)
	vx.Mul(vInv, x)
	xvx := mat.NewDense(p, p, nil)
	xvx.Mul(x.T(), vx)
	xvxInv, err := linalg.Pinv(xvx, pinvTol)
	if err != nil {
		return nil, errors.Wrap(err, "inverting XᵗV⁻¹X")
	}

	xvy := mat.NewVecDense(p, nil)
	xvy.MulVec(vx.T(), y)
	beta := mat.NewVecDense(p, nil)
	beta.MulVec(xvxInv, xvy)

	proj, err := score.Projection(vInv, x, pinvTol)
	if err != nil {
		return nil, err
	}
	alpha := mat.NewVecDense(n, nil)
	alpha.MulVec(proj, y)

	return &ridgeFit{lambda: lambda, beta: beta, alpha: alpha, p: proj}, nil
}

// criterion scores the fit; smaller is better
func (f *ridgeFit) criterion(mode kernel.Mode) float64 {
	n := f.alpha.Len()
	rss := 0.0
	for i := 0; i < n; i++ {
		e := f.lambda * f.alpha.AtVec(i)
		rss += e * e
	}
	trP := mat.Trace(f.p)

	switch mode {
	case kernel.ModeLOOCV:
		// e_i / (1 − H_ii) = alpha_i / P_ii
		sum := 0.0
		for i := 0; i < n; i++ {
			pii := f.p.At(i, i)
			if math.Abs(pii) < 1e-300 {
				return math.Inf(1)
			}
			r := f.alpha.AtVec(i) / pii
			sum += r * r
		}
		return sum / float64(n)
	case kernel.ModeAIC:
		if rss <= 0 {
			return math.Inf(-1)
		}
		dfModel := float64(n) - f.lambda*trP
		return float64(n)*math.Log(rss/float64(n)) + 2*dfModel
	default:
		denom := f.lambda * trP
		if denom <= 0 {
			return math.Inf(1)
		}
		return float64(n) * rss / (denom * denom)
	}
}

// residualDF returns n − tr(H) = λ·tr(P)
func (f *ridgeFit) residualDF() float64 {
	return f.lambda * mat.Trace(f.p)
}
