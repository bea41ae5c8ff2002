package estimation

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
)

// ResidualNoise estimates sigma2 as RSS / (n − tr(H)) where H is the hat
// matrix of the null model at the selected lambda.
type ResidualNoise struct {
	pinvTol float64
}

// NewResidualNoise creates the residual-based noise estimator
func NewResidualNoise(pinvTol float64) *ResidualNoise {
	return &ResidualNoise{pinvTol: pinvTol}
}

// EstimateSigma2 implements ports.NoiseEstimator
func (r *ResidualNoise) EstimateSigma2(ctx context.Context, y *mat.VecDense, x *mat.Dense, lambda float64, yFixed, alpha0 *mat.VecDense, kEns mat.Symmetric) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := y.Len()
	if yFixed.Len() != n || alpha0.Len() != n || kEns.SymmetricDim() != n {
		return 0, errors.DimensionMismatch("noise estimation inputs disagree on n=%d", n)
	}
	if !(lambda > 0) {
		return 0, errors.InvalidInput("lambda must be positive, got %g", lambda)
	}

	resid := mat.NewVecDense(n, nil)
	resid.MulVec(kEns, alpha0)
	resid.AddVec(resid, yFixed)
	resid.SubVec(y, resid)
	rss := mat.Dot(resid, resid)

	fit, err := fitRidge(y, x, kEns, lambda, r.pinvTol)
	if err != nil {
		return 0, errors.Wrap(err, "computing hat matrix trace")
	}
	df := fit.residualDF()
	if !(df > 0) {
		df = float64(n - 1)
	}

	sigma2 := rss / df
	if !(sigma2 > 0) || math.IsInf(sigma2, 0) {
		return 0, errors.NumericalInstability("noise variance estimate is not positive and finite (%g)", sigma2)
	}
	return sigma2, nil
}
