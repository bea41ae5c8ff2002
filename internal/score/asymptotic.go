package score

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
)

// Asymptotic calibrates the score statistic against a scaled chi-square
// m·χ²(d) whose first two moments match the statistic under the null.
type Asymptotic struct {
	logger *internal.Logger
}

// NewAsymptotic creates the scaled chi-square calibrator
func NewAsymptotic(logger *internal.Logger) *Asymptotic {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Asymptotic{logger: logger.With("Asymptotic")}
}

// Type returns kernel.TestAsymptotic
func (a *Asymptotic) Type() kernel.TestType { return kernel.TestAsymptotic }

// Calibrate computes the statistic, the efficient information of the
// interaction scale and the matched chi-square tail probability.
func (a *Asymptotic) Calibrate(ctx context.Context, fit *kernel.FittedNull, opts Options) (*kernel.Calibration, error) {
	if err := fit.Validate(); err != nil {
		return nil, err
	}
	if fit.X == nil {
		return nil, errors.InvalidInput("asymptotic calibration needs the design matrix X")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	n := fit.N()

	engine, err := NewStatEngine(fit.KEns, fit.Sigma2, fit.Tau, opts.PinvTol)
	if err != nil {
		return nil, err
	}
	scoreChi, err := engine.Statistic(fit.Y, fit.YFixed, fit.KInt)
	if err != nil {
		return nil, err
	}

	if _, p := fit.X.Dims(); p > 0 {
		if rank := linalg.Rank(fit.X, opts.PinvTol); rank < p {
			a.logger.Debug("design matrix has rank %d of %d columns; fixed effects projected through the pseudo-inverse", rank, p)
		}
	}
	p0, err := Projection(engine.V0Inv(), fit.X, opts.PinvTol)
	if err != nil {
		return nil, err
	}

	mDel := mat.NewDense(n, n, nil)
	mDel.Scale(fit.Tau, fit.KInt)
	info := ComputeInfo(p0, mDel, linalg.Identity(n), fit.KEns)

	iDelDel, err := EfficientInfo(info, opts.PinvTol)
	if err != nil {
		return nil, err
	}
	md := fit.Tau * linalg.TraceProduct(fit.KInt, p0) / 2
	if !finite(scoreChi) || !finite(md) || !finite(iDelDel) {
		return nil, errors.NumericalInstability("non-finite score moments (score=%g, md=%g, I_deldel=%g)", scoreChi, md, iDelDel)
	}

	result := &kernel.Calibration{
		Statistic: scoreChi,
		Diagnostics: kernel.Diagnostics{
			IDelDel: iDelDel,
			MD:      md,
		},
	}

	if md <= opts.DegeneracyTol || iDelDel <= opts.DegeneracyTol {
		a.logger.Warn("degenerate calibration (md=%g, I_deldel=%g): interaction kernel carries no residual signal, reporting p=1", md, iDelDel)
		result.PValue = 1
		result.Diagnostics.Degenerate = true
		return result, nil
	}

	mChi := iDelDel / (2 * md)
	dChi := md / mChi
	if !finite(mChi) || !finite(dChi) || !(dChi > 0) {
		return nil, errors.NumericalInstability("chi-square parameters out of range (m=%g, d=%g)", mChi, dChi)
	}
	result.Diagnostics.MChi = mChi
	result.Diagnostics.DChi = dChi

	pValue := distuv.ChiSquared{K: dChi}.Survival(scoreChi / mChi)
	if math.IsNaN(pValue) {
		return nil, errors.NumericalInstability("chi-square tail probability is NaN (score=%g, m=%g, d=%g)", scoreChi, mChi, dChi)
	}
	result.PValue = clampUnit(pValue)

	a.logger.Debug("score=%.6g m_chi=%.6g d_chi=%.6g p=%.6g", scoreChi, mChi, dChi, result.PValue)
	return result, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clampUnit(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
