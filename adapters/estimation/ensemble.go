// Package estimation provides reference implementations of the null-model
// estimator and the noise-variance estimator consumed by the test service.
package estimation

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
)

// Ensemble fits each base kernel by kernel ridge regression, weights the
// kernels by their tuning-criterion error, and refits the weighted ensemble.
type Ensemble struct {
	pinvTol float64
	logger  *internal.Logger
}

// NewEnsemble creates the reference ensemble estimator
func NewEnsemble(pinvTol float64, logger *internal.Logger) *Ensemble {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Ensemble{pinvTol: pinvTol, logger: logger.With("Estimation")}
}

// Estimate implements ports.Estimator
func (e *Ensemble) Estimate(ctx context.Context, req kernel.EstimationRequest) (*kernel.EstimationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	kernels := make([]*mat.Dense, len(req.KList))
	for d, k := range req.KList {
		kernels[d] = normalizeTrace(k)
	}

	errs := make([]float64, len(kernels))
	for d, k := range kernels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best, score, err := e.selectLambda(req, k)
		if err != nil {
			return nil, errors.Wrapf(err, "fitting base kernel %d", d)
		}
		errs[d] = score
		e.logger.Debug("kernel %d: lambda=%g criterion=%g", d, best.lambda, score)
	}

	uHat, err := ensembleWeights(req.Strategy, errs, req.BetaExp)
	if err != nil {
		return nil, err
	}

	n := req.Y.Len()
	ens := mat.NewDense(n, n, nil)
	for d, k := range kernels {
		if uHat[d] == 0 {
			continue
		}
		var scaled mat.Dense
		scaled.Scale(uHat[d], k)
		ens.Add(ens, &scaled)
	}
	kEns := linalg.Symmetrize(ens)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	final, _, err := e.selectLambda(req, kEns)
	if err != nil {
		return nil, errors.Wrap(err, "fitting ensemble kernel")
	}

	e.logger.Debug("ensemble (%s/%s): lambda=%g weights=%v", req.Mode, req.Strategy, final.lambda, uHat)
	return &kernel.EstimationResult{
		Lambda: final.lambda,
		Beta:   final.beta,
		Alpha:  final.alpha,
		KEns:   kEns,
		UHat:   uHat,
	}, nil
}

// selectLambda fits k at every grid value and keeps the smallest criterion
func (e *Ensemble) selectLambda(req kernel.EstimationRequest, k mat.Matrix) (*ridgeFit, float64, error) {
	var best *ridgeFit
	bestScore := math.Inf(1)
	for _, lambda := range req.LambdaGrid {
		fit, err := fitRidge(req.Y, req.X, k, lambda, e.pinvTol)
		if err != nil {
			return nil, 0, err
		}
		s := fit.criterion(req.Mode)
		if math.IsNaN(s) {
			continue
		}
		if best == nil || s < bestScore {
			best, bestScore = fit, s
		}
	}
	if best == nil {
		return nil, 0, errors.NumericalInstability("no lambda in the grid produced a finite %s criterion", req.Mode)
	}
	return best, bestScore, nil
}

// ensembleWeights turns per-kernel errors into weights that sum to one
func ensembleWeights(strategy kernel.Strategy, errs []float64, betaExp float64) ([]float64, error) {
	d := len(errs)
	u := make([]float64, d)

	switch strategy {
	case kernel.StrategyAverage:
		for i := range u {
			u[i] = 1 / float64(d)
		}
	case kernel.StrategyERM:
		best := 0
		for i, v := range errs {
			if v < errs[best] {
				best = i
			}
		}
		u[best] = 1
	case kernel.StrategyExp:
		minErr := math.Inf(1)
		for _, v := range errs {
			minErr = math.Min(minErr, v)
		}
		total := 0.0
		for i, v := range errs {
			u[i] = math.Exp(-(v - minErr) / betaExp)
			total += u[i]
		}
		for i := range u {
			u[i] /= total
		}
	default:
		return nil, errors.InvalidInput("unknown ensemble strategy %q", strategy)
	}
	return u, nil
}

// normalizeTrace rescales k so its mean diagonal entry is one
func normalizeTrace(k mat.Matrix) *mat.Dense {
	n, _ := k.Dims()
	out := mat.DenseCopyOf(k)
	tr := mat.Trace(out)
	if tr > 0 {
		out.Scale(float64(n)/tr, out)
	}
	return out
}

func validateRequest(req kernel.EstimationRequest) error {
	if req.Y == nil || req.Y.Len() == 0 {
		return errors.InvalidInput("response vector is empty")
	}
	n := req.Y.Len()
	if req.X == nil {
		return errors.InvalidInput("design matrix is missing")
	}
	if r, _ := req.X.Dims(); r != n {
		return errors.DimensionMismatch("X has %d rows, want %d", r, n)
	}
	if len(req.KList) == 0 {
		return errors.InvalidInput("kernel list is empty")
	}
	for d, k := range req.KList {
		if err := kernel.CheckSquare("kernel", k, n); err != nil {
			return errors.Wrapf(err, "kernel %d", d)
		}
	}
	if len(req.LambdaGrid) == 0 {
		return errors.InvalidInput("lambda grid is empty")
	}
	for _, l := range req.LambdaGrid {
		if !(l > 0) || math.IsInf(l, 0) {
			return errors.InvalidInput("lambda values must be positive and finite, got %g", l)
		}
	}
	switch req.Mode {
	case kernel.ModeLOOCV, kernel.ModeGCV, kernel.ModeAIC:
	default:
		return errors.InvalidInput("unknown tuning mode %q", req.Mode)
	}
	switch req.Strategy {
	case kernel.StrategyAverage, kernel.StrategyERM:
	case kernel.StrategyExp:
		if !(req.BetaExp > 0) {
			return errors.InvalidInput("exp strategy needs a positive ensemble exponent, got %g", req.BetaExp)
		}
	default:
		return errors.InvalidInput("unknown ensemble strategy %q", req.Strategy)
	}
	return nil
}
