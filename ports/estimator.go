package ports

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"gocvek/domain/kernel"
)

// Estimator fits the null kernel-ensemble model and selects one lambda
type Estimator interface {
	Estimate(ctx context.Context, req kernel.EstimationRequest) (*kernel.EstimationResult, error)
}

// NoiseEstimator estimates the residual noise variance of a fitted null model
type NoiseEstimator interface {
	EstimateSigma2(ctx context.Context, y *mat.VecDense, x *mat.Dense, lambda float64, yFixed, alpha0 *mat.VecDense, kEns mat.Symmetric) (float64, error)
}
