package testkit

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
	"gocvek/internal/kernels"
)

// InteractionConfig configures the synthetic interaction data generator.
// The response is
//
//	y = β0 + Σ β_j·z_j + sin(2·x1) + cos(2·x2) + δ·x1·x2 + ε,  ε ~ N(0, σ²)
//
// with x1, x2 ~ U(−2, 2) and covariates z_j ~ N(0, 1).
type InteractionConfig struct {
	N     int       `json:"n"`
	Delta float64   `json:"delta"`
	Sigma float64   `json:"sigma"`
	Beta  []float64 `json:"beta"` // intercept first, then one per covariate
}

// DefaultInteractionConfig returns a small null-model configuration
func DefaultInteractionConfig() InteractionConfig {
	return InteractionConfig{
		N:     100,
		Delta: 0,
		Sigma: 0.5,
		Beta:  []float64{1, 0.5},
	}
}

// Dataset is one draw from the generator
type Dataset struct {
	Y *mat.VecDense
	X *mat.Dense // fixed-effect covariates, no intercept column
	Z *mat.Dense // kernel inputs x1, x2
}

// Simulate draws cfg.N observations using rng
func Simulate(cfg InteractionConfig, rng *rand.Rand) (*Dataset, error) {
	if cfg.N < 2 {
		return nil, errors.InvalidInput("need at least 2 observations, got %d", cfg.N)
	}
	if len(cfg.Beta) == 0 {
		return nil, errors.InvalidInput("beta needs at least the intercept")
	}
	if cfg.Sigma < 0 {
		return nil, errors.InvalidInput("noise sd must be non-negative, got %g", cfg.Sigma)
	}

	n := cfg.N
	p := len(cfg.Beta) - 1
	cols := p
	if cols == 0 {
		// keep X non-empty; a zero covariate column is absorbed by the intercept
		cols = 1
	}

	x := mat.NewDense(n, cols, nil)
	z := mat.NewDense(n, 2, nil)
	y := mat.NewVecDense(n, nil)
	row := make([]float64, p)
	for i := 0; i < n; i++ {
		x1 := rng.Float64()*4 - 2
		x2 := rng.Float64()*4 - 2
		z.Set(i, 0, x1)
		z.Set(i, 1, x2)
		for j := 0; j < p; j++ {
			row[j] = rng.NormFloat64()
			x.Set(i, j, row[j])
		}

		mean := cfg.Beta[0] + floats.Dot(cfg.Beta[1:], row) +
			math.Sin(2*x1) + math.Cos(2*x2) + cfg.Delta*x1*x2
		y.SetVec(i, mean+cfg.Sigma*rng.NormFloat64())
	}
	return &Dataset{Y: y, X: x, Z: z}, nil
}

// Kernels builds one base kernel per input and their product as the
// candidate interaction kernel
func (d *Dataset) Kernels(k kernels.Func) ([]mat.Matrix, mat.Matrix, error) {
	k1, err := kernels.Gram(d.Z, []int{0}, k)
	if err != nil {
		return nil, nil, err
	}
	k2, err := kernels.Gram(d.Z, []int{1}, k)
	if err != nil {
		return nil, nil, err
	}
	kInt, err := kernels.Product(k1, k2)
	if err != nil {
		return nil, nil, err
	}
	return []mat.Matrix{k1, k2}, kInt, nil
}
