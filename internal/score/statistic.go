// Package score implements the variance-component score test for an
// interaction kernel: the statistic, the information matrix, and the two
// calibration procedures (scaled chi-square and parametric bootstrap).
package score

import (
	"gonum.org/v1/gonum/mat"

	"gocvek/domain/kernel"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
)

// StatEngine evaluates the score statistic against one null covariance.
// V0⁺ = (tau·K_ens + sigma2·I)⁺ is computed once, so each evaluation is O(n²).
// A StatEngine is read-only after construction and safe for concurrent use.
type StatEngine struct {
	n     int
	tau   float64
	v0Inv *mat.Dense
}

// NewStatEngine builds V0 and its pseudo-inverse. kEns is only read.
func NewStatEngine(kEns mat.Matrix, sigma2, tau, pinvTol float64) (*StatEngine, error) {
	if kEns == nil {
		return nil, errors.DimensionMismatch("K_ens is missing")
	}
	n, c := kEns.Dims()
	if n != c {
		return nil, errors.DimensionMismatch("K_ens is %dx%d, want a square matrix", n, c)
	}
	if !(sigma2 > 0) || !(tau > 0) {
		return nil, errors.InvalidInput("variance components must be positive (sigma2=%g, tau=%g)", sigma2, tau)
	}

	v0Inv, err := linalg.Pinv(linalg.Covariance(kEns, sigma2, tau), pinvTol)
	if err != nil {
		return nil, errors.Wrap(err, "inverting null covariance V0")
	}
	return &StatEngine{n: n, tau: tau, v0Inv: v0Inv}, nil
}

// N returns the number of observations the engine was built for
func (e *StatEngine) N() int { return e.n }

// V0Inv exposes the pseudo-inverse of the null covariance. Callers must not modify it.
func (e *StatEngine) V0Inv() *mat.Dense { return e.v0Inv }

// Statistic returns (tau/2)·rᵗ V0⁺ K_int V0⁺ r with r = y − yFixed
func (e *StatEngine) Statistic(y, yFixed mat.Vector, kInt mat.Matrix) (float64, error) {
	if y.Len() != e.n || yFixed.Len() != e.n {
		return 0, errors.DimensionMismatch("response has length %d and fixed fit %d, want %d", y.Len(), yFixed.Len(), e.n)
	}
	if err := kernel.CheckSquare("K_int", kInt, e.n); err != nil {
		return 0, err
	}

	r := mat.NewVecDense(e.n, nil)
	r.SubVec(y, yFixed)

	w := mat.NewVecDense(e.n, nil)
	w.MulVec(e.v0Inv, r)

	return e.tau / 2 * mat.Inner(w, kInt, w), nil
}

// ComputeStat is the one-shot form of the statistic: it builds V0⁺ from
// scratch and evaluates the quadratic form once.
func ComputeStat(y *mat.VecDense, kInt mat.Matrix, yFixed *mat.VecDense, kEns mat.Matrix, sigma2, tau float64) (float64, error) {
	engine, err := NewStatEngine(kEns, sigma2, tau, linalg.DefaultTol)
	if err != nil {
		return 0, err
	}
	return engine.Statistic(y, yFixed, kInt)
}
