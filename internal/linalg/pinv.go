// Package linalg holds the dense linear-algebra helpers shared by the score
// test components. Every generalized inverse in the module goes through Pinv.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
)

// DefaultTol is the relative singular-value cutoff, sqrt of float64 epsilon.
const DefaultTol = 1.4901161193847656e-08

// Pinv returns the Moore–Penrose pseudo-inverse of a computed from a thin SVD.
// Singular values at or below max(tol, eps·max(r,c))·σ_max are treated as zero.
// A non-positive tol selects DefaultTol.
func Pinv(a mat.Matrix, tol float64) (*mat.Dense, error) {
	r, c := a.Dims()
	if r == 0 || c == 0 {
		return nil, errors.DimensionMismatch("cannot invert a %dx%d matrix", r, c)
	}
	if !IsFinite(a) {
		return nil, errors.NumericalInstability("matrix has non-finite entries")
	}
	if tol <= 0 {
		tol = DefaultTol
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.NumericalInstability("SVD failed to converge for %dx%d matrix", r, c)
	}
	values := svd.Values(nil)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	floor := math.Max(tol, eps*float64(max(r, c)))
	cutoff := 0.0
	if len(values) > 0 {
		cutoff = floor * values[0]
	}

	// V·diag(1/σ) with dropped directions zeroed, then times Uᵀ.
	k := len(values)
	scaled := mat.NewDense(c, k, nil)
	for j := 0; j < k; j++ {
		if values[j] <= cutoff || values[j] == 0 {
			continue
		}
		inv := 1 / values[j]
		for i := 0; i < c; i++ {
			scaled.Set(i, j, v.At(i, j)*inv)
		}
	}

	out := mat.NewDense(c, r, nil)
	out.Mul(scaled, u.T())
	if !IsFinite(out) {
		return nil, errors.NumericalInstability("pseudo-inverse produced non-finite entries")
	}
	return out, nil
}

// Rank returns the numerical rank of a using the same cutoff as Pinv
func Rank(a mat.Matrix, tol float64) int {
	if tol <= 0 {
		tol = DefaultTol
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	r, c := a.Dims()
	cutoff := math.Max(tol, eps*float64(max(r, c))) * values[0]
	rank := 0
	for _, s := range values {
		if s > cutoff && s > 0 {
			rank++
		}
	}
	return rank
}

const eps = 2.220446049250313e-16

// IsFinite reports whether every entry of a is finite
func IsFinite(a mat.Matrix) bool {
	r, c := a.Dims()
	if raw, ok := a.(mat.RawMatrixer); ok {
		rm := raw.RawMatrix()
		for i := 0; i < rm.Rows; i++ {
			for _, x := range rm.Data[i*rm.Stride : i*rm.Stride+rm.Cols] {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return false
				}
			}
		}
		return true
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := a.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
