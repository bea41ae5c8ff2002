package linalg

import (
	"gonum.org/v1/gonum/mat"
)

// Identity returns the n×n identity as a diagonal matrix
func Identity(n int) *mat.DiagDense {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return mat.NewDiagDense(n, ones)
}

// TraceProduct returns tr(a·b) without forming the product.
// a is r×c and b is c×r.
func TraceProduct(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	var sum float64
	for i := 0; i < r; i++ {
		for k := 0; k < c; k++ {
			sum += a.At(i, k) * b.At(k, i)
		}
	}
	return sum
}

// Covariance returns tau·K + sigma2·I in a fresh matrix; k is only read.
func Covariance(k mat.Matrix, sigma2, tau float64) *mat.Dense {
	n, _ := k.Dims()
	v := mat.NewDense(n, n, nil)
	v.Scale(tau, k)
	for i := 0; i < n; i++ {
		v.Set(i, i, v.At(i, i)+sigma2)
	}
	return v
}

// Symmetrize returns (a + aᵀ)/2 as a SymDense, removing round-off asymmetry
func Symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

// ColumnIsConstant reports whether every entry of column j equals value within tol
func ColumnIsConstant(x mat.Matrix, j int, value, tol float64) bool {
	r, c := x.Dims()
	if j < 0 || j >= c || r == 0 {
		return false
	}
	for i := 0; i < r; i++ {
		d := x.At(i, j) - value
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}
