// Package kernels builds Gram matrices from data columns. It backs the CLI and
// the synthetic studies; the test itself only ever sees finished matrices.
package kernels

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
)

// Func evaluates a positive semi-definite kernel on two feature vectors
type Func func(a, b []float64) float64

// Linear returns k(a, b) = a·b
func Linear() Func {
	return func(a, b []float64) float64 {
		return floats.Dot(a, b)
	}
}

// Polynomial returns k(a, b) = (a·b + offset)^degree
func Polynomial(degree int, offset float64) Func {
	return func(a, b []float64) float64 {
		return math.Pow(floats.Dot(a, b)+offset, float64(degree))
	}
}

// RBF returns k(a, b) = exp(−‖a − b‖² / (2ℓ²))
func RBF(lengthScale float64) Func {
	denom := 2 * lengthScale * lengthScale
	return func(a, b []float64) float64 {
		d := floats.Distance(a, b, 2)
		return math.Exp(-d * d / denom)
	}
}

// Parse maps a kernel name to a Func. Accepted forms are "linear",
// "poly" / "poly:<degree>" / "poly:<degree>:<offset>" and "rbf" / "rbf:<lengthScale>".
func Parse(name string) (Func, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), ":")
	arg := func(i int, def float64) (float64, error) {
		if len(parts) <= i {
			return def, nil
		}
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return 0, errors.InvalidInput("kernel %q: bad parameter %q", name, parts[i])
		}
		return v, nil
	}

	switch parts[0] {
	case "linear":
		return Linear(), nil
	case "poly", "polynomial":
		degree, err := arg(1, 2)
		if err != nil {
			return nil, err
		}
		offset, err := arg(2, 1)
		if err != nil {
			return nil, err
		}
		if degree < 1 || degree != math.Trunc(degree) {
			return nil, errors.InvalidInput("kernel %q: degree must be a positive integer", name)
		}
		return Polynomial(int(degree), offset), nil
	case "rbf", "gaussian":
		ls, err := arg(1, 1)
		if err != nil {
			return nil, err
		}
		if !(ls > 0) {
			return nil, errors.InvalidInput("kernel %q: length scale must be positive", name)
		}
		return RBF(ls), nil
	default:
		return nil, errors.InvalidInput("unknown kernel %q (linear, poly, rbf)", name)
	}
}

// Gram evaluates k on every pair of rows of x restricted to cols.
// An empty cols uses every column.
func Gram(x mat.Matrix, cols []int, k Func) (*mat.SymDense, error) {
	r, c := x.Dims()
	if len(cols) == 0 {
		cols = make([]int, c)
		for j := range cols {
			cols[j] = j
		}
	}
	for _, j := range cols {
		if j < 0 || j >= c {
			return nil, errors.DimensionMismatch("column %d out of range for %d columns", j, c)
		}
	}

	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, len(cols))
		for t, j := range cols {
			rows[i][t] = x.At(i, j)
		}
	}

	g := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			g.SetSym(i, j, k(rows[i], rows[j]))
		}
	}
	return g, nil
}

// Product returns the elementwise (Hadamard) product of two Gram matrices,
// the kernel of the interaction between their feature spaces.
func Product(a, b mat.Matrix) (*mat.SymDense, error) {
	n, c := a.Dims()
	br, bc := b.Dims()
	if n != c || br != n || bc != n {
		return nil, errors.DimensionMismatch("product of %dx%d and %dx%d kernels", n, c, br, bc)
	}
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, a.At(i, j)*b.At(i, j))
		}
	}
	return out, nil
}
