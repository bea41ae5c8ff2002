package score

import (
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
	"gocvek/internal/linalg"
)

// Projection returns the residual-forming matrix of the null model,
// P0 = V0⁺ − V0⁺X (XᵗV0⁺X)⁺ XᵗV0⁺.
func Projection(v0Inv mat.Matrix, x mat.Matrix, pinvTol float64) (*mat.SymDense, error) {
	n, c := v0Inv.Dims()
	if n != c {
		return nil, errors.DimensionMismatch("V0 inverse is %dx%d, want a square matrix", n, c)
	}
	r, p := x.Dims()
	if r != n {
		return nil, errors.DimensionMismatch("X has %d rows, want %d", r, n)
	}

	// V0⁺ is symmetric, so (V0⁺X)ᵗ = XᵗV0⁺.
	vx := mat.NewDense(n, p, nil)
	vx.Mul(v0Inv, x)

	xvx := mat.NewDense(p, p, nil)
	xvx.Mul(x.T(), vx)

	xvxInv, err := linalg.Pinv(xvx, pinvTol)
	if err != nil {
		return nil, errors.Wrap(err, "inverting XᵗV0⁺X")
	}

	tmp := mat.NewDense(n, p, nil)
	tmp.Mul(vx, xvxInv)

	corr := mat.NewDense(n, n, nil)
	corr.Mul(tmp, vx.T())

	p0 := mat.NewDense(n, n, nil)
	p0.Sub(v0Inv, corr)

	return linalg.Symmetrize(p0), nil
}

// ComputeInfo returns the 3×3 expected information over
// {interaction scale, sigma2, tau}: I[i,j] = tr(P0·M_i·P0·M_j)/2,
// where mDel, mSigma2, mTau are the derivatives of V0 in that order.
func ComputeInfo(p0 mat.Matrix, mDel, mSigma2, mTau mat.Matrix) *mat.SymDense {
	n, _ := p0.Dims()
	derivs := []mat.Matrix{mDel, mSigma2, mTau}

	prods := make([]*mat.Dense, len(derivs))
	for i, m := range derivs {
		prods[i] = mat.NewDense(n, n, nil)
		prods[i].Mul(p0, m)
	}

	info := mat.NewSymDense(len(derivs), nil)
	for i := range prods {
		for j := i; j < len(prods); j++ {
			info.SetSym(i, j, linalg.TraceProduct(prods[i], prods[j])/2)
		}
	}
	return info
}

// EfficientInfo profiles the nuisance parameters out of info via the Schur
// complement I[0,0] − I[0,1:]·I[1:,1:]⁺·I[1:,0].
func EfficientInfo(info mat.Symmetric, pinvTol float64) (float64, error) {
	k := info.SymmetricDim()
	if k < 2 {
		return info.At(0, 0), nil
	}

	nuisance := mat.NewDense(k-1, k-1, nil)
	cross := mat.NewVecDense(k-1, nil)
	for i := 1; i < k; i++ {
		cross.SetVec(i-1, info.At(0, i))
		for j := 1; j < k; j++ {
			nuisance.Set(i-1, j-1, info.At(i, j))
		}
	}

	nInv, err := linalg.Pinv(nuisance, pinvTol)
	if err != nil {
		return 0, errors.Wrap(err, "inverting nuisance information block")
	}
	return info.At(0, 0) - mat.Inner(cross, nInv, cross), nil
}
