package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal/errors"
)

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func validNull() *FittedNull {
	return &FittedNull{
		Y:      mat.NewVecDense(3, []float64{1, 2, 3}),
		X:      mat.NewDense(3, 1, []float64{1, 1, 1}),
		KInt:   identity(3),
		YFixed: mat.NewVecDense(3, []float64{2, 2, 2}),
		Alpha0: mat.NewVecDense(3, []float64{-1, 0, 1}),
		KEns:   identity(3),
		Sigma2: 0.5,
		Tau:    0.25,
		Lambda: 2,
	}
}

func TestFittedNullValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *FittedNull)
		code   string
	}{
		{"valid", func(f *FittedNull) {}, ""},
		{"NaN response", func(f *FittedNull) { f.Y.SetVec(0, math.NaN()) }, errors.CodeNumericalInstability},
		{"Inf fixed-effect fit", func(f *FittedNull) { f.YFixed.SetVec(2, math.Inf(1)) }, errors.CodeNumericalInstability},
		{"NaN in K_int", func(f *FittedNull) {
			k := identity(3)
			k.Set(1, 2, math.NaN())
			f.KInt = k
		}, errors.CodeNumericalInstability},
		{"Inf in K_ens", func(f *FittedNull) {
			k := identity(3)
			k.Set(0, 0, math.Inf(-1))
			f.KEns = k
		}, errors.CodeNumericalInstability},
		{"NaN in X", func(f *FittedNull) { f.X.Set(1, 0, math.NaN()) }, errors.CodeNumericalInstability},
		{"NaN in alpha0", func(f *FittedNull) { f.Alpha0.SetVec(1, math.NaN()) }, errors.CodeNumericalInstability},
		{"infinite tau", func(f *FittedNull) { f.Tau = math.Inf(1) }, errors.CodeNumericalInstability},
		{"zero sigma2", func(f *FittedNull) { f.Sigma2 = 0 }, errors.CodeInvalidInput},
		{"short K_int", func(f *FittedNull) { f.KInt = identity(2) }, errors.CodeDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validNull()
			tt.mutate(f)
			err := f.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestParseTestType(t *testing.T) {
	for _, name := range []string{"asym", "Asymptotic", " boot ", "bootstrap"} {
		tt, err := ParseTestType(name)
		assert.NoError(t, err)
		assert.True(t, tt.Valid())
	}

	_, err := ParseTestType("perm")
	assert.Equal(t, errors.CodeUnsupportedTest, errors.GetCode(err))
	assert.False(t, TestType("perm").Valid())
}
