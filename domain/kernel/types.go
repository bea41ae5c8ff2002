package kernel

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gocvek/domain/core"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
)

// TestType selects the calibration procedure that turns a score statistic
// into a p-value. The set is closed: only the constants below are valid.
type TestType string

const (
	TestAsymptotic TestType = "asym"
	TestBootstrap  TestType = "boot"
)

// AllTestTypes lists every supported calibration procedure
var AllTestTypes = []TestType{TestAsymptotic, TestBootstrap}

// ParseTestType maps an external name to a TestType
func ParseTestType(s string) (TestType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asym", "asymptotic":
		return TestAsymptotic, nil
	case "boot", "bootstrap":
		return TestBootstrap, nil
	default:
		return "", errors.UnsupportedTest(s)
	}
}

// Valid reports whether t is one of the supported calibration procedures
func (t TestType) Valid() bool {
	return t == TestAsymptotic || t == TestBootstrap
}

// FittedNull carries every fitted quantity of the null model a calibrator needs.
// INVARIANTS:
// - Y, YFixed, Alpha0 have length n; KInt and KEns are n×n; X is n×p
// - Sigma2 > 0, Tau > 0, Tau = Sigma2 / Lambda
// - nothing in the bundle is mutated after construction
type FittedNull struct {
	Y      *mat.VecDense
	X      *mat.Dense
	KInt   mat.Matrix
	YFixed *mat.VecDense
	Alpha0 *mat.VecDense
	KEns   mat.Matrix
	Sigma2 float64
	Tau    float64
	Lambda float64
}

// N returns the number of observations
func (f *FittedNull) N() int {
	if f == nil || f.Y == nil {
		return 0
	}
	return f.Y.Len()
}

// Validate checks dimensional consistency and positivity of the variance components
func (f *FittedNull) Validate() error {
	if f == nil || f.Y == nil {
		return errors.InvalidInput("fitted null model is empty")
	}
	n := f.Y.Len()
	if f.YFixed == nil || f.YFixed.Len() != n {
		return errors.DimensionMismatch("fixed-effect fit must have length %d", n)
	}
	if f.Alpha0 != nil && f.Alpha0.Len() != n {
		return errors.DimensionMismatch("alpha0 has length %d, want %d", f.Alpha0.Len(), n)
	}
	if err := CheckSquare("K_int", f.KInt, n); err != nil {
		return err
	}
	if err := CheckSquare("K_ens", f.KEns, n); err != nil {
		return err
	}
	if f.X != nil {
		if r, _ := f.X.Dims(); r != n {
			return errors.DimensionMismatch("X has %d rows, want %d", r, n)
		}
	}
	if !(f.Sigma2 > 0) || !(f.Tau > 0) {
		return errors.InvalidInput("variance components must be positive (sigma2=%g, tau=%g)", f.Sigma2, f.Tau)
	}
	if math.IsInf(f.Sigma2, 0) || math.IsInf(f.Tau, 0) {
		return errors.NumericalInstability("variance components are not finite (sigma2=%g, tau=%g)", f.Sigma2, f.Tau)
	}
	return f.checkFinite()
}

// checkFinite rejects NaN or Inf anywhere in the bundle
func (f *FittedNull) checkFinite() error {
	names := []string{"y", "fixed-effect fit", "K_int", "K_ens"}
	parts := []mat.Matrix{f.Y, f.YFixed, f.KInt, f.KEns}
	if f.Alpha0 != nil {
		names = append(names, "alpha0")
		parts = append(parts, f.Alpha0)
	}
	if f.X != nil {
		names = append(names, "X")
		parts = append(parts, f.X)
	}
	for i, m := range parts {
		if !linalg.IsFinite(m) {
			return errors.NumericalInstability("%s has non-finite entries", names[i])
		}
	}
	return nil
}

// CheckSquare verifies that m is an n×n matrix
func CheckSquare(name string, m mat.Matrix, n int) error {
	if m == nil {
		return errors.DimensionMismatch("%s is missing", name)
	}
	r, c := m.Dims()
	if r != n || c != n {
		return errors.DimensionMismatch("%s is %dx%d, want %dx%d", name, r, c, n, n)
	}
	return nil
}

// Diagnostics records the intermediate quantities of a calibration
type Diagnostics struct {
	// Asymptotic calibration
	IDelDel    float64 `json:"i_deldel,omitempty"`
	MD         float64 `json:"md,omitempty"`
	MChi       float64 `json:"m_chi,omitempty"`
	DChi       float64 `json:"d_chi,omitempty"`
	Degenerate bool    `json:"degenerate,omitempty"`

	// Bootstrap calibration
	Replicates  int     `json:"replicates,omitempty"`
	Exceedances int     `json:"exceedances,omitempty"`
	NullMean    float64 `json:"null_mean,omitempty"`
	NullStdDev  float64 `json:"null_std_dev,omitempty"`
	NullP95     float64 `json:"null_p95,omitempty"`
}

// Calibration is what a calibrator returns for one fitted null model
type Calibration struct {
	Statistic   float64     `json:"statistic"`
	PValue      float64     `json:"p_value"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// TestResult is the packaged outcome of one interaction test
type TestResult struct {
	RunID       core.RunID  `json:"run_id"`
	Test        TestType    `json:"test"`
	PValue      float64     `json:"p_value"`
	Statistic   float64     `json:"statistic"`
	Lambda      float64     `json:"lambda"`
	UHat        []float64   `json:"u_hat"`
	Sigma2      float64     `json:"sigma2"`
	Tau         float64     `json:"tau"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Mode is the tuning criterion used by the null-model estimator
type Mode string

const (
	ModeLOOCV Mode = "loocv"
	ModeGCV   Mode = "gcv"
	ModeAIC   Mode = "aic"
)

// Strategy is the kernel ensemble strategy used by the null-model estimator
type Strategy string

const (
	StrategyAverage Strategy = "avg"
	StrategyExp     Strategy = "exp"
	StrategyERM     Strategy = "erm"
)

// EstimationRequest is the input of the null-model estimator.
// BetaExp is the temperature of the exponential-weighting strategy; it must
// be supplied explicitly (positive) when Strategy is StrategyExp.
type EstimationRequest struct {
	Y          *mat.VecDense
	X          *mat.Dense
	KList      []mat.Matrix
	Mode       Mode
	Strategy   Strategy
	BetaExp    float64
	LambdaGrid []float64
}

// EstimationResult holds the fitted null-model quantities for one selected lambda
type EstimationResult struct {
	Lambda float64
	Beta   *mat.VecDense
	Alpha  *mat.VecDense
	KEns   *mat.SymDense
	UHat   []float64
}
