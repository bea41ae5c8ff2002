package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"

	"gocvek/domain/core"
	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/config"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
	"gocvek/internal/score"
	"gocvek/ports"
)

// interceptTol is how close column 0 must be to one to count as an intercept
const interceptTol = 1e-12

// InteractionTestService orchestrates one interaction test: it fits the null
// model through the injected estimators and dispatches to a calibrator.
type InteractionTestService struct {
	estimator ports.Estimator
	noise     ports.NoiseEstimator
	registry  *score.Registry
	cfg       config.TestingConfig
	logger    *internal.Logger
}

// TestRequest defines the inputs of a single interaction test.
// B and Seed fall back to the configured defaults when zero; RunID is
// generated when empty.
type TestRequest struct {
	Y          *mat.VecDense
	X          *mat.Dense
	KList      []mat.Matrix
	KInt       mat.Matrix
	Mode       kernel.Mode
	Strategy   kernel.Strategy
	BetaExp    float64
	Test       string
	LambdaGrid []float64
	B          int
	Seed       int64
	RunID      core.RunID
}

// NewInteractionTestService creates the orchestrator
func NewInteractionTestService(estimator ports.Estimator, noise ports.NoiseEstimator, registry *score.Registry, cfg config.TestingConfig, logger *internal.Logger) *InteractionTestService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &InteractionTestService{
		estimator: estimator,
		noise:     noise,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With("Orchestrator"),
	}
}

// nullModel is the fitted null model shared by every candidate kernel
type nullModel struct {
	fit    *kernel.FittedNull
	lambda float64
	uHat   []float64
}

// Test runs the score test of req.KInt against the fitted null model
func (s *InteractionTestService) Test(ctx context.Context, req TestRequest) (*kernel.TestResult, error) {
	startTime := time.Now()

	calibrator, err := s.calibratorFor(req.Test)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if err := checkKernel("K_int", req.KInt, req.Y.Len()); err != nil {
		return nil, err
	}

	null, err := s.fitNull(ctx, req)
	if err != nil {
		return nil, err
	}

	opts := s.options(req)
	result, err := s.calibrate(ctx, calibrator, null, req.KInt, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Info("run %s: %s test p=%.4g (lambda=%g, %dms)",
		result.RunID, result.Test, result.PValue, result.Lambda, time.Since(startTime).Milliseconds())
	return result, nil
}

// TestMany fits the null model once and tests each candidate interaction
// kernel against it. At most MaxConcurrentTests candidates run at a time;
// results are returned in candidate order.
func (s *InteractionTestService) TestMany(ctx context.Context, req TestRequest, candidates []mat.Matrix) ([]*kernel.TestResult, error) {
	calibrator, err := s.calibratorFor(req.Test)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.InvalidInput("no candidate interaction kernels")
	}
	n := req.Y.Len()
	for i, k := range candidates {
		if err := checkKernel("K_int", k, n); err != nil {
			return nil, errors.Wrapf(err, "candidate %d", i)
		}
	}

	null, err := s.fitNull(ctx, req)
	if err != nil {
		return nil, err
	}

	limit := s.cfg.MaxConcurrentTests
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	base := s.options(req)
	results := make([]*kernel.TestResult, len(candidates))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, kInt := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, kInt mat.Matrix) {
			defer wg.Done()
			defer sem.Release(1)

			opts := base
			opts.RunID = core.RunID(fmt.Sprintf("%s/%d", base.RunID, i))
			res, err := s.calibrate(ctx, calibrator, null, kInt, opts)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Wrapf(err, "candidate %d", i)
					cancel()
				}
				mu.Unlock()
				return
			}
			results[i] = res
		}(i, kInt)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("run %s: tested %d candidate kernels", base.RunID, len(candidates))
	return results, nil
}

func (s *InteractionTestService) calibratorFor(name string) (score.Calibrator, error) {
	testType, err := kernel.ParseTestType(name)
	if err != nil {
		return nil, err
	}
	return s.registry.For(testType)
}

// fitNull runs the estimator and noise estimator and assembles the
// immutable null-model bundle. KInt is attached per candidate later.
func (s *InteractionTestService) fitNull(ctx context.Context, req TestRequest) (*nullModel, error) {
	x := EnsureIntercept(req.X)

	est, err := s.estimator.Estimate(ctx, kernel.EstimationRequest{
		Y:          req.Y,
		X:          x,
		KList:      req.KList,
		Mode:       req.Mode,
		Strategy:   req.Strategy,
		BetaExp:    req.BetaExp,
		LambdaGrid: req.LambdaGrid,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if code := errors.GetCode(err); code == "UNKNOWN" || code == errors.CodeInternalError {
			return nil, errors.EstimationFailed(err)
		}
		return nil, err
	}
	if err := checkEstimation(est, req.Y.Len(), x); err != nil {
		return nil, err
	}

	yFixed := mat.NewVecDense(req.Y.Len(), nil)
	yFixed.MulVec(x, est.Beta)

	sigma2, err := s.noise.EstimateSigma2(ctx, req.Y, x, est.Lambda, yFixed, est.Alpha, est.KEns)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if code := errors.GetCode(err); code == "UNKNOWN" || code == errors.CodeInternalError {
			return nil, errors.WithCode(errors.CodeEstimationFailed, errors.Wrap(err, "noise variance estimation failed"))
		}
		return nil, err
	}
	tau := sigma2 / est.Lambda
	if !(sigma2 > 0) || !(tau > 0) || math.IsInf(sigma2, 0) || math.IsInf(tau, 0) {
		return nil, errors.NumericalInstability("variance components are not positive and finite (sigma2=%g, tau=%g)", sigma2, tau)
	}
	s.logger.Debug("null model: lambda=%g sigma2=%g tau=%g weights=%v", est.Lambda, sigma2, tau, est.UHat)

	return &nullModel{
		fit: &kernel.FittedNull{
			Y:      req.Y,
			X:      x,
			YFixed: yFixed,
			Alpha0: est.Alpha,
			KEns:   est.KEns,
			Sigma2: sigma2,
			Tau:    tau,
			Lambda: est.Lambda,
		},
		lambda: est.Lambda,
		uHat:   est.UHat,
	}, nil
}

func (s *InteractionTestService) calibrate(ctx context.Context, c score.Calibrator, null *nullModel, kInt mat.Matrix, opts score.Options) (*kernel.TestResult, error) {
	fit := *null.fit
	fit.KInt = kInt

	cal, err := c.Calibrate(ctx, &fit, opts)
	if err != nil {
		return nil, err
	}
	uHat := make([]float64, len(null.uHat))
	copy(uHat, null.uHat)

	return &kernel.TestResult{
		RunID:       opts.RunID,
		Test:        c.Type(),
		PValue:      cal.PValue,
		Statistic:   cal.Statistic,
		Lambda:      null.lambda,
		UHat:        uHat,
		Sigma2:      fit.Sigma2,
		Tau:         fit.Tau,
		Diagnostics: cal.Diagnostics,
	}, nil
}

func (s *InteractionTestService) options(req TestRequest) score.Options {
	opts := score.Options{
		RunID:         req.RunID,
		Replicates:    req.B,
		Workers:       s.cfg.Workers,
		Seed:          req.Seed,
		PinvTol:       s.cfg.PinvTol,
		DegeneracyTol: s.cfg.DegeneracyTol,
	}
	if opts.Replicates == 0 {
		opts.Replicates = s.cfg.BootstrapReplicates
	}
	if opts.Seed == 0 {
		opts.Seed = s.cfg.Seed
	}
	if opts.RunID.IsEmpty() {
		opts.RunID = core.NewRunID()
	}
	return opts
}

// EnsureIntercept returns x with a leading column of ones. If column 0 is
// already all ones, x is returned unchanged.
func EnsureIntercept(x *mat.Dense) *mat.Dense {
	if linalg.ColumnIsConstant(x, 0, 1, interceptTol) {
		return x
	}
	r, c := x.Dims()
	out := mat.NewDense(r, c+1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, 1)
		for j := 0; j < c; j++ {
			out.Set(i, j+1, x.At(i, j))
		}
	}
	return out
}

func (s *InteractionTestService) validateRequest(req TestRequest) error {
	if req.Y == nil || req.Y.Len() == 0 {
		return errors.InvalidInput("response vector is empty")
	}
	n := req.Y.Len()
	if !linalg.IsFinite(req.Y) {
		return errors.InvalidInput("response vector has non-finite entries")
	}
	if req.X == nil {
		return errors.InvalidInput("design matrix is missing")
	}
	if r, _ := req.X.Dims(); r != n {
		return errors.DimensionMismatch("X has %d rows, want %d", r, n)
	}
	if !linalg.IsFinite(req.X) {
		return errors.InvalidInput("design matrix has non-finite entries")
	}
	if len(req.KList) == 0 {
		return errors.InvalidInput("kernel list is empty")
	}
	for i, k := range req.KList {
		if err := checkKernel(fmt.Sprintf("kernel %d", i), k, n); err != nil {
			return err
		}
	}
	if req.B < 0 {
		return errors.InvalidInput("bootstrap replicates must be positive, got %d", req.B)
	}
	if limit := s.cfg.MaxReplicates; limit > 0 && req.B > limit {
		return errors.InvalidInput("bootstrap replicates %d exceed the limit of %d", req.B, limit)
	}
	return nil
}

// checkKernel requires an n×n kernel matrix with finite entries
func checkKernel(name string, k mat.Matrix, n int) error {
	if err := kernel.CheckSquare(name, k, n); err != nil {
		return err
	}
	if !linalg.IsFinite(k) {
		return errors.InvalidInput("%s has non-finite entries", name)
	}
	return nil
}

func checkEstimation(est *kernel.EstimationResult, n int, x *mat.Dense) error {
	if est == nil || est.Beta == nil || est.Alpha == nil || est.KEns == nil {
		return errors.EstimationFailed(errors.InvalidInput("estimator returned an incomplete result"))
	}
	if _, p := x.Dims(); est.Beta.Len() != p {
		return errors.DimensionMismatch("estimator returned %d coefficients, want %d", est.Beta.Len(), p)
	}
	if est.Alpha.Len() != n || est.KEns.SymmetricDim() != n {
		return errors.DimensionMismatch("estimator returned quantities for n=%d, want %d", est.Alpha.Len(), n)
	}
	if !(est.Lambda > 0) {
		return errors.NumericalInstability("estimator selected a non-positive lambda (%g)", est.Lambda)
	}
	return nil
}
