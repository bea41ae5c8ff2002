package score

import (
	"context"
	"math"
	"strconv"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/errors"
	"gocvek/ports"
)

const bootstrapStage = "bootstrap"

// Bootstrap calibrates the score statistic by parametric resampling:
// responses are redrawn from the fitted null mean with Gaussian noise of
// variance sigma2 and the statistic is recomputed on each draw.
type Bootstrap struct {
	rng    ports.RNGPort
	logger *internal.Logger
}

// NewBootstrap creates the parametric bootstrap calibrator. Every replicate
// draws from its own rng.Stream keyed by (run, replicate index).
func NewBootstrap(rng ports.RNGPort, logger *internal.Logger) *Bootstrap {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Bootstrap{rng: rng, logger: logger.With("Bootstrap")}
}

// Type returns kernel.TestBootstrap
func (b *Bootstrap) Type() kernel.TestType { return kernel.TestBootstrap }

// Calibrate runs opts.Replicates resamples on at most opts.Workers goroutines.
// The p-value is the share of replicate statistics at least as large as the
// observed one, so it is always a multiple of 1/Replicates.
func (b *Bootstrap) Calibrate(ctx context.Context, fit *kernel.FittedNull, opts Options) (*kernel.Calibration, error) {
	if err := fit.Validate(); err != nil {
		return nil, err
	}
	if fit.Alpha0 == nil {
		return nil, errors.InvalidInput("bootstrap calibration needs the random-effect coefficients alpha0")
	}
	if opts.Replicates < 1 {
		return nil, errors.InvalidInput("bootstrap needs at least one replicate, got %d", opts.Replicates)
	}
	if b.rng == nil {
		return nil, errors.InvalidInput("bootstrap calibrator has no random source")
	}
	opts = opts.withDefaults()
	n := fit.N()

	engine, err := NewStatEngine(fit.KEns, fit.Sigma2, fit.Tau, opts.PinvTol)
	if err != nil {
		return nil, err
	}
	observed, err := engine.Statistic(fit.Y, fit.YFixed, fit.KInt)
	if err != nil {
		return nil, err
	}
	if !finite(observed) {
		return nil, errors.NumericalInstability("observed score statistic is not finite (%g)", observed)
	}

	meanY := mat.NewVecDense(n, nil)
	meanY.MulVec(fit.KEns, fit.Alpha0)
	meanY.AddVec(meanY, fit.YFixed)
	sd := math.Sqrt(fit.Sigma2)

	replicates := make([]float64, opts.Replicates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range replicates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng, err := b.rng.Stream(gctx, opts.RunID.String(), bootstrapStage, strconv.Itoa(i), opts.Seed)
			if err != nil {
				return errors.Wrapf(err, "opening random stream for replicate %d", i)
			}

			yStar := mat.NewVecDense(n, nil)
			for j := 0; j < n; j++ {
				yStar.SetVec(j, meanY.AtVec(j)+sd*rng.NormFloat64())
			}

			s, err := engine.Statistic(yStar, fit.YFixed, fit.KInt)
			if err != nil {
				return err
			}
			if !finite(s) {
				return errors.NumericalInstability("replicate %d statistic is not finite (%g)", i, s)
			}
			replicates[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	exceed := 0
	for _, s := range replicates {
		if s >= observed {
			exceed++
		}
	}

	result := &kernel.Calibration{
		Statistic: observed,
		PValue:    float64(exceed) / float64(opts.Replicates),
		Diagnostics: kernel.Diagnostics{
			Replicates:  opts.Replicates,
			Exceedances: exceed,
		},
	}
	summarizeNull(replicates, &result.Diagnostics)

	b.logger.Debug("run %s: %d/%d replicates >= observed %.6g (workers=%d)",
		opts.RunID, exceed, opts.Replicates, observed, opts.Workers)
	return result, nil
}

// summarizeNull records the mean, spread and 95th percentile of the
// bootstrap null distribution.
func summarizeNull(replicates []float64, d *kernel.Diagnostics) {
	data := stats.Float64Data(replicates)
	if mean, err := stats.Mean(data); err == nil {
		d.NullMean = mean
	}
	if len(replicates) > 1 {
		if sd, err := stats.StandardDeviationSample(data); err == nil {
			d.NullStdDev = sd
		}
	}
	if p95, err := stats.Percentile(data, 95); err == nil {
		d.NullP95 = p95
	}
}
