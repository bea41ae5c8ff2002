package score

import (
	"context"

	"gocvek/domain/core"
	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/errors"
	"gocvek/internal/linalg"
	"gocvek/ports"
)

// Calibrator turns the score statistic of a fitted null model into a p-value
type Calibrator interface {
	Type() kernel.TestType
	Calibrate(ctx context.Context, fit *kernel.FittedNull, opts Options) (*kernel.Calibration, error)
}

// Options carries the per-invocation knobs shared by both calibrators.
// Fields a calibrator does not use are ignored (Replicates for Asymptotic).
type Options struct {
	RunID         core.RunID
	Replicates    int
	Workers       int
	Seed          int64
	PinvTol       float64
	DegeneracyTol float64
}

// DefaultOptions returns options with the package defaults filled in
func DefaultOptions() Options {
	return Options{
		Replicates:    1000,
		Workers:       1,
		Seed:          42,
		PinvTol:       linalg.DefaultTol,
		DegeneracyTol: 1e-10,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Workers < 1 {
		o.Workers = def.Workers
	}
	if o.PinvTol <= 0 {
		o.PinvTol = def.PinvTol
	}
	if o.DegeneracyTol <= 0 {
		o.DegeneracyTol = def.DegeneracyTol
	}
	if o.RunID.IsEmpty() {
		o.RunID = core.NewRunID()
	}
	return o
}

// Registry holds one calibrator per TestType
type Registry struct {
	calibrators map[kernel.TestType]Calibrator
}

// NewRegistry wires the asymptotic and bootstrap calibrators
func NewRegistry(rng ports.RNGPort, logger *internal.Logger) *Registry {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Registry{
		calibrators: map[kernel.TestType]Calibrator{
			kernel.TestAsymptotic: NewAsymptotic(logger),
			kernel.TestBootstrap:  NewBootstrap(rng, logger),
		},
	}
}

// For returns the calibrator registered for t
func (r *Registry) For(t kernel.TestType) (Calibrator, error) {
	if !t.Valid() {
		return nil, errors.UnsupportedTest(string(t))
	}
	c, ok := r.calibrators[t]
	if !ok {
		return nil, errors.UnsupportedTest(string(t))
	}
	return c, nil
}
