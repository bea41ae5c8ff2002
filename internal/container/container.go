package container

import (
	"gocvek/adapters/estimation"
	"gocvek/adapters/rng"
	"gocvek/app"
	"gocvek/internal"
	"gocvek/internal/config"
	"gocvek/internal/errors"
	"gocvek/internal/score"
	"gocvek/ports"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Collaborators
	RNG       ports.RNGPort
	Estimator ports.Estimator
	Noise     ports.NoiseEstimator

	// Testing
	Calibrators *score.Registry
	Service     *app.InteractionTestService
}

// New wires the reference adapters behind the test orchestrator
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, errors.ConfigInvalid("config cannot be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := internal.NewLogger(internal.ParseLogLevel(cfg.Log.Level))
	c := &Container{
		Config:    cfg,
		Logger:    logger,
		RNG:       rng.NewSeeded(),
		Estimator: estimation.NewEnsemble(cfg.Testing.PinvTol, logger),
		Noise:     estimation.NewResidualNoise(cfg.Testing.PinvTol),
	}
	c.Calibrators = score.NewRegistry(c.RNG, logger)
	c.Service = app.NewInteractionTestService(c.Estimator, c.Noise, c.Calibrators, cfg.Testing, logger)
	return c, nil
}
