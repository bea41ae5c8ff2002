package testkit

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"gocvek/internal/errors"
	"gocvek/ports"
)

// StudyConfig configures a repeated-simulation power or calibration study
type StudyConfig struct {
	Sim   InteractionConfig `json:"sim"`
	Runs  int               `json:"runs"`
	Alpha float64           `json:"alpha"`
	Seed  int64             `json:"seed"`
}

// DefaultStudyConfig returns 100 runs at the 5% level
func DefaultStudyConfig() StudyConfig {
	return StudyConfig{
		Sim:   DefaultInteractionConfig(),
		Runs:  100,
		Alpha: 0.05,
		Seed:  42,
	}
}

// PValueFunc runs one test on a simulated dataset and returns its p-value
type PValueFunc func(ctx context.Context, ds *Dataset, run int) (float64, error)

// StudyReport summarizes the p-values of a study
type StudyReport struct {
	Runs          int       `json:"runs"`
	Rejections    int       `json:"rejections"`
	RejectionRate float64   `json:"rejection_rate"`
	KSDistance    float64   `json:"ks_distance"`
	MeanP         float64   `json:"mean_p"`
	MedianP       float64   `json:"median_p"`
	StdDevP       float64   `json:"std_dev_p"`
	PValues       []float64 `json:"p_values"`
}

const studyStage = "power"

// PowerStudy simulates cfg.Runs datasets and tests each one. Under the null
// the rejection rate estimates the size and KSDistance measures departure of
// the p-values from Uniform(0, 1); under an alternative the rejection rate
// estimates power.
func PowerStudy(ctx context.Context, cfg StudyConfig, rng ports.RNGPort, test PValueFunc) (*StudyReport, error) {
	if cfg.Runs < 1 {
		return nil, errors.InvalidInput("study needs at least one run, got %d", cfg.Runs)
	}
	if !(cfg.Alpha > 0 && cfg.Alpha < 1) {
		return nil, errors.InvalidInput("alpha must be in (0, 1), got %g", cfg.Alpha)
	}

	pValues := make([]float64, cfg.Runs)
	rejections := 0
	for i := 0; i < cfg.Runs; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := rng.Stream(ctx, "study", studyStage, strconv.Itoa(i), cfg.Seed)
		if err != nil {
			return nil, err
		}
		ds, err := Simulate(cfg.Sim, r)
		if err != nil {
			return nil, err
		}
		p, err := test(ctx, ds, i)
		if err != nil {
			return nil, errors.Wrapf(err, "study run %d", i)
		}
		pValues[i] = p
		if p <= cfg.Alpha {
			rejections++
		}
	}

	report := &StudyReport{
		Runs:          cfg.Runs,
		Rejections:    rejections,
		RejectionRate: float64(rejections) / float64(cfg.Runs),
		KSDistance:    KSUniform(pValues),
		PValues:       pValues,
	}
	report.MeanP, _ = stats.Mean(pValues)
	report.MedianP, _ = stats.Median(pValues)
	if cfg.Runs > 1 {
		report.StdDevP, _ = stats.StandardDeviationSample(pValues)
	}
	return report, nil
}

// KSUniform returns the Kolmogorov–Smirnov distance between the empirical
// distribution of ps and Uniform(0, 1)
func KSUniform(ps []float64) float64 {
	if len(ps) == 0 {
		return 0
	}
	sorted := make([]float64, len(ps))
	copy(sorted, ps)
	sort.Float64s(sorted)

	u := distuv.Uniform{Min: 0, Max: 1}
	n := float64(len(sorted))
	d := 0.0
	for i, p := range sorted {
		f := u.CDF(p)
		d = math.Max(d, math.Max(float64(i+1)/n-f, f-float64(i)/n))
	}
	return d
}
