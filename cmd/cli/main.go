package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"gocvek/adapters/excel"
	"gocvek/app"
	"gocvek/domain/core"
	"gocvek/domain/kernel"
	"gocvek/internal/config"
	"gocvek/internal/container"
	"gocvek/internal/kernels"
	"gocvek/internal/testkit"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gocvek",
		Short: "Score tests for kernel interaction effects",
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newSimulateCmd(),
		newPowerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// testFlags are the model and calibration flags shared by every command
type testFlags struct {
	test     string
	mode     string
	strategy string
	betaExp  float64
	lambdas  string
	kernel   string
	b        int
	seed     int64
	runID    string
}

func (f *testFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.test, "test", "asym", "Calibration: asym or boot")
	cmd.Flags().StringVar(&f.mode, "mode", "loocv", "Tuning criterion: loocv, gcv or aic")
	cmd.Flags().StringVar(&f.strategy, "strategy", "avg", "Ensemble strategy: avg, exp or erm")
	cmd.Flags().Float64Var(&f.betaExp, "beta-exp", 1, "Temperature of the exp ensemble strategy")
	cmd.Flags().StringVar(&f.lambdas, "lambdas", "0.001,0.01,0.1,1,10", "Comma-separated lambda grid")
	cmd.Flags().StringVar(&f.kernel, "kernel", "rbf", "Base kernel: linear, poly[:degree[:offset]], rbf[:length-scale]")
	cmd.Flags().IntVar(&f.b, "b", 0, "Bootstrap replicates (0 uses GOCVEK_BOOTSTRAP_REPLICATES)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Random seed (0 uses GOCVEK_SEED)")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Pin the run ID to reproduce a bootstrap run (generated when empty)")
}

func (f *testFlags) request() (app.TestRequest, kernels.Func, error) {
	grid, err := parseFloats(f.lambdas)
	if err != nil {
		return app.TestRequest{}, nil, fmt.Errorf("invalid --lambdas: %w", err)
	}
	fn, err := kernels.Parse(f.kernel)
	if err != nil {
		return app.TestRequest{}, nil, err
	}
	var runID core.RunID
	if f.runID != "" {
		if runID, err = core.ParseRunID(f.runID); err != nil {
			return app.TestRequest{}, nil, fmt.Errorf("invalid --run-id: %w", err)
		}
	}
	return app.TestRequest{
		Mode:       kernel.Mode(f.mode),
		Strategy:   kernel.Strategy(f.strategy),
		BetaExp:    f.betaExp,
		Test:       f.test,
		LambdaGrid: grid,
		B:          f.b,
		Seed:       f.seed,
		RunID:      runID,
	}, fn, nil
}

func newRunCmd() *cobra.Command {
	var flags testFlags
	var dataPath, yCol, xCols, groups, outPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Test an interaction between column groups of a CSV/XLSX dataset",
		Long: `Fit the additive null model on the column groups and test their product kernel.

Example: gocvek run --data study.csv --y outcome --x age,sex --groups "dose;genotype" --test boot --b 2000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			req, fn, err := flags.request()
			if err != nil {
				return err
			}

			table, err := excel.NewDataReader(dataPath).ReadData()
			if err != nil {
				return err
			}
			if req.Y, err = table.Vector(yCol); err != nil {
				return err
			}
			if req.X, err = designMatrix(table, splitList(xCols, ",")); err != nil {
				return err
			}
			if req.KList, req.KInt, err = groupKernels(table, groups, fn); err != nil {
				return err
			}

			result, err := c.Service.Test(cmd.Context(), req)
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := excel.WriteResults(outPath, []*kernel.TestResult{result}); err != nil {
					return err
				}
			}
			return printJSON(result)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&dataPath, "data", "", "CSV or XLSX data file")
	cmd.Flags().StringVar(&yCol, "y", "y", "Response column")
	cmd.Flags().StringVar(&xCols, "x", "", "Comma-separated fixed-effect columns (an intercept is always added)")
	cmd.Flags().StringVar(&groups, "groups", "", "Semicolon-separated kernel groups, each a comma-separated column list")
	cmd.Flags().StringVar(&outPath, "out", "", "Optional XLSX file for the result")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("groups")

	return cmd
}

func newSimulateCmd() *cobra.Command {
	var flags testFlags
	var sim testkit.InteractionConfig
	var dataSeed int64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Draw one synthetic dataset and test its x1·x2 interaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			req, fn, err := flags.request()
			if err != nil {
				return err
			}

			r, err := c.RNG.SeededStream(cmd.Context(), "simulate", dataSeed)
			if err != nil {
				return err
			}
			ds, err := testkit.Simulate(sim, r)
			if err != nil {
				return err
			}
			if req, err = datasetRequest(req, ds, fn); err != nil {
				return err
			}
			result, err := c.Service.Test(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	flags.register(cmd)
	registerSimFlags(cmd, &sim)
	cmd.Flags().Int64Var(&dataSeed, "data-seed", 1, "Seed for the simulated data")
	return cmd
}

func newPowerCmd() *cobra.Command {
	var flags testFlags
	var sim testkit.InteractionConfig
	var runs int
	var alpha float64
	var tests, outPath string
	var dataSeed int64

	cmd := &cobra.Command{
		Use:   "power",
		Short: "Estimate size or power by repeated simulation",
		Long: `Repeat simulate+test and report the rejection rate and the KS distance of the
p-values from Uniform(0,1). With --delta 0 this checks calibration; otherwise power.

Example: gocvek power --runs 200 --delta 0.5 --tests asym,boot --out power.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			base, fn, err := flags.request()
			if err != nil {
				return err
			}

			study := testkit.StudyConfig{Sim: sim, Runs: runs, Alpha: alpha, Seed: dataSeed}
			var reports []excel.NamedReport
			for _, name := range splitList(tests, ",") {
				req := base
				req.Test = name
				report, err := testkit.PowerStudy(cmd.Context(), study, c.RNG, func(ctx context.Context, ds *testkit.Dataset, run int) (float64, error) {
					r, err := datasetRequest(req, ds, fn)
					if err != nil {
						return 0, err
					}
					r.Seed = req.Seed + int64(run)
					res, err := c.Service.Test(ctx, r)
					if err != nil {
						return 0, err
					}
					return res.PValue, nil
				})
				if err != nil {
					return err
				}
				log.Printf("[Power] %s: rejection rate %.3f, KS distance %.3f over %d runs",
					name, report.RejectionRate, report.KSDistance, report.Runs)
				reports = append(reports, excel.NamedReport{Name: name, Report: report})
			}

			if outPath != "" {
				if err := excel.WriteStudyReport(outPath, reports); err != nil {
					return err
				}
			}
			summary := make(map[string]interface{}, len(reports))
			for _, r := range reports {
				summary[r.Name] = map[string]float64{
					"rejection_rate": r.Report.RejectionRate,
					"ks_distance":    r.Report.KSDistance,
					"mean_p":         r.Report.MeanP,
				}
			}
			return printJSON(summary)
		},
	}

	flags.register(cmd)
	registerSimFlags(cmd, &sim)
	cmd.Flags().IntVar(&runs, "runs", 100, "Number of simulated datasets")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Significance level")
	cmd.Flags().StringVar(&tests, "tests", "asym", "Comma-separated calibrations to compare")
	cmd.Flags().StringVar(&outPath, "out", "", "Optional XLSX report")
	cmd.Flags().Int64Var(&dataSeed, "data-seed", 1, "Seed for the simulated data")
	return cmd
}

func registerSimFlags(cmd *cobra.Command, sim *testkit.InteractionConfig) {
	def := testkit.DefaultInteractionConfig()
	cmd.Flags().IntVar(&sim.N, "n", def.N, "Observations per dataset")
	cmd.Flags().Float64Var(&sim.Delta, "delta", def.Delta, "Interaction effect size")
	cmd.Flags().Float64Var(&sim.Sigma, "sigma", def.Sigma, "Noise standard deviation")
	cmd.Flags().Float64SliceVar(&sim.Beta, "beta", def.Beta, "Fixed effects, intercept first")
}

func setup() (*container.Container, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return container.New(cfg)
}

func datasetRequest(req app.TestRequest, ds *testkit.Dataset, fn kernels.Func) (app.TestRequest, error) {
	kList, kInt, err := ds.Kernels(fn)
	if err != nil {
		return req, err
	}
	req.Y = ds.Y
	req.X = ds.X
	req.KList = kList
	req.KInt = kInt
	return req, nil
}

func designMatrix(table *excel.Table, cols []string) (*mat.Dense, error) {
	if len(cols) == 0 {
		ones := make([]float64, table.Len())
		for i := range ones {
			ones[i] = 1
		}
		return mat.NewDense(table.Len(), 1, ones), nil
	}
	return table.Matrix(cols)
}

func groupKernels(table *excel.Table, spec string, fn kernels.Func) ([]mat.Matrix, mat.Matrix, error) {
	groups := splitList(spec, ";")
	if len(groups) < 2 {
		return nil, nil, fmt.Errorf("--groups needs at least two groups, got %q", spec)
	}

	kList := make([]mat.Matrix, len(groups))
	var kInt mat.Matrix
	for i, g := range groups {
		z, err := table.Matrix(splitList(g, ","))
		if err != nil {
			return nil, nil, err
		}
		k, err := kernels.Gram(z, nil, fn)
		if err != nil {
			return nil, nil, err
		}
		kList[i] = k
		if kInt == nil {
			kInt = k
			continue
		}
		if kInt, err = kernels.Product(kInt, k); err != nil {
			return nil, nil, err
		}
	}
	return kList, kInt, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(s string) ([]float64, error) {
	parts := splitList(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
