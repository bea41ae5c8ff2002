// Package api exposes the interaction test over HTTP
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/mat"

	"gocvek/app"
	"gocvek/domain/core"
	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/errors"
	"gocvek/internal/kernels"
)

// Tester is the part of the orchestrator the HTTP layer needs
type Tester interface {
	Test(ctx context.Context, req app.TestRequest) (*kernel.TestResult, error)
}

// Server wires the HTTP routes to a Tester
type Server struct {
	router *gin.Engine
	tester Tester
	logger *internal.Logger
}

// TestPayload is the JSON body of POST /v1/tests. Kernels are either passed
// as finished matrices (Kernels + KInt) or built from Z: one base kernel per
// entry of Groups, and the interaction kernel as their product.
type TestPayload struct {
	Y          []float64     `json:"y" binding:"required"`
	X          [][]float64   `json:"x"`
	Kernels    [][][]float64 `json:"kernels"`
	KInt       [][]float64   `json:"k_int"`
	Z          [][]float64   `json:"z"`
	Groups     [][]int       `json:"groups"`
	Kernel     string        `json:"kernel"`
	Mode       string        `json:"mode"`
	Strategy   string        `json:"strategy"`
	BetaExp    float64       `json:"beta_exp"`
	Test       string        `json:"test"`
	LambdaGrid []float64     `json:"lambda_grid"`
	B          int           `json:"b"`
	Seed       int64         `json:"seed"`
	RunID      string        `json:"run_id"`
}

// NewServer creates the HTTP server
func NewServer(tester Tester, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{
		router: gin.New(),
		tester: tester,
		logger: logger.With("API"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	v1 := s.router.Group("/v1")
	v1.POST("/tests", s.handleTest)
}

// Handler returns the router as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTest(c *gin.Context) {
	var payload TestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errors.CodeInvalidInput})
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.tester.Test(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func statusFor(code string) int {
	switch code {
	case errors.CodeInvalidInput, errors.CodeDimensionMismatch, errors.CodeUnsupportedTest:
		return http.StatusBadRequest
	case errors.CodeNumericalInstability, errors.CodeEstimationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (p *TestPayload) toRequest() (app.TestRequest, error) {
	n := len(p.Y)
	if n == 0 {
		return app.TestRequest{}, errors.InvalidInput("y is empty")
	}
	req := app.TestRequest{
		Y:          mat.NewVecDense(n, append([]float64(nil), p.Y...)),
		Mode:       kernel.Mode(p.Mode),
		Strategy:   kernel.Strategy(p.Strategy),
		BetaExp:    p.BetaExp,
		Test:       p.Test,
		LambdaGrid: p.LambdaGrid,
		B:          p.B,
		Seed:       p.Seed,
	}
	if p.RunID != "" {
		id, err := core.ParseRunID(p.RunID)
		if err != nil {
			return app.TestRequest{}, errors.WithCode(errors.CodeInvalidInput, err)
		}
		req.RunID = id
	}
	if req.Mode == "" {
		req.Mode = kernel.ModeLOOCV
	}
	if req.Strategy == "" {
		req.Strategy = kernel.StrategyAverage
	}
	if req.Test == "" {
		req.Test = string(kernel.TestAsymptotic)
	}
	if len(req.LambdaGrid) == 0 {
		req.LambdaGrid = DefaultLambdaGrid()
	}

	if len(p.X) == 0 {
		req.X = mat.NewDense(n, 1, ones(n))
	} else {
		x, err := denseFromRows("x", p.X, n, -1)
		if err != nil {
			return app.TestRequest{}, err
		}
		req.X = x
	}

	if len(p.Kernels) > 0 {
		for i, rows := range p.Kernels {
			k, err := denseFromRows("kernel", rows, n, n)
			if err != nil {
				return app.TestRequest{}, errors.Wrapf(err, "kernel %d", i)
			}
			req.KList = append(req.KList, k)
		}
		kInt, err := denseFromRows("k_int", p.KInt, n, n)
		if err != nil {
			return app.TestRequest{}, err
		}
		req.KInt = kInt
		return req, nil
	}

	kList, kInt, err := p.buildKernels(n)
	if err != nil {
		return app.TestRequest{}, err
	}
	req.KList = kList
	req.KInt = kInt
	return req, nil
}

func (p *TestPayload) buildKernels(n int) ([]mat.Matrix, mat.Matrix, error) {
	if len(p.Z) == 0 || len(p.Groups) < 2 {
		return nil, nil, errors.InvalidInput("provide kernels and k_int, or z with at least two column groups")
	}
	z, err := denseFromRows("z", p.Z, n, -1)
	if err != nil {
		return nil, nil, err
	}
	name := p.Kernel
	if name == "" {
		name = "rbf"
	}
	fn, err := kernels.Parse(name)
	if err != nil {
		return nil, nil, err
	}

	kList := make([]mat.Matrix, len(p.Groups))
	var kInt mat.Matrix
	for i, cols := range p.Groups {
		g, err := kernels.Gram(z, cols, fn)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "group %d", i)
		}
		kList[i] = g
		if kInt == nil {
			kInt = g
			continue
		}
		if kInt, err = kernels.Product(kInt, g); err != nil {
			return nil, nil, err
		}
	}
	return kList, kInt, nil
}

// denseFromRows builds an r×c matrix; cols < 0 accepts any common width
func denseFromRows(name string, rows [][]float64, r, cols int) (*mat.Dense, error) {
	if len(rows) != r {
		return nil, errors.DimensionMismatch("%s has %d rows, want %d", name, len(rows), r)
	}
	c := cols
	if c < 0 {
		c = len(rows[0])
	}
	if c == 0 {
		return nil, errors.InvalidInput("%s has no columns", name)
	}
	out := mat.NewDense(r, c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, errors.DimensionMismatch("%s row %d has %d values, want %d", name, i, len(row), c)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// DefaultLambdaGrid is the tuning grid used when a request does not supply one
func DefaultLambdaGrid() []float64 {
	return []float64{1e-3, 1e-2, 1e-1, 1, 10}
}
