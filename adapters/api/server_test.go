package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocvek/app"
	"gocvek/domain/core"
	"gocvek/domain/kernel"
	"gocvek/internal"
	"gocvek/internal/config"
	"gocvek/internal/container"
	"gocvek/internal/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTester struct {
	got    app.TestRequest
	result *kernel.TestResult
	err    error
}

func (f *fakeTester) Test(_ context.Context, req app.TestRequest) (*kernel.TestResult, error) {
	f.got = req
	return f.result, f.err
}

func post(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/tests", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func quietServer(tester Tester) *Server {
	return NewServer(tester, internal.NewLogger(internal.LogLevelError))
}

func TestHealth(t *testing.T) {
	srv := quietServer(&fakeTester{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestPostWithKernelMatrices(t *testing.T) {
	tester := &fakeTester{result: &kernel.TestResult{RunID: "r1", Test: kernel.TestBootstrap, PValue: 0.3, Lambda: 1}}
	srv := quietServer(tester)

	w := post(t, srv, TestPayload{
		Y:       []float64{1, 2, 3},
		Kernels: [][][]float64{{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
		KInt:    [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Test:    "boot",
		B:       200,
		RunID:   " run-7 ",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res kernel.TestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 0.3, res.PValue)
	assert.Equal(t, kernel.TestBootstrap, res.Test)

	got := tester.got
	assert.Equal(t, "boot", got.Test)
	assert.Equal(t, 200, got.B)
	assert.Equal(t, core.RunID("run-7"), got.RunID)
	assert.Equal(t, kernel.ModeLOOCV, got.Mode)
	assert.Equal(t, kernel.StrategyAverage, got.Strategy)
	assert.Equal(t, DefaultLambdaGrid(), got.LambdaGrid)
	require.Len(t, got.KList, 1)
	r, c := got.X.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
}

func TestPostBuildsKernelsFromGroups(t *testing.T) {
	tester := &fakeTester{result: &kernel.TestResult{}}
	srv := quietServer(tester)

	w := post(t, srv, TestPayload{
		Y:      []float64{1, 2, 3, 4},
		X:      [][]float64{{0.1}, {0.2}, {0.3}, {0.4}},
		Z:      [][]float64{{0, 1}, {1, 0}, {2, 1}, {3, 0}},
		Groups: [][]int{{0}, {1}},
		Kernel: "linear",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := tester.got
	require.Len(t, got.KList, 2)
	// linear kernels: K1[1][2] = 1·2, K2[1][2] = 0·1, product = 0
	assert.Equal(t, 2.0, got.KList[0].At(1, 2))
	assert.Equal(t, 0.0, got.KInt.At(1, 2))
	assert.Equal(t, 4.0, got.KInt.At(2, 2))
}

func TestPostErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    interface{}
		err     error
		status  int
		errCode string
	}{
		{"malformed body", "not json", nil, http.StatusBadRequest, errors.CodeInvalidInput},
		{"missing kernels", TestPayload{Y: []float64{1, 2}}, nil, http.StatusBadRequest, errors.CodeInvalidInput},
		{"bad kernel shape", TestPayload{Y: []float64{1, 2}, Kernels: [][][]float64{{{1}}}, KInt: [][]float64{{1, 0}, {0, 1}}}, nil, http.StatusBadRequest, errors.CodeDimensionMismatch},
		{"blank run id", TestPayload{Y: []float64{1}, Kernels: [][][]float64{{{1}}}, KInt: [][]float64{{1}}, RunID: "   "}, nil, http.StatusBadRequest, errors.CodeInvalidInput},
		{"unsupported test", TestPayload{Y: []float64{1}, Kernels: [][][]float64{{{1}}}, KInt: [][]float64{{1}}}, errors.UnsupportedTest("perm"), http.StatusBadRequest, errors.CodeUnsupportedTest},
		{"numerical failure", TestPayload{Y: []float64{1}, Kernels: [][][]float64{{{1}}}, KInt: [][]float64{{1}}}, errors.NumericalInstability("singular"), http.StatusUnprocessableEntity, errors.CodeNumericalInstability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := quietServer(&fakeTester{err: tt.err})
			w := post(t, srv, tt.body)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.errCode, body["code"])
		})
	}
}

func TestPostRejectsExcessiveReplicates(t *testing.T) {
	cfg := config.Default()
	cfg.Testing.MaxReplicates = 10000
	cfg.Log.Level = "ERROR"
	c, err := container.New(cfg)
	require.NoError(t, err)
	srv := quietServer(c.Service)

	eye := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	w := post(t, srv, TestPayload{
		Y:       []float64{1, 2, 3},
		Kernels: [][][]float64{eye},
		KInt:    eye,
		Test:    "boot",
		B:       1000000000,
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.CodeInvalidInput, body["code"])
	assert.Contains(t, body["error"], "exceed the limit of 10000")
}
