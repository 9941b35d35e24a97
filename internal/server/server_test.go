package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/ACTON/internal/config"
	"github.com/copyleftdev/ACTON/internal/logging"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "error"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	cfg.Solver.Tolerance = 1e-6
	cfg.Solver.MaxIterations = 200

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "error",
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func testRouter(t *testing.T) chi.Router {
	srv := NewServer(testConfig(t), testLogger(t))
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return r
}

func postSolve(t *testing.T, r chi.Router, req SolveRequest) (*httptest.ResponseRecorder, SolveResponse) {
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/solve", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rr, httpReq)

	var resp SolveResponse
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NotNil(t, srv, "Server should be created")
}

func TestSolveQuadraticProgram(t *testing.T) {
	r := testRouter(t)

	rr, resp := postSolve(t, r, SolveRequest{
		QDiagonal: []float64{1, 1},
		C:         []float64{0, 0},
		A:         [][]float64{{1, 1}},
		B:         []float64{1},
		L:         []float64{0, 0},
		X0:        []float64{0.3, 0.7},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Succeeded)
	require.Len(t, resp.X, 2)
	assert.InDelta(t, 0.5, resp.X[0], 1e-6)
	assert.InDelta(t, 0.5, resp.X[1], 1e-6)
	assert.Len(t, resp.Y, 1)
	assert.Len(t, resp.Z, 2)
}

func TestSolveDenseQuadraticProgram(t *testing.T) {
	r := testRouter(t)

	rr, resp := postSolve(t, r, SolveRequest{
		Q:  [][]float64{{1, 0}, {0, 1}},
		C:  []float64{-2, 0},
		A:  [][]float64{{1, 1}},
		B:  []float64{1},
		L:  []float64{0, 0},
		X0: []float64{0.5, 0.5},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Succeeded)
	assert.InDelta(t, 1.0, resp.X[0], 1e-6)
	assert.InDelta(t, 0.0, resp.X[1], 1e-6)
}

func TestSolveLinearProgramWithSimplex(t *testing.T) {
	r := testRouter(t)

	rr, resp := postSolve(t, r, SolveRequest{
		Solver: "simplex",
		C:      []float64{1, 2},
		A:      [][]float64{{1, 1}},
		B:      []float64{1},
		L:      []float64{0, 0},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Succeeded)
	assert.InDelta(t, 1.0, resp.X[0], 1e-9)
	assert.InDelta(t, 0.0, resp.X[1], 1e-9)
}

func TestSolveSeedsFeasiblePoint(t *testing.T) {
	r := testRouter(t)

	rr, resp := postSolve(t, r, SolveRequest{
		QDiagonal:    []float64{1, 1},
		C:            []float64{0, 0},
		A:            [][]float64{{1, 1}},
		B:            []float64{1},
		L:            []float64{0, 0},
		SeedFeasible: true,
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Succeeded)
	assert.InDelta(t, 0.5, resp.X[0], 1e-6)
	assert.InDelta(t, 0.5, resp.X[1], 1e-6)
}

func TestSolveInfeasibleProblem(t *testing.T) {
	r := testRouter(t)

	rr, _ := postSolve(t, r, SolveRequest{
		QDiagonal:    []float64{1, 1},
		C:            []float64{0, 0},
		A:            [][]float64{{1, 1}},
		B:            []float64{1},
		L:            []float64{2, 0},
		SeedFeasible: true,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSolveRejectsBadRequests(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name string
		req  SolveRequest
	}{
		{"missing cost vector", SolveRequest{
			A: [][]float64{{1, 1}},
			B: []float64{1},
			L: []float64{0, 0},
		}},
		{"mismatched constraint rows", SolveRequest{
			C: []float64{1, 2},
			A: [][]float64{{1, 1}},
			B: []float64{1, 2},
			L: []float64{0, 0},
		}},
		{"unknown solver", SolveRequest{
			Solver: "gradient",
			C:      []float64{1, 2},
			A:      [][]float64{{1, 1}},
			B:      []float64{1},
			L:      []float64{0, 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := postSolve(t, r, tt.req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSolveRejectsInvalidJSON(t *testing.T) {
	r := testRouter(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/solve", bytes.NewReader([]byte("{not json")))
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
