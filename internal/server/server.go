package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/config"
	"github.com/copyleftdev/ACTON/internal/logging"
	"github.com/copyleftdev/ACTON/internal/optimization"
	"github.com/copyleftdev/ACTON/internal/optimization/actnewton"
	"github.com/copyleftdev/ACTON/internal/optimization/simplex"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

var (
	solveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acton_solve_total",
		Help: "Number of solve requests by solver variant and outcome.",
	}, []string{"solver", "outcome"})

	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "acton_solve_duration_seconds",
		Help:    "Wall time of solve calls.",
		Buckets: prometheus.ExponentialBuckets(1e-5, 10, 8),
	})

	linearSystemsDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "acton_solve_linear_systems_seconds",
		Help:    "Time spent inside KKT decompose and solve calls.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
	})
)

// Server implements the HTTP server for the optimization service. Each solve
// request builds a fresh solver instance, so requests are independent and
// may run concurrently.
type Server struct {
	cfg    *config.Config
	logger Logger

	// solverLogger adapts the service logger for the solver packages, which
	// log through zap.
	solverLogger *zap.Logger
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:          cfg,
		logger:       logger,
		solverLogger: logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "solver"})),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/solve", s.handleSolve)
	})
}

// SolveRequest is a quadratic program 0.5*x'Qx + c'x subject to A*x = b and
// l <= x (<= u). Q may be given dense (row major) or as a diagonal; omitting
// both means a pure linear objective.
type SolveRequest struct {
	Solver string `json:"solver,omitempty"` // "actnewton" (default) or "simplex"

	Q         [][]float64 `json:"q,omitempty"`
	QDiagonal []float64   `json:"q_diagonal,omitempty"`
	C         []float64   `json:"c"`
	A         [][]float64 `json:"a"`
	B         []float64   `json:"b"`
	L         []float64   `json:"l"`
	U         []float64   `json:"u,omitempty"`
	X0        []float64   `json:"x0,omitempty"`

	Tolerance     float64 `json:"tolerance,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`

	// SeedFeasible runs the simplex phase-1 search first and hands its
	// vertex to the Newton solver as the starting point.
	SeedFeasible bool `json:"seed_feasible,omitempty"`
}

// SolveResponse reports the solver result and final state.
type SolveResponse struct {
	Succeeded         bool      `json:"succeeded"`
	Iterations        int       `json:"iterations"`
	Error             float64   `json:"error"`
	Time              float64   `json:"time"`
	TimeLinearSystems float64   `json:"time_linear_systems"`
	X                 []float64 `json:"x"`
	Y                 []float64 `json:"y"`
	Z                 []float64 `json:"z"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	problem, err := s.buildProblem(&req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	options := s.buildOptions(&req)
	state := optimization.NewState()
	if len(req.X0) > 0 {
		state.X = mat.NewVecDense(len(req.X0), append([]float64(nil), req.X0...))
	}

	variant := req.Solver
	if variant == "" {
		variant = "actnewton"
	}

	var solver optimization.Solver
	switch variant {
	case "actnewton":
		solver = actnewton.New().WithLogger(s.solverLogger)
	case "simplex":
		solver = simplex.New().WithLogger(s.solverLogger)
	default:
		s.respondError(w, http.StatusBadRequest, "unknown solver: "+variant)
		return
	}

	if req.SeedFeasible && variant == "actnewton" {
		feas, ferr := simplex.New().WithLogger(s.solverLogger).Feasible(problem, state, options)
		if ferr != nil {
			s.respondSolveError(w, variant, ferr)
			return
		}
		if !feas.Succeeded {
			solveTotal.WithLabelValues(variant, "infeasible").Inc()
			s.respondError(w, http.StatusUnprocessableEntity, "problem is infeasible within the bounds")
			return
		}
	}

	result, err := solver.Solve(problem, state, options)
	if err != nil {
		s.respondSolveError(w, variant, err)
		return
	}

	outcome := "failed"
	if result.Succeeded {
		outcome = "succeeded"
	}
	solveTotal.WithLabelValues(variant, outcome).Inc()
	solveDuration.Observe(result.Time)
	linearSystemsDuration.Observe(result.TimeLinearSystems)

	s.logger.Info("Solve completed", map[string]interface{}{
		"solver":     variant,
		"succeeded":  result.Succeeded,
		"iterations": result.Iterations,
		"error":      result.Error,
	})

	resp := SolveResponse{
		Succeeded:         result.Succeeded,
		Iterations:        result.Iterations,
		Error:             result.Error,
		Time:              result.Time,
		TimeLinearSystems: result.TimeLinearSystems,
		X:                 vecSlice(state.X),
		Y:                 vecSlice(state.Y),
		Z:                 vecSlice(state.Z),
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) buildProblem(req *SolveRequest) (*optimization.Problem, error) {
	n := len(req.C)
	if n == 0 {
		return nil, errors.New("cost vector c is required")
	}
	m := len(req.A)
	if m == 0 || len(req.B) != m {
		return nil, errors.New("constraint matrix a and right-hand side b must have matching row counts")
	}

	a := mat.NewDense(m, n, nil)
	for i, row := range req.A {
		if len(row) != n {
			return nil, errors.New("constraint matrix a has inconsistent row lengths")
		}
		for j, v := range row {
			a.Set(i, j, v)
		}
	}

	if len(req.L) != n {
		return nil, errors.New("lower bound vector l must have the same length as c")
	}

	c := mat.NewVecDense(n, append([]float64(nil), req.C...))

	var hessian optimization.Hessian
	switch {
	case len(req.Q) > 0:
		q := mat.NewSymDense(n, nil)
		if len(req.Q) != n {
			return nil, errors.New("q must be n-by-n")
		}
		for i, row := range req.Q {
			if len(row) != n {
				return nil, errors.New("q must be n-by-n")
			}
			for j := i; j < n; j++ {
				q.SetSym(i, j, row[j])
			}
		}
		hessian = optimization.Hessian{Mode: optimization.HessianDense, Dense: q}
	case len(req.QDiagonal) > 0:
		if len(req.QDiagonal) != n {
			return nil, errors.New("q_diagonal must have the same length as c")
		}
		hessian = optimization.Hessian{
			Mode:     optimization.HessianDiagonal,
			Diagonal: mat.NewVecDense(n, append([]float64(nil), req.QDiagonal...)),
		}
	default:
		// Pure linear objective: a zero diagonal Hessian.
		hessian = optimization.Hessian{
			Mode:     optimization.HessianDiagonal,
			Diagonal: mat.NewVecDense(n, nil),
		}
	}

	problem := &optimization.Problem{
		Objective: optimization.QuadraticObjective(hessian, c),
		A:         a,
		B:         mat.NewVecDense(m, append([]float64(nil), req.B...)),
		L:         mat.NewVecDense(n, append([]float64(nil), req.L...)),
	}
	if len(req.U) > 0 {
		if len(req.U) != n {
			return nil, errors.New("upper bound vector u must have the same length as c")
		}
		problem.U = mat.NewVecDense(n, append([]float64(nil), req.U...))
	}
	return problem, nil
}

func (s *Server) buildOptions(req *SolveRequest) optimization.Options {
	options := optimization.DefaultOptions()
	options.Tolerance = s.cfg.Solver.Tolerance
	options.MaxIterations = s.cfg.Solver.MaxIterations
	options.Output.Active = s.cfg.Solver.Output
	if req.Tolerance > 0 {
		options.Tolerance = req.Tolerance
	}
	if req.MaxIterations > 0 {
		options.MaxIterations = req.MaxIterations
	}
	return options
}

// respondSolveError maps structural solver errors (dimension mismatch,
// unsupported Hessian mode) to 400 and everything else to 500.
func (s *Server) respondSolveError(w http.ResponseWriter, variant string, err error) {
	solveTotal.WithLabelValues(variant, "error").Inc()
	status := http.StatusInternalServerError
	if errors.Is(err, optimization.ErrDimensionMismatch) || errors.Is(err, optimization.ErrUnsupportedHessian) {
		status = http.StatusBadRequest
	}
	s.logger.Error("Solve failed", map[string]interface{}{
		"solver": variant,
		"error":  err.Error(),
	})
	s.respondError(w, status, err.Error())
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func vecSlice(v *mat.VecDense) []float64 {
	if v == nil || v.Len() == 0 {
		return []float64{}
	}
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
