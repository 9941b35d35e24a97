// Package kkt factorizes and solves the reduced KKT saddle-point systems
// produced by the Newton solver:
//
//	| H  A' | |dx|   |rx|
//	| A  0  | |dy| = |ry|
//
// with an extra bound-multiplier block handled through the current active
// values, so that dz = (rz - Z*dx)/X. Dense Hessians are factorized in full;
// Diagonal Hessians are eliminated through the H diagonal and only the
// m-by-m Schur complement is factorized.
package kkt

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
)

// Matrix describes the coefficient matrix of a KKT system for the current
// free partition: the Hessian block H, the constraint block A, and the
// current active primal and bound-multiplier values.
type Matrix struct {
	H optimization.Hessian
	A *mat.Dense
	X *mat.VecDense
	Z *mat.VecDense
}

// Vector is the right-hand side bundle of a KKT system.
type Vector struct {
	Rx *mat.VecDense
	Ry *mat.VecDense
	Rz *mat.VecDense
}

// Solution is the solution bundle of a KKT system.
type Solution struct {
	Dx *mat.VecDense
	Dy *mat.VecDense
	Dz *mat.VecDense
}

// Result carries the elapsed times of the last Decompose and Solve calls,
// in seconds, so the caller can attribute total solve time between
// algorithmic overhead and linear-algebra cost.
type Result struct {
	TimeDecompose float64
	TimeSolve     float64
}

// Solver factorizes KKT matrices and solves the associated systems. A
// Decompose call fixes the factorization used by subsequent Solve calls.
type Solver struct {
	options optimization.KKTOptions
	logger  *zap.Logger
	pool    *Pool

	mode optimization.HessianMode
	n    int
	m    int

	// fullspace path
	lu *mat.LU

	// rangespace path
	a     *mat.Dense
	invH  *mat.VecDense
	chol  *mat.Cholesky
	sluFB *mat.LU
	useLU bool

	// diagonal shift z/x folded into H, and the x values for back
	// substitution of dz
	x *mat.VecDense
	z *mat.VecDense

	result Result
}

// NewSolver creates a KKT solver with default options.
func NewSolver() *Solver {
	logger, _ := zap.NewDevelopment()
	return &Solver{
		logger: logger.Named("kkt"),
		pool:   NewPool(),
	}
}

// WithLogger routes the solver's diagnostics through the given logger.
func (s *Solver) WithLogger(logger *zap.Logger) *Solver {
	s.logger = logger.Named("kkt")
	return s
}

// SetOptions sets the factorization options for subsequent Decompose calls.
func (s *Solver) SetOptions(options optimization.KKTOptions) {
	s.options = options
}

// Result returns the timings of the last Decompose and Solve calls.
func (s *Solver) Result() Result {
	return s.result
}

// Clone returns an independent copy of the solver configuration. The
// factorization state is not carried over; the clone must Decompose before
// it can Solve.
func (s *Solver) Clone() *Solver {
	return &Solver{
		options: s.options,
		logger:  s.logger,
		pool:    NewPool(),
	}
}

// Decompose factorizes the KKT matrix for the given partition. It must be
// called before Solve. A Hessian tagged neither Dense nor Diagonal is a
// configuration defect and returns ErrUnsupportedHessian.
func (s *Solver) Decompose(lhs Matrix) error {
	begin := time.Now()

	m, n := lhs.A.Dims()
	s.m, s.n = m, n
	s.a = lhs.A
	s.x = lhs.X
	s.z = lhs.Z
	s.mode = lhs.H.Mode

	var err error
	switch method := s.resolveMethod(lhs.H.Mode); method {
	case optimization.KKTFullspace:
		err = s.decomposeFullspace(lhs)
	case optimization.KKTRangespace:
		err = s.decomposeRangespace(lhs)
	default:
		err = optimization.WrapErrorf(optimization.ErrUnsupportedHessian,
			"cannot decompose KKT matrix with Hessian mode %d", int(lhs.H.Mode))
	}

	s.result.TimeDecompose = time.Since(begin).Seconds()
	return err
}

func (s *Solver) resolveMethod(mode optimization.HessianMode) optimization.KKTMethod {
	if s.options.Method != optimization.KKTAutomatic {
		return s.options.Method
	}
	switch mode {
	case optimization.HessianDense:
		return optimization.KKTFullspace
	case optimization.HessianDiagonal:
		return optimization.KKTRangespace
	default:
		return optimization.KKTAutomatic // rejected by Decompose
	}
}

// decomposeFullspace assembles the (n+m)-by-(n+m) saddle matrix with the
// bound term Z/X folded into the Hessian diagonal and factorizes it with
// partial-pivoting LU.
func (s *Solver) decomposeFullspace(lhs Matrix) error {
	n, m := s.n, s.m
	k := mat.NewDense(n+m, n+m, nil)

	switch lhs.H.Mode {
	case optimization.HessianDense:
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				k.Set(i, j, lhs.H.Dense.At(i, j))
			}
		}
	case optimization.HessianDiagonal:
		for i := 0; i < n; i++ {
			k.Set(i, i, lhs.H.Diagonal.AtVec(i))
		}
	default:
		return optimization.WrapErrorf(optimization.ErrUnsupportedHessian,
			"cannot decompose KKT matrix with Hessian mode %d", int(lhs.H.Mode))
	}

	for i := 0; i < n; i++ {
		k.Set(i, i, k.At(i, i)+safeDiv(lhs.Z.AtVec(i), lhs.X.AtVec(i)))
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			k.Set(n+i, j, lhs.A.At(i, j))
			k.Set(j, n+i, lhs.A.At(i, j))
		}
	}

	s.lu = &mat.LU{}
	s.lu.Factorize(k)
	return nil
}

// decomposeRangespace eliminates the primal block through the diagonal
// Hessian and factorizes the m-by-m Schur complement A*inv(H)*A'. Cholesky
// is attempted first; an indefinite complement falls back to LU.
func (s *Solver) decomposeRangespace(lhs Matrix) error {
	if lhs.H.Mode != optimization.HessianDiagonal {
		return optimization.WrapError(optimization.ErrUnsupportedHessian,
			"rangespace elimination requires a Diagonal Hessian")
	}
	n, m := s.n, s.m

	s.invH = mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		h := lhs.H.Diagonal.AtVec(i) + safeDiv(lhs.Z.AtVec(i), lhs.X.AtVec(i))
		s.invH.SetVec(i, 1.0/h)
	}

	schur := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			var sum float64
			for p := 0; p < n; p++ {
				sum += lhs.A.At(i, p) * s.invH.AtVec(p) * lhs.A.At(j, p)
			}
			schur.SetSym(i, j, sum)
		}
	}

	s.chol = &mat.Cholesky{}
	if s.chol.Factorize(schur) {
		s.useLU = false
		return nil
	}

	s.logger.Debug("Schur complement is not positive definite, falling back to LU",
		zap.Int("m", m),
	)
	dense := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			dense.Set(i, j, schur.At(i, j))
		}
	}
	s.sluFB = &mat.LU{}
	s.sluFB.Factorize(dense)
	s.useLU = true
	return nil
}

// Solve solves the decomposed KKT system for the given right-hand side.
func (s *Solver) Solve(rhs Vector, sol *Solution) error {
	begin := time.Now()

	var err error
	switch s.resolveMethod(s.mode) {
	case optimization.KKTFullspace:
		err = s.solveFullspace(rhs, sol)
	case optimization.KKTRangespace:
		err = s.solveRangespace(rhs, sol)
	default:
		err = optimization.WrapError(optimization.ErrUnsupportedHessian,
			"KKT matrix has not been decomposed")
	}
	if err == nil {
		s.backSubstituteDz(rhs, sol)
	}

	s.result.TimeSolve = time.Since(begin).Seconds()
	return err
}

func (s *Solver) solveFullspace(rhs Vector, sol *Solution) error {
	n, m := s.n, s.m
	b := mat.NewVecDense(n+m, nil)
	for i := 0; i < n; i++ {
		b.SetVec(i, rhs.Rx.AtVec(i)+safeDiv(rhs.Rz.AtVec(i), s.x.AtVec(i)))
	}
	for i := 0; i < m; i++ {
		b.SetVec(n+i, rhs.Ry.AtVec(i))
	}

	u := mat.NewVecDense(n+m, nil)
	if err := s.lu.SolveVecTo(u, false, b); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			// A singular system is a numerical failure, not a hard error:
			// hand back a non-finite direction for the caller to detect.
			s.logger.Debug("LU solve of the saddle system failed", zap.Error(err))
			fillNaN(u)
		}
	}

	sol.Dx = mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sol.Dx.SetVec(i, u.AtVec(i))
	}
	sol.Dy = mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		sol.Dy.SetVec(i, u.AtVec(n+i))
	}
	return nil
}

func (s *Solver) solveRangespace(rhs Vector, sol *Solution) error {
	n, m := s.n, s.m

	// rx' = rx + rz/x, t = inv(H)*rx'
	t := s.pool.GetVecDense(n)
	defer s.pool.PutVecDense(t)
	for i := 0; i < n; i++ {
		t.SetVec(i, s.invH.AtVec(i)*(rhs.Rx.AtVec(i)+safeDiv(rhs.Rz.AtVec(i), s.x.AtVec(i))))
	}

	// Schur rhs: A*inv(H)*rx' - ry
	g := mat.NewVecDense(m, nil)
	g.MulVec(s.a, t)
	g.SubVec(g, rhs.Ry)

	sol.Dy = mat.NewVecDense(m, nil)
	var err error
	if s.useLU {
		err = s.sluFB.SolveVecTo(sol.Dy, false, g)
	} else {
		err = s.chol.SolveVecTo(sol.Dy, g)
	}
	if err != nil {
		if _, ok := err.(mat.Condition); !ok {
			s.logger.Debug("Schur complement solve failed", zap.Error(err))
			fillNaN(sol.Dy)
		}
	}

	// dx = inv(H)*(rx' - A'*dy)
	at := mat.NewVecDense(n, nil)
	at.MulVec(s.a.T(), sol.Dy)
	sol.Dx = mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		rxp := rhs.Rx.AtVec(i) + safeDiv(rhs.Rz.AtVec(i), s.x.AtVec(i))
		sol.Dx.SetVec(i, s.invH.AtVec(i)*(rxp-at.AtVec(i)))
	}
	return nil
}

// backSubstituteDz recovers the bound-multiplier step dz = (rz - Z*dx)/X.
// When the active values are zero, as in the Newton solver's free set, the
// step degenerates to rz.
func (s *Solver) backSubstituteDz(rhs Vector, sol *Solution) {
	n := s.n
	if n == 0 {
		sol.Dz = &mat.VecDense{}
		return
	}
	sol.Dz = mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		num := rhs.Rz.AtVec(i) - s.z.AtVec(i)*sol.Dx.AtVec(i)
		sol.Dz.SetVec(i, safeDiv(num, s.x.AtVec(i)))
	}
}

// safeDiv returns a/b, treating 0/anything (including 0/0) as 0. The bound
// term is identically zero whenever the multiplier is zero, regardless of
// how close x sits to its bound.
func safeDiv(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return a / b
}

func fillNaN(v *mat.VecDense) {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, math.NaN())
	}
}
