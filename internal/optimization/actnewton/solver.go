// Package actnewton implements an active-set primal-Newton solver for bound
// and equality constrained problems. Variables sit in one of two disjoint
// index sets: F, the free variables strictly above their lower bound, and L,
// the variables pinned exactly at their lower bound. Each iteration solves a
// Newton system reduced to the free set, steps with a fraction-to-boundary
// line search, and exchanges at most one variable between the sets.
package actnewton

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
	"github.com/copyleftdev/ACTON/internal/optimization/kkt"
	"github.com/copyleftdev/ACTON/internal/optimization/output"
)

// Solver is the active-set primal-Newton solver. It satisfies
// optimization.Solver. A Solver must not be used from multiple goroutines
// concurrently; Clone produces an independent copy.
type Solver struct {
	kkt    *kkt.Solver
	logger *zap.Logger

	// Working state, scoped to a single Solve call.
	F, L []int
	gF   *mat.VecDense
	gL   *mat.VecDense
	xF   *mat.VecDense
	zF   *mat.VecDense
	zL   *mat.VecDense
	AF   *mat.Dense
	AL   *mat.Dense
	HF   optimization.Hessian

	rhs kkt.Vector
	sol kkt.Solution

	outputter *output.Outputter
}

// New creates an active-set Newton solver.
func New() *Solver {
	logger, _ := zap.NewDevelopment()
	return &Solver{
		kkt:       kkt.NewSolver(),
		logger:    logger.Named("actnewton"),
		outputter: output.New(),
	}
}

// WithLogger routes the solver's diagnostics through the given logger.
func (s *Solver) WithLogger(logger *zap.Logger) *Solver {
	s.logger = logger.Named("actnewton")
	s.kkt.WithLogger(logger)
	return s
}

// Clone returns an independent deep copy of the solver.
func (s *Solver) Clone() optimization.Solver {
	out := New()
	out.logger = s.logger
	out.kkt = s.kkt.Clone()
	out.F = append([]int(nil), s.F...)
	out.L = append([]int(nil), s.L...)
	return out
}

// Solve minimizes the problem objective subject to A*x = b and x >= l,
// starting from and finishing into state. When options.Regularization is
// positive the objective seen by the algorithm is augmented with the
// Tikhonov penalty 0.5*rho*||D*x||^2, with D derived from the clamped
// starting point; with rho = 0 the problem is passed through untouched.
func (s *Solver) Solve(problem *optimization.Problem, state *optimization.State, options optimization.Options) (optimization.Result, error) {
	if err := problem.Validate(); err != nil {
		return optimization.Result{}, err
	}

	rho := options.Regularization
	if rho == 0 {
		return s.solve(problem, state, options)
	}

	_, n := problem.A.Dims()
	d2 := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		xi := problem.L.AtVec(i)
		if state.X.Len() == n && state.X.AtVec(i) > xi {
			xi = state.X.AtVec(i)
		}
		d2.SetVec(i, 1.0/xi) // D = 1/sqrt(x0), so D*D = 1/x0
	}

	inner := problem.Objective
	regularized := *problem
	regularized.Objective = func(x *mat.VecDense) optimization.ObjectiveState {
		f := inner(x)
		for i := 0; i < n; i++ {
			f.Val += 0.5 * rho * d2.AtVec(i) * x.AtVec(i) * x.AtVec(i)
		}
		grad := mat.VecDenseCopyOf(f.Grad)
		for i := 0; i < n; i++ {
			grad.SetVec(i, grad.AtVec(i)+rho*d2.AtVec(i)*x.AtVec(i))
		}
		f.Grad = grad
		h := f.Hessian.Clone()
		switch h.Mode {
		case optimization.HessianDiagonal:
			for i := 0; i < n; i++ {
				h.Diagonal.SetVec(i, h.Diagonal.AtVec(i)+rho*d2.AtVec(i))
			}
		case optimization.HessianDense:
			for i := 0; i < n; i++ {
				h.Dense.SetSym(i, i, h.Dense.At(i, i)+rho*d2.AtVec(i))
			}
		}
		f.Hessian = h
		return f
	}
	return s.solve(&regularized, state, options)
}

func (s *Solver) solve(problem *optimization.Problem, state *optimization.State, options optimization.Options) (optimization.Result, error) {
	begin := time.Now()

	s.outputter = output.New()
	s.outputter.SetOptions(options.Output)
	s.kkt.SetOptions(options.KKT)

	var result optimization.Result

	m, n := problem.A.Dims()
	a := problem.A
	b := problem.B
	l := problem.L

	// Ensure x has dimension n and does not violate the bounds.
	x := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		xi := l.AtVec(i)
		if state.X.Len() == n && state.X.AtVec(i) > xi {
			xi = state.X.AtVec(i)
		}
		x.SetVec(i, xi)
	}
	state.X = x

	if state.Y.Len() != m {
		state.Y = mat.NewVecDense(m, nil)
	}
	if state.Z.Len() != n {
		state.Z = mat.NewVecDense(n, nil)
	}
	y := state.Y
	z := state.Z

	// Partition the variables by whether they sit exactly on their bound.
	s.F = s.F[:0]
	s.L = s.L[:0]
	for i := 0; i < n; i++ {
		if x.AtVec(i) == l.AtVec(i) {
			s.L = append(s.L, i)
		} else {
			s.F = append(s.F, i)
		}
	}
	s.AF = optimization.Cols(a, s.F)
	s.AL = optimization.Cols(a, s.L)
	s.xF = optimization.Rows(x, s.F)

	var (
		h      *mat.VecDense
		alpha  float64
		errorf float64
		errorh float64
		errNow float64
	)

	// The dual least-squares estimate runs at most once per invocation,
	// and only when y is exactly zero on entry.
	dualInitPending := mat.Norm(y, 2) == 0

	updateState := func() error {
		optimization.SetRows(x, s.F, s.xF)
		optimization.SetRows(x, s.L, optimization.Rows(l, s.L))

		state.F = problem.Objective(x)
		h = optimization.KahanMulVec(a, x)
		h.SubVec(h, b)

		if dualInitPending {
			dualInitPending = false
			s.estimateDuals(state.F.Grad, y)
		}

		if len(s.L) > 0 {
			s.gL = optimization.Rows(state.F.Grad, s.L)
			s.zL = mat.VecDenseCopyOf(s.gL)
			alty := mat.NewVecDense(len(s.L), nil)
			alty.MulVec(s.AL.T(), y)
			s.zL.SubVec(s.zL, alty)
			optimization.SetRows(z, s.L, s.zL)

			// Release the most negative bound multiplier, one variable per
			// iteration, so the exchange stays monotone and cycle free.
			iminz := 0
			minz := s.zL.AtVec(0)
			for i := 1; i < s.zL.Len(); i++ {
				if s.zL.AtVec(i) < minz {
					minz = s.zL.AtVec(i)
					iminz = i
				}
			}
			if minz < 0 {
				released := s.L[iminz]
				s.F = append(s.F, released)
				s.L = optimization.EraseIndex(s.L, iminz)
				s.xF = optimization.AppendVecEntry(s.xF, l.AtVec(released))
				s.AF = optimization.Cols(a, s.F)
				s.AL = optimization.Cols(a, s.L)
				s.logger.Debug("Released variable from its lower bound",
					zap.Int("variable", released),
					zap.Float64("multiplier", minz),
				)
			}
		}

		s.gF = optimization.Rows(state.F.Grad, s.F)

		s.HF.Mode = state.F.Hessian.Mode
		switch state.F.Hessian.Mode {
		case optimization.HessianDense:
			s.HF.Dense = optimization.SymSubmatrix(state.F.Hessian.Dense, s.F)
			s.HF.Diagonal = nil
		case optimization.HessianDiagonal:
			s.HF.Diagonal = optimization.Rows(state.F.Hessian.Diagonal, s.F)
			s.HF.Dense = nil
		default:
			return optimization.WrapErrorf(optimization.ErrUnsupportedHessian,
				"could not solve the optimization problem with Hessian mode %d", int(state.F.Hessian.Mode)).
				WithComponent("actnewton")
		}
		return nil
	}

	updateStateFailed := func() bool {
		return math.IsNaN(state.F.Val) || math.IsInf(state.F.Val, 0) ||
			!optimization.AllFinite(state.F.Grad)
	}

	computeNewtonStep := func() error {
		s.zF = zeroVec(len(s.F))
		if err := s.kkt.Decompose(kkt.Matrix{H: s.HF, A: s.AF, X: s.xF, Z: s.zF}); err != nil {
			return err
		}

		s.rhs.Rx = mat.NewVecDense(len(s.F), nil)
		aty := mat.NewVecDense(len(s.F), nil)
		aty.MulVec(s.AF.T(), y)
		s.rhs.Rx.SubVec(aty, s.gF)
		s.rhs.Ry = mat.NewVecDense(m, nil)
		s.rhs.Ry.ScaleVec(-1, h)
		s.rhs.Rz = zeroVec(len(s.F))

		if err := s.kkt.Solve(s.rhs, &s.sol); err != nil {
			return err
		}

		result.TimeLinearSystems += s.kkt.Result().TimeSolve
		result.TimeLinearSystems += s.kkt.Result().TimeDecompose
		return nil
	}

	computeNewtonStepFailed := func() bool {
		return !optimization.AllFinite(s.sol.Dx) ||
			!optimization.AllFinite(s.sol.Dy) ||
			!optimization.AllFinite(s.sol.Dz)
	}

	updateIterates := func() {
		lF := optimization.Rows(l, s.F)
		p := mat.VecDenseCopyOf(s.xF)
		p.SubVec(p, lF)

		var ilimiting int
		alpha, ilimiting = optimization.FractionToBoundary(p, s.sol.Dx, 1.0)

		s.xF.AddScaledVec(s.xF, alpha, s.sol.Dx)
		// The saddle system carries +A' in its dual block, so the multiplier
		// step enters with opposite sign.
		y.AddScaledVec(y, -alpha, s.sol.Dy)

		optimization.SetRows(x, s.F, s.xF)

		if ilimiting < len(s.F) {
			pinned := s.F[ilimiting]
			s.L = append(s.L, pinned)
			s.F = optimization.EraseIndex(s.F, ilimiting)
			s.xF = optimization.EraseVecEntry(s.xF, ilimiting)
			s.AF = optimization.Cols(a, s.F)
			s.AL = optimization.Cols(a, s.L)
			s.logger.Debug("Pinned variable at its lower bound",
				zap.Int("variable", pinned),
				zap.Float64("alpha", alpha),
			)
		}
	}

	updateErrors := func() {
		g := mat.VecDenseCopyOf(s.gF)
		if len(s.F) > 0 {
			aty := mat.NewVecDense(len(s.F), nil)
			aty.MulVec(s.AF.T(), y)
			g.SubVec(g, aty)
		}
		errorf = optimization.NormInf(g)
		errorh = optimization.NormInf(h)
		errNow = math.Max(errorf, errorh)
		result.Error = errNow
	}

	converged := func() bool {
		if errNow < options.Tolerance {
			result.Succeeded = true
			return true
		}
		return false
	}

	if err := updateState(); err != nil {
		result.Time = time.Since(begin).Seconds()
		return result, err
	}
	s.outputHeader(options, &result, x, y, z, state, h)

	for {
		result.Iterations++
		if result.Iterations > options.MaxIterations {
			break
		}
		if updateStateFailed() {
			break
		}
		if len(s.F) == 0 {
			// Every variable is pinned and dual feasible; nothing remains
			// for the Newton system to determine.
			updateErrors()
			if !converged() {
				result.Succeeded = false
			}
			break
		}
		if err := computeNewtonStep(); err != nil {
			result.Time = time.Since(begin).Seconds()
			return result, err
		}
		if computeNewtonStepFailed() {
			break
		}
		updateIterates()
		if err := updateState(); err != nil {
			result.Time = time.Since(begin).Seconds()
			return result, err
		}
		if updateStateFailed() {
			break
		}
		updateErrors()
		s.outputState(options, &result, x, y, z, state, h, errorf, errorh, errNow, alpha)
		if converged() {
			break
		}
	}

	s.outputter.OutputHeader()

	result.Time = time.Since(begin).Seconds()
	return result, nil
}

// estimateDuals least-squares solves AF'*y = gF over the current free set.
// Skipped when the free set is smaller than the constraint count, where the
// system is underdetermined.
func (s *Solver) estimateDuals(grad, y *mat.VecDense) {
	m := y.Len()
	if len(s.F) < m || m == 0 {
		return
	}
	gF := optimization.Rows(grad, s.F)
	aft := mat.NewDense(len(s.F), m, nil)
	aft.Copy(s.AF.T())
	var qr mat.QR
	qr.Factorize(aft)
	if err := qr.SolveVecTo(y, false, gF); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			y.Zero()
		}
	}
}

func (s *Solver) outputHeader(options optimization.Options, result *optimization.Result, x, y, z *mat.VecDense, state *optimization.State, h *mat.VecDense) {
	if !options.Output.Active {
		return
	}
	o := s.outputter
	o.AddEntry("iter")
	o.AddEntries(prefixOr(options.Output.XPrefix, "x"), x.Len(), options.Output.XNames)
	o.AddEntries(prefixOr(options.Output.YPrefix, "y"), y.Len(), options.Output.YNames)
	o.AddEntries(prefixOr(options.Output.ZPrefix, "z"), z.Len(), options.Output.ZNames)
	o.AddEntry("f(x)")
	o.AddEntry("h(x)")
	o.AddEntry("errorf")
	o.AddEntry("errorh")
	o.AddEntry("error")
	o.AddEntry("alpha")

	o.OutputHeader()
	o.AddValueInt(result.Iterations)
	o.AddValues(x)
	o.AddValues(y)
	o.AddValues(z)
	o.AddValue(state.F.Val)
	o.AddValue(optimization.NormInf(h))
	o.AddValueStr("---")
	o.AddValueStr("---")
	o.AddValueStr("---")
	o.AddValueStr("---")
	o.OutputState()
}

func (s *Solver) outputState(options optimization.Options, result *optimization.Result, x, y, z *mat.VecDense, state *optimization.State, h *mat.VecDense, errorf, errorh, err, alpha float64) {
	if !options.Output.Active {
		return
	}
	o := s.outputter
	o.AddValueInt(result.Iterations)
	o.AddValues(x)
	o.AddValues(y)
	o.AddValues(z)
	o.AddValue(state.F.Val)
	o.AddValue(optimization.NormInf(h))
	o.AddValue(errorf)
	o.AddValue(errorh)
	o.AddValue(err)
	o.AddValue(alpha)
	o.OutputState()
}

func prefixOr(prefix, fallback string) string {
	if prefix == "" {
		return fallback
	}
	return prefix
}

func zeroVec(n int) *mat.VecDense {
	if n == 0 {
		return &mat.VecDense{}
	}
	return mat.NewVecDense(n, nil)
}
