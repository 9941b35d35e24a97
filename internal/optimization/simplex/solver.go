// Package simplex implements a bounded-variable revised simplex solver over
// the equality constraints A*x = b with l <= x <= u. It provides a phase-1
// search for a feasible point, used to seed the Newton solver, and a phase-2
// pivot to an optimal vertex for linear objectives.
package simplex

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
)

// pivotTol is the threshold on reduced costs and pivot elements below which
// a value is treated as zero.
const pivotTol = 1e-9

// State is the simplex partition: the basic variables determined by the
// equality system at the current vertex, the nonbasic variables fixed at
// their lower or upper bound, and the associated primal and dual values.
// Indices refer to the extended variable space, where the m artificial
// variables of phase 1 follow the n structural variables.
type State struct {
	X  []float64
	Y  []float64
	Zl []float64
	Zu []float64

	IBasic []int
	ILower []int
	IUpper []int
}

// Solver is the basis-exchange solver. It satisfies optimization.Solver.
// The basis established by Feasible is reused by a following Simplex call
// on the same instance.
type Solver struct {
	logger *zap.Logger

	state State

	// Extended problem data: n structural columns then m artificials.
	a *mat.Dense
	l []float64
	u []float64
	n int
	m int

	hasBasis bool
}

// New creates a simplex solver.
func New() *Solver {
	logger, _ := zap.NewDevelopment()
	return &Solver{logger: logger.Named("simplex")}
}

// WithLogger routes the solver's diagnostics through the given logger.
func (s *Solver) WithLogger(logger *zap.Logger) *Solver {
	s.logger = logger.Named("simplex")
	return s
}

// Clone returns an independent deep copy of the solver, including any
// established basis.
func (s *Solver) Clone() optimization.Solver {
	out := New()
	out.logger = s.logger
	out.n, out.m = s.n, s.m
	out.hasBasis = s.hasBasis
	if s.a != nil {
		out.a = mat.DenseCopyOf(s.a)
	}
	out.l = append([]float64(nil), s.l...)
	out.u = append([]float64(nil), s.u...)
	out.state = State{
		X:      append([]float64(nil), s.state.X...),
		Y:      append([]float64(nil), s.state.Y...),
		Zl:     append([]float64(nil), s.state.Zl...),
		Zu:     append([]float64(nil), s.state.Zu...),
		IBasic: append([]int(nil), s.state.IBasic...),
		ILower: append([]int(nil), s.state.ILower...),
		IUpper: append([]int(nil), s.state.IUpper...),
	}
	return out
}

// State returns a copy of the internal simplex partition.
func (s *Solver) State() State {
	clone := s.Clone().(*Solver)
	return clone.state
}

// Feasible searches for any point satisfying A*x = b within the bounds,
// using phase-1 artificial variables. On success the resulting vertex and
// basis are stored for a following Simplex call and written into state.
func (s *Solver) Feasible(problem *optimization.Problem, state *optimization.State, options optimization.Options) (optimization.Result, error) {
	begin := time.Now()

	var result optimization.Result
	if err := problem.Validate(); err != nil {
		return result, err
	}

	m, n := problem.A.Dims()
	s.n, s.m = n, m
	ntot := n + m

	s.a = mat.NewDense(m, ntot, nil)
	s.l = make([]float64, ntot)
	s.u = make([]float64, ntot)
	s.state.X = make([]float64, ntot)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			s.a.Set(i, j, problem.A.At(i, j))
		}
		s.l[j] = problem.L.AtVec(j)
		s.u[j] = problem.Upper(j)
		s.state.X[j] = s.l[j]
	}

	// Artificial columns carry the sign of the residual so every artificial
	// starts nonnegative and basic.
	s.state.IBasic = make([]int, m)
	s.state.ILower = make([]int, 0, ntot)
	s.state.IUpper = s.state.IUpper[:0]
	for j := 0; j < n; j++ {
		s.state.ILower = append(s.state.ILower, j)
	}
	for i := 0; i < m; i++ {
		r := problem.B.AtVec(i)
		for j := 0; j < n; j++ {
			r -= problem.A.At(i, j) * s.state.X[j]
		}
		sgn := 1.0
		if r < 0 {
			sgn = -1.0
		}
		s.a.Set(i, n+i, sgn)
		s.l[n+i] = 0
		s.u[n+i] = math.Inf(1)
		s.state.X[n+i] = math.Abs(r)
		s.state.IBasic[i] = n + i
	}

	c := make([]float64, ntot)
	for i := 0; i < m; i++ {
		c[n+i] = 1
	}

	optimal := s.pivot(c, problem.B, options, &result)

	var infeasibility float64
	for i := 0; i < m; i++ {
		infeasibility += s.state.X[n+i]
	}
	result.Error = infeasibility

	if optimal && infeasibility <= feasibilityTolerance(options) {
		result.Succeeded = true
		// Pin the artificials so phase 2 can never reactivate them.
		for i := 0; i < m; i++ {
			s.u[n+i] = 0
			s.state.X[n+i] = 0
		}
	} else {
		s.logger.Debug("Problem is infeasible within the bounds",
			zap.Float64("infeasibility", infeasibility),
			zap.Bool("phase1_optimal", optimal),
		)
	}
	s.hasBasis = result.Succeeded

	s.writeBack(state)
	result.Time = time.Since(begin).Seconds()
	return result, nil
}

// Simplex pivots from the current feasible vertex to an optimal one for the
// problem's linear objective (the objective gradient is taken as the cost
// vector and assumed constant). When no basis has been established yet,
// Feasible runs first.
func (s *Solver) Simplex(problem *optimization.Problem, state *optimization.State, options optimization.Options) (optimization.Result, error) {
	begin := time.Now()

	var result optimization.Result
	if err := problem.Validate(); err != nil {
		return result, err
	}

	if !s.hasBasis {
		feas, err := s.Feasible(problem, state, options)
		if err != nil {
			return feas, err
		}
		result.Iterations = feas.Iterations
		result.TimeLinearSystems = feas.TimeLinearSystems
		if !feas.Succeeded {
			feas.Time = time.Since(begin).Seconds()
			return feas, nil
		}
	}

	m, n := s.m, s.n
	ntot := n + m

	xv := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		xv.SetVec(j, s.state.X[j])
	}
	f := problem.Objective(xv)

	c := make([]float64, ntot)
	for j := 0; j < n; j++ {
		c[j] = f.Grad.AtVec(j)
	}

	result.Succeeded = s.pivot(c, problem.B, options, &result)

	s.writeBack(state)
	result.Time = time.Since(begin).Seconds()
	return result, nil
}

// Solve is the convenience dispatch: a phase-1 feasibility search followed
// by phase-2 pivoting on the objective.
func (s *Solver) Solve(problem *optimization.Problem, state *optimization.State, options optimization.Options) (optimization.Result, error) {
	feas, err := s.Feasible(problem, state, options)
	if err != nil || !feas.Succeeded {
		return feas, err
	}
	result, err := s.Simplex(problem, state, options)
	result.Iterations += feas.Iterations
	result.Time += feas.Time
	result.TimeLinearSystems += feas.TimeLinearSystems
	return result, err
}

// pivot runs basis exchanges until the vertex is optimal for cost c, the
// iteration cap is hit, or the step is unbounded. It reports whether the
// final vertex is optimal.
func (s *Solver) pivot(c []float64, b *mat.VecDense, options optimization.Options, result *optimization.Result) bool {
	m := s.m
	ntot := s.n + s.m

	y := make([]float64, m)
	zl := make([]float64, ntot)
	zu := make([]float64, ntot)

	for {
		result.Iterations++
		if result.Iterations > options.MaxIterations {
			return false
		}

		begin := time.Now()
		basis := mat.NewDense(m, m, nil)
		for k, vb := range s.state.IBasic {
			for i := 0; i < m; i++ {
				basis.Set(i, k, s.a.At(i, vb))
			}
		}
		var lu mat.LU
		lu.Factorize(basis)

		// Solve B*xB = b - N*xN for the basic values.
		rhs := mat.NewVecDense(m, nil)
		rhs.CopyVec(b)
		for _, j := range s.state.ILower {
			addScaledCol(rhs, s.a, j, -s.state.X[j])
		}
		for _, j := range s.state.IUpper {
			addScaledCol(rhs, s.a, j, -s.state.X[j])
		}
		xB := mat.NewVecDense(m, nil)
		if err := lu.SolveVecTo(xB, false, rhs); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				s.logger.Debug("Basis matrix is singular", zap.Error(err))
				result.TimeLinearSystems += time.Since(begin).Seconds()
				return false
			}
		}
		for k, vb := range s.state.IBasic {
			s.state.X[vb] = xB.AtVec(k)
		}

		// Solve B'*y = cB for the duals.
		cB := mat.NewVecDense(m, nil)
		for k, vb := range s.state.IBasic {
			cB.SetVec(k, c[vb])
		}
		yv := mat.NewVecDense(m, nil)
		if err := lu.SolveVecTo(yv, true, cB); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				result.TimeLinearSystems += time.Since(begin).Seconds()
				return false
			}
		}
		for i := 0; i < m; i++ {
			y[i] = yv.AtVec(i)
		}
		result.TimeLinearSystems += time.Since(begin).Seconds()

		// Price the nonbasic variables; Bland's rule picks the entering
		// variable as the smallest violating index, which precludes cycling.
		entering := -1
		fromLower := false
		for _, j := range s.state.ILower {
			if s.u[j]-s.l[j] == 0 {
				continue
			}
			d := c[j] - colDot(s.a, j, y)
			zl[j] = d
			if d < -pivotTol && (entering < 0 || j < entering) {
				entering = j
				fromLower = true
			}
		}
		for _, j := range s.state.IUpper {
			if s.u[j]-s.l[j] == 0 {
				continue
			}
			d := c[j] - colDot(s.a, j, y)
			zu[j] = -d
			if d > pivotTol && (entering < 0 || j < entering) {
				entering = j
				fromLower = false
			}
		}

		if entering < 0 {
			s.state.Y = y
			s.state.Zl = zl
			s.state.Zu = zu
			return true
		}

		// Direction of the basic values as the entering variable moves.
		begin = time.Now()
		ae := mat.NewVecDense(m, nil)
		for i := 0; i < m; i++ {
			ae.SetVec(i, s.a.At(i, entering))
		}
		w := mat.NewVecDense(m, nil)
		if err := lu.SolveVecTo(w, false, ae); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				result.TimeLinearSystems += time.Since(begin).Seconds()
				return false
			}
		}
		result.TimeLinearSystems += time.Since(begin).Seconds()

		sgn := 1.0
		if !fromLower {
			sgn = -1.0
		}

		// Ratio test: the entering variable moves t >= 0 until a basic
		// variable hits one of its bounds, or the entering variable itself
		// reaches its opposite bound.
		t := math.Inf(1)
		leaving := -1
		leavingToUpper := false
		for k, vb := range s.state.IBasic {
			wk := sgn * w.AtVec(k)
			switch {
			case wk > pivotTol:
				cand := (s.state.X[vb] - s.l[vb]) / wk
				if cand < t-pivotTol || (cand < t+pivotTol && leaving >= 0 && vb < s.state.IBasic[leaving]) {
					t = cand
					leaving = k
					leavingToUpper = false
				}
			case wk < -pivotTol && !math.IsInf(s.u[vb], 1):
				cand := (s.u[vb] - s.state.X[vb]) / (-wk)
				if cand < t-pivotTol || (cand < t+pivotTol && leaving >= 0 && vb < s.state.IBasic[leaving]) {
					t = cand
					leaving = k
					leavingToUpper = true
				}
			}
		}
		tFlip := s.u[entering] - s.l[entering]

		if math.IsInf(t, 1) && math.IsInf(tFlip, 1) {
			s.logger.Debug("Objective is unbounded along the entering variable",
				zap.Int("entering", entering),
			)
			return false
		}

		if tFlip < t {
			// Bound flip: the entering variable crosses to its other bound
			// without a basis change.
			s.state.X[entering] += sgn * tFlip
			for k, vb := range s.state.IBasic {
				s.state.X[vb] -= tFlip * sgn * w.AtVec(k)
			}
			if fromLower {
				s.state.ILower = eraseValue(s.state.ILower, entering)
				s.state.IUpper = append(s.state.IUpper, entering)
				s.state.X[entering] = s.u[entering]
			} else {
				s.state.IUpper = eraseValue(s.state.IUpper, entering)
				s.state.ILower = append(s.state.ILower, entering)
				s.state.X[entering] = s.l[entering]
			}
			continue
		}

		if t < 0 {
			t = 0
		}
		s.state.X[entering] += sgn * t
		for k, vb := range s.state.IBasic {
			s.state.X[vb] -= t * sgn * w.AtVec(k)
		}

		left := s.state.IBasic[leaving]
		s.state.IBasic[leaving] = entering
		if fromLower {
			s.state.ILower = eraseValue(s.state.ILower, entering)
		} else {
			s.state.IUpper = eraseValue(s.state.IUpper, entering)
		}
		if leavingToUpper {
			s.state.IUpper = append(s.state.IUpper, left)
			s.state.X[left] = s.u[left]
		} else {
			s.state.ILower = append(s.state.ILower, left)
			s.state.X[left] = s.l[left]
		}
	}
}

// writeBack copies the structural part of the simplex state into the shared
// solver state. The bound multiplier is z = c - A'*y for nonbasic variables
// and zero for basic ones.
func (s *Solver) writeBack(state *optimization.State) {
	n, m := s.n, s.m
	state.X = mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		state.X.SetVec(j, s.state.X[j])
	}
	state.Y = mat.NewVecDense(m, nil)
	for i := 0; i < m && i < len(s.state.Y); i++ {
		state.Y.SetVec(i, s.state.Y[i])
	}
	state.Z = mat.NewVecDense(n, nil)
	for _, j := range s.state.ILower {
		if j < n && j < len(s.state.Zl) {
			state.Z.SetVec(j, s.state.Zl[j])
		}
	}
	for _, j := range s.state.IUpper {
		if j < n && j < len(s.state.Zu) {
			state.Z.SetVec(j, -s.state.Zu[j])
		}
	}
}

func feasibilityTolerance(options optimization.Options) float64 {
	if options.Tolerance > 0 {
		return options.Tolerance
	}
	return optimization.DefaultOptions().Tolerance
}

func addScaledCol(dst *mat.VecDense, a *mat.Dense, j int, alpha float64) {
	if alpha == 0 {
		return
	}
	m, _ := a.Dims()
	for i := 0; i < m; i++ {
		dst.SetVec(i, dst.AtVec(i)+alpha*a.At(i, j))
	}
}

func colDot(a *mat.Dense, j int, y []float64) float64 {
	var sum float64
	for i := range y {
		sum += a.At(i, j) * y[i]
	}
	return sum
}

func eraseValue(idx []int, v int) []int {
	for i, x := range idx {
		if x == v {
			return append(idx[:i], idx[i+1:]...)
		}
	}
	return idx
}
