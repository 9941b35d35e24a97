package simplex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
)

func linearProblem(c []float64, a *mat.Dense, b, l, u *mat.VecDense) *optimization.Problem {
	n := len(c)
	cost := mat.NewVecDense(n, nil)
	for i := range c {
		cost.SetVec(i, c[i])
	}
	return &optimization.Problem{
		Objective: optimization.LinearObjective(cost),
		A:         a,
		B:         b,
		L:         l,
		U:         u,
	}
}

func constraintResidual(p *optimization.Problem, x *mat.VecDense) float64 {
	m, _ := p.A.Dims()
	r := mat.NewVecDense(m, nil)
	r.MulVec(p.A, x)
	r.SubVec(r, p.B)
	return optimization.NormInf(r)
}

func TestFeasibleFindsPointOnConstraints(t *testing.T) {
	// x1 + x2 = 1, x1 - x2 = 0, x >= 0 has the unique solution (0.5, 0.5).
	problem := linearProblem(
		[]float64{0, 0},
		mat.NewDense(2, 2, []float64{1, 1, 1, -1}),
		mat.NewVecDense(2, []float64{1, 0}),
		mat.NewVecDense(2, nil),
		nil,
	)
	state := optimization.NewState()

	result, err := New().Feasible(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.Less(t, constraintResidual(problem, state.X), 1e-9)
	assert.InDelta(t, 0.5, state.X.AtVec(0), 1e-9)
	assert.InDelta(t, 0.5, state.X.AtVec(1), 1e-9)
}

func TestFeasibleDetectsInfeasibility(t *testing.T) {
	// x1 + x2 = 1 with x1 >= 2 cannot be met when x2 >= 0.
	problem := linearProblem(
		[]float64{0, 0},
		mat.NewDense(1, 2, []float64{1, 1}),
		mat.NewVecDense(1, []float64{1}),
		mat.NewVecDense(2, []float64{2, 0}),
		nil,
	)
	state := optimization.NewState()

	result, err := New().Feasible(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
}

func TestSolveLinearProgram(t *testing.T) {
	// min x1 + 2*x2 subject to x1 + x2 = 1, x >= 0 is attained at (1, 0).
	problem := linearProblem(
		[]float64{1, 2},
		mat.NewDense(1, 2, []float64{1, 1}),
		mat.NewVecDense(1, []float64{1}),
		mat.NewVecDense(2, nil),
		nil,
	)
	state := optimization.NewState()

	result, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 1.0, state.X.AtVec(0), 1e-9)
	assert.InDelta(t, 0.0, state.X.AtVec(1), 1e-9)
	assert.Less(t, constraintResidual(problem, state.X), 1e-9)
}

func TestSolveRespectsUpperBounds(t *testing.T) {
	// min -x1 drives x1 to its upper bound 0.7 rather than to the vertex 1.
	problem := linearProblem(
		[]float64{-1, 0},
		mat.NewDense(1, 2, []float64{1, 1}),
		mat.NewVecDense(1, []float64{1}),
		mat.NewVecDense(2, nil),
		mat.NewVecDense(2, []float64{0.7, 1}),
	)
	state := optimization.NewState()

	result, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 0.7, state.X.AtVec(0), 1e-9)
	assert.InDelta(t, 0.3, state.X.AtVec(1), 1e-9)
}

func TestSimplexReusesBasisFromFeasible(t *testing.T) {
	problem := linearProblem(
		[]float64{1, 2},
		mat.NewDense(1, 2, []float64{1, 1}),
		mat.NewVecDense(1, []float64{1}),
		mat.NewVecDense(2, nil),
		nil,
	)
	state := optimization.NewState()
	solver := New()

	feas, err := solver.Feasible(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	require.True(t, feas.Succeeded)

	result, err := solver.Simplex(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 1.0, state.X.AtVec(0), 1e-9)
	assert.InDelta(t, 0.0, state.X.AtVec(1), 1e-9)
}

func TestSolveDimensionMismatch(t *testing.T) {
	problem := linearProblem(
		[]float64{1, 2},
		mat.NewDense(1, 2, []float64{1, 1}),
		mat.NewVecDense(2, []float64{1, 1}),
		mat.NewVecDense(2, nil),
		nil,
	)

	_, err := New().Solve(problem, optimization.NewState(), optimization.DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, optimization.ErrDimensionMismatch)
}

func TestCloneCarriesBasis(t *testing.T) {
	problem := linearProblem(
		[]float64{1, 2},
		mat.NewDense(1, 2, []float64{1, 1}),
		mat.NewVecDense(1, []float64{1}),
		mat.NewVecDense(2, nil),
		nil,
	)
	state := optimization.NewState()
	solver := New()

	feas, err := solver.Feasible(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	require.True(t, feas.Succeeded)

	clone, ok := solver.Clone().(*Solver)
	require.True(t, ok)

	cloneState := optimization.NewState()
	result, err := clone.Simplex(problem, cloneState, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 1.0, cloneState.X.AtVec(0), 1e-9)

	// Pivoting the clone must not disturb the original's partition.
	assert.True(t, feasibleState(solver.State()))
}

func feasibleState(st State) bool {
	return len(st.IBasic) > 0 && len(st.X) > 0
}
