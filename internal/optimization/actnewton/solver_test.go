package actnewton

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
)

// simplexProblem builds min 0.5*||x - target||^2 subject to x1 + x2 = 1, x >= 0.
func simplexProblem(mode optimization.HessianMode, target []float64) *optimization.Problem {
	n := len(target)
	c := mat.NewVecDense(n, nil)
	for i := range target {
		c.SetVec(i, -target[i])
	}

	var q optimization.Hessian
	switch mode {
	case optimization.HessianDense:
		dense := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			dense.SetSym(i, i, 1)
		}
		q = optimization.Hessian{Mode: optimization.HessianDense, Dense: dense}
	case optimization.HessianDiagonal:
		diag := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			diag.SetVec(i, 1)
		}
		q = optimization.Hessian{Mode: optimization.HessianDiagonal, Diagonal: diag}
	}

	a := mat.NewDense(1, n, nil)
	for i := 0; i < n; i++ {
		a.Set(0, i, 1)
	}

	return &optimization.Problem{
		Objective: optimization.QuadraticObjective(q, c),
		A:         a,
		B:         mat.NewVecDense(1, []float64{1}),
		L:         mat.NewVecDense(n, nil),
	}
}

func TestSolveInteriorOptimum(t *testing.T) {
	for _, mode := range []optimization.HessianMode{
		optimization.HessianDense,
		optimization.HessianDiagonal,
	} {
		problem := simplexProblem(mode, []float64{0, 0})
		state := optimization.NewState()
		state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

		result, err := New().Solve(problem, state, optimization.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, result.Succeeded)
		assert.Less(t, result.Iterations, 10)
		assert.InDelta(t, 0.5, state.X.AtVec(0), 1e-6)
		assert.InDelta(t, 0.5, state.X.AtVec(1), 1e-6)
	}
}

func TestSolveActivatesBound(t *testing.T) {
	// Pulling x1 toward 2 pushes x2 onto its lower bound.
	problem := simplexProblem(optimization.HessianDense, []float64{2, 0})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.5, 0.5})

	result, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 1.0, state.X.AtVec(0), 1e-6)
	assert.InDelta(t, 0.0, state.X.AtVec(1), 1e-6)
}

func TestSolveReleasesBoundVariable(t *testing.T) {
	// Starting with x2 pinned at zero, the optimum needs both variables free.
	problem := simplexProblem(optimization.HessianDense, []float64{1, 1})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{1, 0})

	result, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 0.5, state.X.AtVec(0), 1e-6)
	assert.InDelta(t, 0.5, state.X.AtVec(1), 1e-6)
}

func TestResolveFromConvergedState(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})
	solver := New()

	first, err := solver.Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	require.True(t, first.Succeeded)
	x1 := mat.VecDenseCopyOf(state.X)

	second, err := solver.Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, second.Succeeded)
	assert.Equal(t, 1, second.Iterations)
	for i := 0; i < 2; i++ {
		assert.InDelta(t, x1.AtVec(i), state.X.AtVec(i), 1e-9)
	}
}

func TestSolveRespectsLowerBounds(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{3, -1})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.5, 0.5})

	_, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		assert.GreaterOrEqual(t, state.X.AtVec(i), 0.0)
	}
}

func TestSolveNonFiniteObjective(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	problem.Objective = func(x *mat.VecDense) optimization.ObjectiveState {
		grad := mat.NewVecDense(x.Len(), nil)
		grad.SetVec(0, math.NaN())
		diag := mat.NewVecDense(x.Len(), nil)
		return optimization.ObjectiveState{
			Val:     math.NaN(),
			Grad:    grad,
			Hessian: optimization.Hessian{Mode: optimization.HessianDiagonal, Diagonal: diag},
		}
	}
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

	result, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Equal(t, 1, result.Iterations)
}

func TestSolveUnsupportedHessianMode(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	problem.Objective = func(x *mat.VecDense) optimization.ObjectiveState {
		return optimization.ObjectiveState{Grad: mat.NewVecDense(x.Len(), nil)}
	}
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

	result, err := New().Solve(problem, state, optimization.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrUnsupportedHessian))
	assert.Equal(t, 0, result.Iterations)
}

func TestSolveDimensionMismatch(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	problem.B = mat.NewVecDense(2, []float64{1, 1})

	_, err := New().Solve(problem, optimization.NewState(), optimization.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrDimensionMismatch))
}

func TestSolveMaxIterationsExceeded(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

	options := optimization.DefaultOptions()
	options.Tolerance = 0 // unattainable, the error is never strictly below zero
	options.MaxIterations = 5

	result, err := New().Solve(problem, state, options)
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Equal(t, 6, result.Iterations)
}

func TestSolveWithRegularization(t *testing.T) {
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

	options := optimization.DefaultOptions()
	options.Regularization = 1e-10

	result, err := New().Solve(problem, state, options)
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.InDelta(t, 0.5, state.X.AtVec(0), 1e-4)
	assert.InDelta(t, 0.5, state.X.AtVec(1), 1e-4)
}

func TestSolveWritesIterationTable(t *testing.T) {
	var buf bytes.Buffer
	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

	options := optimization.DefaultOptions()
	options.Output.Active = true
	options.Output.Writer = &buf

	result, err := New().Solve(problem, state, options)
	require.NoError(t, err)
	require.True(t, result.Succeeded)

	out := buf.String()
	assert.Contains(t, out, "iter")
	assert.Contains(t, out, "x[0]")
	assert.Contains(t, out, "errorf")
	assert.Contains(t, out, "alpha")
}

func TestCloneIsIndependent(t *testing.T) {
	original := New()
	clone := original.Clone()
	require.NotNil(t, clone)

	problem := simplexProblem(optimization.HessianDense, []float64{0, 0})
	state := optimization.NewState()
	state.X = mat.NewVecDense(2, []float64{0.3, 0.7})

	result, err := clone.Solve(problem, state, optimization.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
}
