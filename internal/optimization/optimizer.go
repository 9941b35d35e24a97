package optimization

import (
	"gonum.org/v1/gonum/mat"
)

// HessianMode tags the representation carried by a Hessian value.
type HessianMode int

const (
	// HessianDense is a full symmetric n-by-n matrix.
	HessianDense HessianMode = iota + 1
	// HessianDiagonal is a length-n vector of diagonal entries.
	HessianDiagonal
)

// Hessian is a tagged variant over the supported Hessian representations.
// Only Dense and Diagonal are accepted by the KKT solver; any other mode is
// a caller configuration error.
type Hessian struct {
	Mode     HessianMode
	Dense    *mat.SymDense
	Diagonal *mat.VecDense
}

// Clone returns a deep copy of the Hessian.
func (h Hessian) Clone() Hessian {
	out := Hessian{Mode: h.Mode}
	if h.Dense != nil {
		n := h.Dense.SymmetricDim()
		out.Dense = mat.NewSymDense(n, nil)
		out.Dense.CopySym(h.Dense)
	}
	if h.Diagonal != nil {
		out.Diagonal = mat.VecDenseCopyOf(h.Diagonal)
	}
	return out
}

// ObjectiveState holds the value, gradient and Hessian of the objective
// function evaluated at some point x.
type ObjectiveState struct {
	Val     float64
	Grad    *mat.VecDense
	Hessian Hessian
}

// Objective evaluates the objective function at x, returning its value,
// gradient and Hessian. Implementations must be side-effect free: evaluating
// the same x repeatedly must return the same state.
type Objective func(x *mat.VecDense) ObjectiveState

// Solver is the contract shared by all solver variants. Solve mutates state
// in place and reports the outcome in Result; structural errors (dimension
// mismatch, unsupported Hessian mode) are returned as errors, while
// numerical failure and non-convergence are reported via Result.Succeeded.
//
// A Solver instance must not be invoked concurrently; Clone produces an
// independent deep copy for concurrent use.
type Solver interface {
	Solve(problem *Problem, state *State, options Options) (Result, error)
	Clone() Solver
}

// State holds the mutable iterate of an optimization calculation: the primal
// variables x, the equality-constraint multipliers y, the bound multipliers z
// and the cached objective evaluation at x. It is owned exclusively by the
// solver invocation for the duration of a Solve call.
type State struct {
	X *mat.VecDense
	Y *mat.VecDense
	Z *mat.VecDense
	F ObjectiveState
}

// NewState returns an empty State; the solver sizes the vectors on first use.
func NewState() *State {
	return &State{
		X: &mat.VecDense{},
		Y: &mat.VecDense{},
		Z: &mat.VecDense{},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := NewState()
	if s.X.Len() > 0 {
		out.X = mat.VecDenseCopyOf(s.X)
	}
	if s.Y.Len() > 0 {
		out.Y = mat.VecDenseCopyOf(s.Y)
	}
	if s.Z.Len() > 0 {
		out.Z = mat.VecDenseCopyOf(s.Z)
	}
	out.F.Val = s.F.Val
	if s.F.Grad != nil {
		out.F.Grad = mat.VecDenseCopyOf(s.F.Grad)
	}
	out.F.Hessian = s.F.Hessian.Clone()
	return out
}

// Result reports the outcome of a Solve call.
type Result struct {
	// Succeeded is true when the residual dropped below the tolerance.
	Succeeded bool
	// Iterations is the number of iterations executed.
	Iterations int
	// Error is the final maximum residual norm.
	Error float64
	// Time is the total wall time of the calculation in seconds.
	Time float64
	// TimeLinearSystems is the time spent inside KKT decompose and solve
	// calls, in seconds.
	TimeLinearSystems float64
}
