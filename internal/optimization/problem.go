package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Problem describes a bound and equality constrained optimization problem:
//
//	minimize f(x) subject to A·x = b and x >= l
//
// The upper bounds U are optional and honored only by the simplex solver;
// the Newton solver models lower bounds only.
//
// The caller is responsible for A having full row rank; this is not enforced
// internally.
type Problem struct {
	// Objective evaluates the objective function.
	Objective Objective
	// A is the m-by-n equality constraint matrix.
	A *mat.Dense
	// B is the length-m right-hand side of the equality constraints.
	B *mat.VecDense
	// L is the length-n vector of lower bounds.
	L *mat.VecDense
	// U is the optional length-n vector of upper bounds (simplex only).
	// A nil U means unbounded above.
	U *mat.VecDense
}

// Validate checks that the problem dimensions are mutually consistent.
// It must be called before entering a solver main loop; violations are
// configuration defects, not recoverable outcomes.
func (p *Problem) Validate() error {
	if p.Objective == nil {
		return WrapError(ErrDimensionMismatch, "problem has no objective function")
	}
	if p.A == nil || p.B == nil || p.L == nil {
		return WrapError(ErrDimensionMismatch, "problem is missing A, b or l")
	}
	m, n := p.A.Dims()
	if m > n {
		return WrapErrorf(ErrDimensionMismatch, "A has more rows (%d) than columns (%d)", m, n)
	}
	if p.B.Len() != m {
		return WrapErrorf(ErrDimensionMismatch, "b has length %d, want %d", p.B.Len(), m)
	}
	if p.L.Len() != n {
		return WrapErrorf(ErrDimensionMismatch, "l has length %d, want %d", p.L.Len(), n)
	}
	if p.U != nil && p.U.Len() != n {
		return WrapErrorf(ErrDimensionMismatch, "u has length %d, want %d", p.U.Len(), n)
	}
	return nil
}

// Upper returns the upper bound of variable i, or +Inf when no upper bounds
// are set.
func (p *Problem) Upper(i int) float64 {
	if p.U == nil {
		return math.Inf(1)
	}
	return p.U.AtVec(i)
}

// QuadraticObjective builds the objective callback for
// 0.5*x'*Q*x + c'*x with a Dense or Diagonal Q. The returned callback
// reports Q itself as the (constant) Hessian.
func QuadraticObjective(q Hessian, c *mat.VecDense) Objective {
	n := c.Len()
	return func(x *mat.VecDense) ObjectiveState {
		grad := mat.NewVecDense(n, nil)
		var quad float64
		switch q.Mode {
		case HessianDense:
			grad.MulVec(q.Dense, x)
			quad = mat.Dot(grad, x)
		case HessianDiagonal:
			for i := 0; i < n; i++ {
				grad.SetVec(i, q.Diagonal.AtVec(i)*x.AtVec(i))
			}
			quad = mat.Dot(grad, x)
		default:
			// Leave the gradient as c only; the solver rejects the mode
			// when it extracts the Hessian block.
		}
		val := 0.5*quad + mat.Dot(c, x)
		grad.AddVec(grad, c)
		return ObjectiveState{Val: val, Grad: grad, Hessian: q}
	}
}

// LinearObjective builds the objective callback for c'*x with a zero
// diagonal Hessian, as consumed by the simplex solver.
func LinearObjective(c *mat.VecDense) Objective {
	n := c.Len()
	return func(x *mat.VecDense) ObjectiveState {
		return ObjectiveState{
			Val:  mat.Dot(c, x),
			Grad: mat.VecDenseCopyOf(c),
			Hessian: Hessian{
				Mode:     HessianDiagonal,
				Diagonal: mat.NewVecDense(n, nil),
			},
		}
	}
}
