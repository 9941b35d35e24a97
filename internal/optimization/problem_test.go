package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func validProblem() *Problem {
	return &Problem{
		Objective: LinearObjective(mat.NewVecDense(2, []float64{1, 1})),
		A:         mat.NewDense(1, 2, []float64{1, 1}),
		B:         mat.NewVecDense(1, []float64{1}),
		L:         mat.NewVecDense(2, nil),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Problem)
		ok     bool
	}{
		{"valid", func(p *Problem) {}, true},
		{"valid with upper bounds", func(p *Problem) {
			p.U = mat.NewVecDense(2, []float64{1, 1})
		}, true},
		{"missing objective", func(p *Problem) { p.Objective = nil }, false},
		{"missing constraint matrix", func(p *Problem) { p.A = nil }, false},
		{"more constraints than variables", func(p *Problem) {
			p.A = mat.NewDense(3, 2, nil)
			p.B = mat.NewVecDense(3, nil)
		}, false},
		{"wrong rhs length", func(p *Problem) { p.B = mat.NewVecDense(2, nil) }, false},
		{"wrong lower bound length", func(p *Problem) { p.L = mat.NewVecDense(3, nil) }, false},
		{"wrong upper bound length", func(p *Problem) { p.U = mat.NewVecDense(3, nil) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProblem()
			tt.mutate(p)
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDimensionMismatch)
			}
		})
	}
}

func TestUpper(t *testing.T) {
	p := validProblem()
	assert.True(t, math.IsInf(p.Upper(0), 1))

	p.U = mat.NewVecDense(2, []float64{0.7, 1})
	assert.Equal(t, 0.7, p.Upper(0))
}

func TestQuadraticObjectiveDense(t *testing.T) {
	q := Hessian{
		Mode: HessianDense,
		Dense: mat.NewSymDense(2, []float64{
			2, 1,
			1, 2,
		}),
	}
	c := mat.NewVecDense(2, []float64{-1, 0})
	f := QuadraticObjective(q, c)

	st := f(mat.NewVecDense(2, []float64{1, 1}))

	// 0.5*[1 1]*Q*[1 1]' = 3, c'*x = -1.
	assert.InDelta(t, 2.0, st.Val, 1e-14)
	assert.InDelta(t, 2.0, st.Grad.AtVec(0), 1e-14) // Q*x + c = (3-1, 3)
	assert.InDelta(t, 3.0, st.Grad.AtVec(1), 1e-14)
	assert.Equal(t, HessianDense, st.Hessian.Mode)
}

func TestQuadraticObjectiveDiagonal(t *testing.T) {
	q := Hessian{
		Mode:     HessianDiagonal,
		Diagonal: mat.NewVecDense(2, []float64{2, 4}),
	}
	c := mat.NewVecDense(2, []float64{1, -1})
	f := QuadraticObjective(q, c)

	st := f(mat.NewVecDense(2, []float64{1, 2}))

	// 0.5*(2*1 + 4*4) + (1 - 2) = 9 - 1.
	assert.InDelta(t, 8.0, st.Val, 1e-14)
	assert.InDelta(t, 3.0, st.Grad.AtVec(0), 1e-14)
	assert.InDelta(t, 7.0, st.Grad.AtVec(1), 1e-14)
	assert.Equal(t, HessianDiagonal, st.Hessian.Mode)
}

func TestLinearObjective(t *testing.T) {
	f := LinearObjective(mat.NewVecDense(2, []float64{1, 2}))
	st := f(mat.NewVecDense(2, []float64{3, 4}))

	assert.InDelta(t, 11.0, st.Val, 1e-14)
	assert.Equal(t, 1.0, st.Grad.AtVec(0))
	assert.Equal(t, 2.0, st.Grad.AtVec(1))
	assert.Equal(t, HessianDiagonal, st.Hessian.Mode)
	assert.Equal(t, 0.0, st.Hessian.Diagonal.AtVec(0))
}

func TestStateClone(t *testing.T) {
	s := NewState()
	s.X = mat.NewVecDense(2, []float64{1, 2})
	s.Y = mat.NewVecDense(1, []float64{3})

	c := s.Clone()
	c.X.SetVec(0, -1)

	assert.Equal(t, 1.0, s.X.AtVec(0))
	assert.Equal(t, 3.0, c.Y.AtVec(0))
}
