package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// KahanMulVec computes A*x row by row with compensated (Kahan) summation,
// which controls cancellation error when A is ill-conditioned.
func KahanMulVec(a *mat.Dense, x *mat.VecDense) *mat.VecDense {
	m, n := a.Dims()
	if m == 0 {
		return &mat.VecDense{}
	}
	res := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		var sum, c float64
		for j := 0; j < n; j++ {
			y := a.At(i, j)*x.AtVec(j) - c
			t := sum + y
			c = (t - sum) - y
			sum = t
		}
		res.SetVec(i, sum)
	}
	return res
}

// NormInf returns the maximum absolute entry of v, or 0 for an empty vector.
func NormInf(v *mat.VecDense) float64 {
	max := 0.0
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > max {
			max = a
		}
	}
	return max
}

// AllFinite reports whether every entry of v is finite.
func AllFinite(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Rows returns the subvector of v at the given indices, in index order.
func Rows(v *mat.VecDense, idx []int) *mat.VecDense {
	if len(idx) == 0 {
		return &mat.VecDense{}
	}
	out := mat.NewVecDense(len(idx), nil)
	for k, i := range idx {
		out.SetVec(k, v.AtVec(i))
	}
	return out
}

// SetRows scatters src into dst at the given indices: dst[idx[k]] = src[k].
func SetRows(dst *mat.VecDense, idx []int, src *mat.VecDense) {
	for k, i := range idx {
		dst.SetVec(i, src.AtVec(k))
	}
}

// Cols returns the submatrix of a restricted to the given columns, in index
// order. The relative order of surviving columns is always preserved so that
// the column-to-variable mapping stays consistent across iterations.
func Cols(a *mat.Dense, idx []int) *mat.Dense {
	m, _ := a.Dims()
	if m == 0 || len(idx) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(m, len(idx), nil)
	for k, j := range idx {
		for i := 0; i < m; i++ {
			out.Set(i, k, a.At(i, j))
		}
	}
	return out
}

// SymSubmatrix returns the principal submatrix of s at the given indices.
func SymSubmatrix(s *mat.SymDense, idx []int) *mat.SymDense {
	if len(idx) == 0 {
		return &mat.SymDense{}
	}
	out := mat.NewSymDense(len(idx), nil)
	for ki, i := range idx {
		for kj := ki; kj < len(idx); kj++ {
			out.SetSym(ki, kj, s.At(i, idx[kj]))
		}
	}
	return out
}

// EraseIndex removes position i from idx, preserving the relative order of
// the surviving entries (a compaction, not a swap removal).
func EraseIndex(idx []int, i int) []int {
	return append(idx[:i], idx[i+1:]...)
}

// EraseVecEntry removes position i from v, preserving order.
func EraseVecEntry(v *mat.VecDense, i int) *mat.VecDense {
	if v.Len() <= 1 {
		return &mat.VecDense{}
	}
	out := mat.NewVecDense(v.Len()-1, nil)
	for k := 0; k < i; k++ {
		out.SetVec(k, v.AtVec(k))
	}
	for k := i + 1; k < v.Len(); k++ {
		out.SetVec(k-1, v.AtVec(k))
	}
	return out
}

// AppendVecEntry returns v extended by one trailing entry.
func AppendVecEntry(v *mat.VecDense, x float64) *mat.VecDense {
	out := mat.NewVecDense(v.Len()+1, nil)
	for k := 0; k < v.Len(); k++ {
		out.SetVec(k, v.AtVec(k))
	}
	out.SetVec(v.Len(), x)
	return out
}

// FractionToBoundary computes the largest step alpha in (0, tau] such that
// p + alpha*dp >= 0 component-wise, where p >= 0 holds on entry. It returns
// alpha and the index of the limiting component, or ilimiting == p.Len()
// when no component limits the step.
func FractionToBoundary(p, dp *mat.VecDense, tau float64) (alpha float64, ilimiting int) {
	alpha = 1.0
	ilimiting = p.Len()
	for i := 0; i < p.Len(); i++ {
		if dp.AtVec(i) < 0 {
			ai := -tau * p.AtVec(i) / dp.AtVec(i)
			if ai < alpha {
				alpha = ai
				ilimiting = i
			}
		}
	}
	return alpha, ilimiting
}
