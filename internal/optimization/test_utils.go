package optimization

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// assertVecEqual checks if two vectors are approximately equal.
func assertVecEqual(t *testing.T, got, want *mat.VecDense, tol float64) {
	t.Helper()

	if got.Len() != want.Len() {
		t.Fatalf("length mismatch: got %d, want %d", got.Len(), want.Len())
	}

	for i := 0; i < got.Len(); i++ {
		if math.Abs(got.AtVec(i)-want.AtVec(i)) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got.AtVec(i), want.AtVec(i), tol)
		}
	}
}

// RandomSPD generates a random symmetric positive-definite n-by-n matrix by
// forming M*M' + n*I for a random M.
func RandomSPD(n int, rng *rand.Rand) *mat.SymDense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	var prod mat.Dense
	prod.Mul(m, m.T())
	spd := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := prod.At(i, j)
			if i == j {
				v += float64(n)
			}
			spd.SetSym(i, j, v)
		}
	}
	return spd
}

// RandomFullRank generates a random m-by-n matrix; for m <= n and continuous
// random entries the rows are full rank with probability one.
func RandomFullRank(m, n int, rng *rand.Rand) *mat.Dense {
	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	return a
}

// RandomVec generates a random vector with standard normal entries.
func RandomVec(n int, rng *rand.Rand) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, rng.NormFloat64())
	}
	return v
}
