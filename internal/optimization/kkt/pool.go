package kkt

import "gonum.org/v1/gonum/mat"

// Pool provides reusable vectors and matrices for the per-iteration solve
// path, avoiding allocations when the partition size is stable between
// iterations. Entries whose size no longer matches are discarded.
type Pool struct {
	vecs   []*mat.VecDense
	denses []*mat.Dense
}

// NewPool creates an empty Pool.
func NewPool() *Pool {
	return &Pool{
		vecs:   make([]*mat.VecDense, 0, 8),
		denses: make([]*mat.Dense, 0, 8),
	}
}

// GetVecDense returns a zeroed vector of length n from the pool or creates
// a new one.
func (p *Pool) GetVecDense(n int) *mat.VecDense {
	for i := len(p.vecs) - 1; i >= 0; i-- {
		v := p.vecs[i]
		p.vecs = append(p.vecs[:i], p.vecs[i+1:]...)
		if v.Len() == n {
			v.Zero()
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool.
func (p *Pool) PutVecDense(v *mat.VecDense) {
	if v == nil || v.Len() == 0 {
		return
	}
	p.vecs = append(p.vecs, v)
}

// GetDense returns a zeroed r-by-c matrix from the pool or creates a new one.
func (p *Pool) GetDense(r, c int) *mat.Dense {
	for i := len(p.denses) - 1; i >= 0; i-- {
		m := p.denses[i]
		p.denses = append(p.denses[:i], p.denses[i+1:]...)
		if mr, mc := m.Dims(); mr == r && mc == c {
			m.Zero()
			return m
		}
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a matrix to the pool.
func (p *Pool) PutDense(m *mat.Dense) {
	if m == nil {
		return
	}
	if r, c := m.Dims(); r == 0 || c == 0 {
		return
	}
	p.denses = append(p.denses, m)
}
