package optimization

import "io"

// KKTMethod selects the factorization strategy of the KKT solver.
type KKTMethod int

const (
	// KKTAutomatic dispatches on the Hessian mode: Dense Hessians use the
	// fullspace factorization, Diagonal Hessians the rangespace elimination.
	KKTAutomatic KKTMethod = iota
	// KKTFullspace factorizes the full reduced saddle-point matrix.
	KKTFullspace
	// KKTRangespace eliminates the primal block through the Hessian
	// diagonal and factorizes only the m-by-m Schur complement. Requires a
	// Diagonal Hessian.
	KKTRangespace
)

// KKTOptions configures the KKT linear solver.
type KKTOptions struct {
	Method KKTMethod
}

// OutputOptions configures the tabular iteration output. The prefixes and
// names affect column labeling only; they have no semantic effect.
type OutputOptions struct {
	// Active enables the output; when false the outputter is a no-op.
	Active bool

	XPrefix string
	YPrefix string
	ZPrefix string

	XNames []string
	YNames []string
	ZNames []string

	// Writer receives the table; nil means os.Stdout.
	Writer io.Writer
}

// Options configures a Solve call.
type Options struct {
	// Tolerance is the stopping threshold on the maximum residual.
	Tolerance float64
	// MaxIterations caps the number of iterations; exceeding it terminates
	// the calculation with Succeeded=false.
	MaxIterations int
	// Regularization is the Tikhonov penalty coefficient rho applied by the
	// Newton solver's public entry point. Zero disables the wrapper and
	// leaves the objective untouched.
	Regularization float64

	Output OutputOptions
	KKT    KKTOptions
}

// DefaultOptions returns the default solver options.
func DefaultOptions() Options {
	return Options{
		Tolerance:     1e-6,
		MaxIterations: 200,
	}
}
