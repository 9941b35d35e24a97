// Package output renders optional tabular iteration logs for the solvers.
// The outputter is a read-only consumer of solver state: columns are
// registered up front, then one row of values is emitted per iteration.
package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
)

const columnWidth = 15

// Outputter accumulates column headers and per-iteration values and writes
// them as a fixed-width table. It is a no-op unless the options mark it
// active.
type Outputter struct {
	options optimization.OutputOptions
	writer  io.Writer

	entries []string
	values  []string
}

// New creates an inactive Outputter writing to os.Stdout.
func New() *Outputter {
	return &Outputter{writer: os.Stdout}
}

// SetOptions configures the outputter; a nil Writer in the options keeps
// the current destination.
func (o *Outputter) SetOptions(options optimization.OutputOptions) {
	o.options = options
	if options.Writer != nil {
		o.writer = options.Writer
	}
	o.entries = o.entries[:0]
	o.values = o.values[:0]
}

// AddEntry registers one column.
func (o *Outputter) AddEntry(name string) {
	if !o.options.Active {
		return
	}
	o.entries = append(o.entries, name)
}

// AddEntries registers n columns labeled names[i] when provided, otherwise
// prefix[i]. The labels have no semantic effect.
func (o *Outputter) AddEntries(prefix string, n int, names []string) {
	if !o.options.Active {
		return
	}
	for i := 0; i < n; i++ {
		if i < len(names) {
			o.entries = append(o.entries, prefix+names[i])
		} else {
			o.entries = append(o.entries, prefix+"["+strconv.Itoa(i)+"]")
		}
	}
}

// AddValue appends one numeric value to the pending row.
func (o *Outputter) AddValue(v float64) {
	if !o.options.Active {
		return
	}
	o.values = append(o.values, fmt.Sprintf("%.6e", v))
}

// AddValueInt appends one integer value to the pending row.
func (o *Outputter) AddValueInt(v int) {
	if !o.options.Active {
		return
	}
	o.values = append(o.values, strconv.Itoa(v))
}

// AddValueStr appends one literal cell to the pending row.
func (o *Outputter) AddValueStr(v string) {
	if !o.options.Active {
		return
	}
	o.values = append(o.values, v)
}

// AddValues appends every entry of v to the pending row.
func (o *Outputter) AddValues(v *mat.VecDense) {
	for i := 0; i < v.Len(); i++ {
		o.AddValue(v.AtVec(i))
	}
}

// OutputHeader writes a separator bar and the registered column names.
func (o *Outputter) OutputHeader() {
	if !o.options.Active || len(o.entries) == 0 {
		return
	}
	bar := strings.Repeat("=", (columnWidth+1)*len(o.entries))
	fmt.Fprintln(o.writer, bar)
	var sb strings.Builder
	for _, e := range o.entries {
		fmt.Fprintf(&sb, "%*s ", columnWidth, e)
	}
	fmt.Fprintln(o.writer, sb.String())
	fmt.Fprintln(o.writer, bar)
}

// OutputState writes the pending row of values and clears it.
func (o *Outputter) OutputState() {
	if !o.options.Active {
		return
	}
	var sb strings.Builder
	for _, v := range o.values {
		fmt.Fprintf(&sb, "%*s ", columnWidth, v)
	}
	fmt.Fprintln(o.writer, sb.String())
	o.values = o.values[:0]
}
