package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ACTON/internal/optimization"
)

func TestOutputterWritesTable(t *testing.T) {
	var buf bytes.Buffer
	o := New()
	o.SetOptions(optimization.OutputOptions{Active: true, Writer: &buf})

	o.AddEntry("Iteration")
	o.AddEntries("x", 2, nil)
	o.AddEntry("Error")
	o.OutputHeader()

	o.AddValueInt(1)
	o.AddValues(mat.NewVecDense(2, []float64{0.5, 0.5}))
	o.AddValue(1.5e-7)
	o.OutputState()

	out := buf.String()
	assert.Contains(t, out, "Iteration")
	assert.Contains(t, out, "x[0]")
	assert.Contains(t, out, "x[1]")
	assert.Contains(t, out, "Error")
	assert.Contains(t, out, "1.500000e-07")
	assert.Contains(t, out, "=====")
}

func TestOutputterNamedColumns(t *testing.T) {
	var buf bytes.Buffer
	o := New()
	o.SetOptions(optimization.OutputOptions{Active: true, Writer: &buf})

	o.AddEntries("x-", 2, []string{"H2O", "CO2"})
	o.OutputHeader()

	assert.Contains(t, buf.String(), "x-H2O")
	assert.Contains(t, buf.String(), "x-CO2")
}

func TestOutputterInactiveIsSilent(t *testing.T) {
	var buf bytes.Buffer
	o := New()
	o.SetOptions(optimization.OutputOptions{Writer: &buf})

	o.AddEntry("Iteration")
	o.OutputHeader()
	o.AddValueInt(1)
	o.OutputState()

	assert.Zero(t, buf.Len())
}

func TestOutputStateClearsPendingRow(t *testing.T) {
	var buf bytes.Buffer
	o := New()
	o.SetOptions(optimization.OutputOptions{Active: true, Writer: &buf})

	o.AddEntry("Error")
	o.AddValue(1)
	o.OutputState()
	first := buf.String()

	o.AddValue(2)
	o.OutputState()
	second := strings.TrimPrefix(buf.String(), first)

	assert.Contains(t, first, "1.000000e+00")
	assert.NotContains(t, second, "1.000000e+00")
	assert.Contains(t, second, "2.000000e+00")
}
