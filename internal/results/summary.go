package results

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the distribution of one column over successful rows.
type Summary struct {
	Column string
	N      int
	Mean   float64
	Stddev float64
	Min    float64
	Max    float64
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: n=%d mean=%.6g±%.6g range=[%.6g, %.6g]", s.Column, s.N, s.Mean, s.Stddev, s.Min, s.Max)
}

// Summarize computes a Summary of column over rows that succeeded and carry a
// finite value for it.
func (t *Table) Summarize(column string) (Summary, error) {
	var xs []float64
	for i, r := range t.Rows {
		if r.Outcome.Failed() {
			continue
		}
		v, ok := t.Value(i, column)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xs = append(xs, v)
	}
	if len(xs) == 0 {
		return Summary{}, fmt.Errorf("column %q has no values", column)
	}

	s := Summary{Column: column, N: len(xs), Min: floats.Min(xs), Max: floats.Max(xs)}
	if len(xs) == 1 {
		s.Mean = xs[0]
		return s, nil
	}
	s.Mean, s.Stddev = stat.MeanStdDev(xs, nil)
	return s, nil
}
