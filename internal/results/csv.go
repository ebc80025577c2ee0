package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// WriteCSV writes t with one header row. Absent values are left empty.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()

	header := append([]string{"index", "outcome", "log"}, cols...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range t.Rows {
		row := []string{strconv.Itoa(r.Index), string(r.Outcome), r.Log}
		for _, c := range cols {
			v, ok := t.Value(i, c)
			row = append(row, formatCell(v, ok))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", r.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v float64, ok bool) string {
	switch {
	case !ok:
		return ""
	case math.IsNaN(v):
		return "nan"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
