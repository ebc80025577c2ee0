// Package results holds the tabular outcome of a scan: one row per executed
// point with its parameters, parsed output fields and status.
package results

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/space"
)

// Columns added to every row of a merged table.
const (
	ColumnSeed     = "scan_seed"
	ColumnParallel = "scan_parallel"
)

// Row is one executed point.
type Row struct {
	Index   int                `json:"index"`
	Outcome runner.Outcome     `json:"outcome"`
	Log     string             `json:"log,omitempty"`
	Detail  string             `json:"detail,omitempty"`
	Params  space.Assignment   `json:"params"`
	Fields  map[string]float64 `json:"fields,omitempty"`
}

// Meta describes how a table was produced.
type Meta struct {
	ID        string    `json:"id,omitempty"`
	Config    string    `json:"config,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Seed      uint64    `json:"seed"`
	Parallel  int       `json:"parallel"`
	CreatedAt time.Time `json:"created_at"`
}

// Table is an ordered set of rows. Rows need not share columns; a column a row
// lacks reads as absent.
type Table struct {
	Meta Meta  `json:"meta"`
	Rows []Row `json:"rows"`
}

// New builds a table from runner results, keeping their order.
func New(meta Meta, rs []runner.Result) *Table {
	t := &Table{Meta: meta, Rows: make([]Row, len(rs))}
	for i, r := range rs {
		t.Rows[i] = Row{
			Index:   i,
			Outcome: r.Outcome,
			Log:     r.Log,
			Detail:  r.Detail,
			Params:  r.Params,
			Fields:  r.Fields,
		}
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ParamColumns returns the sorted union of parameter names over all rows.
func (t *Table) ParamColumns() []string {
	seen := map[string]bool{}
	for _, r := range t.Rows {
		for k := range r.Params {
			seen[k] = true
		}
	}
	return sortedKeys(seen)
}

// FieldColumns returns the sorted union of output field names over all rows,
// excluding names that are also parameters.
func (t *Table) FieldColumns() []string {
	params := map[string]bool{}
	for _, k := range t.ParamColumns() {
		params[k] = true
	}
	seen := map[string]bool{}
	for _, r := range t.Rows {
		for k := range r.Fields {
			if !params[k] {
				seen[k] = true
			}
		}
	}
	return sortedKeys(seen)
}

// Columns returns parameter columns followed by field columns.
func (t *Table) Columns() []string {
	return append(t.ParamColumns(), t.FieldColumns()...)
}

// Value returns the value of column name in row i. Parameters shadow fields.
func (t *Table) Value(i int, name string) (float64, bool) {
	r := t.Rows[i]
	if v, ok := r.Params[name]; ok {
		return v, true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Column returns the values of name for every row, NaN where absent.
func (t *Table) Column(name string) []float64 {
	out := make([]float64, len(t.Rows))
	for i := range t.Rows {
		v, ok := t.Value(i, name)
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// Stats counts rows per outcome.
type Stats struct {
	Total     int
	OK        int
	Failed    int
	ByOutcome map[runner.Outcome]int
}

// Stats summarises the outcomes of t.
func (t *Table) Stats() Stats {
	s := Stats{ByOutcome: map[runner.Outcome]int{}}
	if t == nil {
		return s
	}
	for _, r := range t.Rows {
		s.Total++
		s.ByOutcome[r.Outcome]++
		if r.Outcome.Failed() {
			s.Failed++
		} else {
			s.OK++
		}
	}
	return s
}

// MaxExactSeed is the largest seed the float64 scan_seed column holds exactly.
const MaxExactSeed = 1 << 53

// Merge concatenates tables, renumbering rows and tagging each with the seed
// and worker count of the scan it came from. Tables produced from different
// configurations are merged anyway; the returned warnings name them, as well
// as seeds above MaxExactSeed whose scan_seed value is rounded. Meta.Seed of
// each input keeps the exact value.
func Merge(tables ...*Table) (*Table, []string) {
	out := &Table{}
	var warnings []string
	first := true
	for ti, t := range tables {
		if t == nil {
			continue
		}
		if first {
			out.Meta = t.Meta
			out.Meta.ID = ""
			first = false
		} else if t.Meta.Config != out.Meta.Config {
			warnings = append(warnings, fmt.Sprintf("table %d was produced from a different configuration", ti))
		}
		if t.Meta.Seed > MaxExactSeed {
			warnings = append(warnings, fmt.Sprintf("table %d: seed %d is rounded to %g in %s", ti, t.Meta.Seed, float64(t.Meta.Seed), ColumnSeed))
		}
		for _, r := range t.Rows {
			r.Index = len(out.Rows)
			r.Params = r.Params.Clone()
			r.Params[ColumnSeed] = float64(t.Meta.Seed)
			r.Params[ColumnParallel] = float64(t.Meta.Parallel)
			out.Rows = append(out.Rows, r)
		}
	}
	out.Meta.CreatedAt = time.Now().UTC()
	return out, warnings
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
