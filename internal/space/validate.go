package space

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/scanlha/internal/expr"
)

// Report is the outcome of Validate.
type Report struct {
	OK          bool
	Diagnostics []Diagnostic
	// Params is the effective parameter map in declaration order. Lines
	// without an id and duplicate (block, id) pairs are not in it.
	Params []Param
}

// Validate checks blocks for structural consistency. It does not modify its
// input, so calling it twice yields the same report. Every check runs even
// after an earlier one has failed.
func Validate(blocks []Block) Report {
	v := validator{blocks: blocks, ok: true}
	v.checkBlocksPresent()
	v.checkBlockNames()
	v.checkIDs()
	v.checkDuplicateIDs()
	v.assignNames()
	v.checkValue()
	v.checkLists()
	return Report{OK: v.ok, Diagnostics: v.diags, Params: v.params}
}

type lineRef struct {
	block int
	index int
}

type validator struct {
	blocks []Block
	ok     bool
	diags  []Diagnostic

	missingID map[lineRef]bool
	dropped   map[lineRef]bool
	params    []Param
}

func (v *validator) fail(subject, format string, args ...interface{}) {
	v.ok = false
	v.diags = append(v.diags, Diagnostic{Severity: SeverityError, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warn(subject, format string, args ...interface{}) {
	v.diags = append(v.diags, Diagnostic{Severity: SeverityWarning, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// 1. the blocks collection exists.
func (v *validator) checkBlocksPresent() {
	if v.blocks == nil {
		v.fail("", "no blocks declared")
	}
}

// 2. block names are non-empty, unique and free of the separator.
func (v *validator) checkBlockNames() {
	seen := make(map[string]bool, len(v.blocks))
	for i, b := range v.blocks {
		switch {
		case b.Name == "":
			v.fail(fmt.Sprintf("block %d", i+1), "block has no name")
		case strings.Contains(b.Name, Separator):
			v.fail(b.Name, "block name may not contain %q", Separator)
		}
		if b.Name != "" && seen[b.Name] {
			v.fail(b.Name, "block declared more than once")
		}
		seen[b.Name] = true
	}
}

// 3. every line has an id.
func (v *validator) checkIDs() {
	v.missingID = map[lineRef]bool{}
	for bi, b := range v.blocks {
		for li, l := range b.Lines {
			if l.ID == nil {
				v.missingID[lineRef{bi, li}] = true
				v.fail(lineSubject(b.Name, li, l), "line has no id")
			}
		}
	}
}

// 4. (block, id) pairs are unique; the first occurrence wins.
func (v *validator) checkDuplicateIDs() {
	v.dropped = map[lineRef]bool{}
	for bi, b := range v.blocks {
		seen := map[int]bool{}
		for li, l := range b.Lines {
			if l.ID == nil {
				continue
			}
			if seen[*l.ID] {
				v.dropped[lineRef{bi, li}] = true
				v.fail(lineSubject(b.Name, li, l), "duplicate id %d in block %s", *l.ID, b.Name)
				continue
			}
			seen[*l.ID] = true
		}
	}
}

// 5. parameter names are synthesised where missing and unique everywhere.
func (v *validator) assignNames() {
	taken := map[string]bool{}
	for bi, b := range v.blocks {
		for li, l := range b.Lines {
			ref := lineRef{bi, li}
			if v.missingID[ref] || v.dropped[ref] {
				continue
			}
			name := l.Parameter
			if name == "" {
				name = DefaultName(b.Name, *l.ID)
			}
			if taken[name] {
				renamed := uniqueName(name, taken)
				v.fail(lineSubject(b.Name, li, l), "parameter %q already in use, renamed to %q", name, renamed)
				name = renamed
			}
			taken[name] = true

			latex := l.Latex
			if latex == "" {
				latex = name
			}
			v.params = append(v.params, Param{Name: name, Block: b.Name, ID: *l.ID, Latex: latex, Line: l})
		}
	}
}

func uniqueName(name string, taken map[string]bool) string {
	for i := 1; ; i++ {
		candidate := name + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// 6. a fixed value parses as a number.
func (v *validator) checkValue() {
	for _, b := range v.blocks {
		for li, l := range b.Lines {
			if l.Value == nil {
				continue
			}
			if _, err := l.Value.Float(); err != nil {
				v.fail(lineSubject(b.Name, li, l), "value %q is not numeric: %v", *l.Value, err)
			}
		}
	}
}

// 7. list-valued sources are non-empty and well formed, and each line carries
// at most one value source.
func (v *validator) checkLists() {
	for _, b := range v.blocks {
		for li, l := range b.Lines {
			subject := lineSubject(b.Name, li, l)

			if src := l.sources(); len(src) > 1 {
				v.fail(subject, "line has more than one value source: %s", strings.Join(src, ", "))
			} else if len(src) == 0 {
				v.warn(subject, "line has no value and renders empty")
			}

			if l.Values != nil && len(l.Values) == 0 {
				v.fail(subject, "values must be a non-empty list")
			}
			for i, n := range l.Values {
				if _, err := n.Float(); err != nil {
					v.fail(subject, "values[%d] %q is not numeric", i, n)
				}
			}

			if l.Scan != nil {
				switch {
				case len(l.Scan) == 0:
					v.fail(subject, "scan must be a non-empty list")
				case len(l.Scan) < 2 || len(l.Scan) > 3:
					v.fail(subject, "scan takes [start, stop] or [start, stop, count], got %d elements", len(l.Scan))
				}
				if _, err := generatorFor(l.Distribution); err != nil {
					v.fail(subject, "%v", err)
				}
			}

			if l.Random != nil {
				if len(l.Random) != 2 {
					v.fail(subject, "random takes [low, high] or [mu, sigma], got %d elements", len(l.Random))
				}
				if _, err := samplerFor(l.Distribution); err != nil {
					v.fail(subject, "%v", err)
				}
			}

			if l.Expr != "" {
				bare := ReplacePlaceholders(l.Expr, func(string) string { return "0" })
				if _, err := expr.Compile(bare); err != nil {
					v.fail(subject, "expr: %v", err)
				}
			}
		}
	}
}
