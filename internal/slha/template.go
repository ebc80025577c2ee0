// Package slha renders scan templates in the SUSY Les Houches Accord format,
// instantiates them for one scan point and parses simulator output.
package slha

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/scanlha/internal/expr"
	"github.com/banshee-data/scanlha/internal/space"
)

// ErrUnresolvableSubstitution is returned when dependent parameters do not
// reach a fixed point, usually because they reference each other.
var ErrUnresolvableSubstitution = errors.New("unresolvable substitution")

// Dependent is a parameter computed from others for every scan point.
type Dependent struct {
	Name string
	Expr string
}

// Template is a rendered input file with placeholders, plus the dependent
// parameters its placeholders may refer to.
type Template struct {
	Text       string
	Dependents []Dependent
}

// NewTemplate renders the current declarations of sp.
func NewTemplate(sp *space.Space) Template {
	var deps []Dependent
	for _, p := range sp.ParamsOfKind(space.KindDependent) {
		deps = append(deps, Dependent{Name: p.Name, Expr: p.Line.Expr})
	}
	return Template{Text: Render(sp.Blocks()), Dependents: deps}
}

// Render emits one BLOCK header per block and one record per line. Lines whose
// value varies per point get a placeholder bound to their parameter name.
// Missing fields render empty.
func Render(blocks []space.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		fmt.Fprintf(&sb, "BLOCK %s\n", b.Name)
		for _, l := range b.Lines {
			id := ""
			if l.ID != nil {
				id = strconv.Itoa(*l.ID)
			}
			name := l.Parameter
			if name == "" && l.ID != nil {
				name = space.DefaultName(b.Name, *l.ID)
			}

			value := ""
			switch {
			case l.Kind().Placeholder():
				value = space.Placeholder(name)
			case l.Value != nil:
				value = literal(*l.Value)
			}

			record := fmt.Sprintf(" %s %s # %s %s", id, value, name, l.Comment)
			sb.WriteString(strings.TrimRight(record, " "))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// literal evaluates arithmetic in a fixed value so the simulator only ever
// sees numerals.
func literal(n space.Number) string {
	f, err := n.Float()
	if err != nil {
		return string(n)
	}
	return FormatValue(f)
}

// FormatValue formats a parameter value as a plain decimal or exponential
// numeral.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Resolve computes the dependent parameters for one point. Each pass resolves
// every dependent whose references are known; the pass bound is one more than
// the number of dependents. A dependent that references a name no parameter
// or dependent provides fails with expr.ErrUnknownVariable; dependents that
// only wait on each other fail with ErrUnresolvableSubstitution.
func Resolve(deps []Dependent, a space.Assignment) (space.Assignment, error) {
	values := a.Clone()
	pending := append([]Dependent{}, deps...)
	waiting := map[string][]string{}

	for pass := 0; pass <= len(deps) && len(pending) > 0; pass++ {
		var next []Dependent
		for _, d := range pending {
			var refs []string
			src := space.ReplacePlaceholders(d.Expr, func(name string) string {
				v, ok := values[name]
				if !ok {
					refs = append(refs, name)
					return space.Placeholder(name)
				}
				return "(" + FormatValue(v) + ")"
			})
			if len(refs) > 0 {
				waiting[d.Name] = refs
				next = append(next, d)
				continue
			}

			e, err := expr.Compile(src)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Name, err)
			}
			if missing := e.Missing(values); len(missing) > 0 {
				waiting[d.Name] = missing
				next = append(next, d)
				continue
			}
			v, err := e.Number(values)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Name, err)
			}
			values[d.Name] = v
			delete(waiting, d.Name)
		}
		if len(next) == len(pending) {
			pending = next
			break
		}
		pending = next
	}

	if len(pending) == 0 {
		return values, nil
	}

	unresolved := make(map[string]bool, len(pending))
	names := make([]string, len(pending))
	for i, d := range pending {
		unresolved[d.Name] = true
		names[i] = d.Name
	}
	for _, d := range pending {
		for _, ref := range waiting[d.Name] {
			if !unresolved[ref] {
				return nil, fmt.Errorf("%s: %w %q", d.Name, expr.ErrUnknownVariable, ref)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvableSubstitution, strings.Join(names, ", "))
}

// Instantiate resolves dependents and substitutes every placeholder with its
// value. A placeholder without a value becomes empty and is reported as a
// warning. The returned assignment includes the resolved dependents.
func Instantiate(tpl Template, a space.Assignment) (string, space.Assignment, []space.Diagnostic, error) {
	values, err := Resolve(tpl.Dependents, a)
	if err != nil {
		return "", nil, nil, err
	}

	var diags []space.Diagnostic
	missing := map[string]bool{}
	text := space.ReplacePlaceholders(tpl.Text, func(name string) string {
		v, ok := values[name]
		if !ok {
			if !missing[name] {
				missing[name] = true
				diags = append(diags, space.Diagnostic{
					Severity: space.SeverityWarning,
					Subject:  name,
					Message:  "placeholder has no value in the assignment",
				})
			}
			return ""
		}
		return FormatValue(v)
	})
	return text, values, diags, nil
}
