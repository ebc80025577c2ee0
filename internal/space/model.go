// Package space models the declared parameter space of a scan: blocks of
// lines, each line holding one kind of value source, plus the derived map
// from parameter name to owning line.
package space

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scanlha/internal/expr"
)

// Separator joins block names and ids in dotted lookups such as "MINPAR.3".
// Block names may not contain it.
const Separator = "."

// Number is a numeric scalar kept as its source text, so that arithmetic like
// "10**2" or "1e3" survives config decoding and is evaluated on demand.
type Number string

// Num formats f as a Number.
func Num(f float64) Number {
	return Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// Nums formats a slice of floats as Numbers.
func Nums(fs ...float64) []Number {
	out := make([]Number, len(fs))
	for i, f := range fs {
		out[i] = Num(f)
	}
	return out
}

// Float evaluates the number.
func (n Number) Float() (float64, error) {
	return expr.ParseNumber(string(n))
}

// UnmarshalYAML accepts any scalar.
func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number, got a %s", node.Line, nodeKind(node.Kind))
	}
	*n = Number(node.Value)
	return nil
}

// MarshalYAML emits the source text as a plain scalar.
func (n Number) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: string(n)}, nil
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// Kind identifies the value source carried by a Line.
type Kind int

const (
	KindNone      Kind = iota // no value; rendered empty
	KindFixed                 // value
	KindList                  // values
	KindRange                 // scan, expanded into values
	KindRandom                // random, drawn per point in sampling mode
	KindDependent             // expr, computed from other parameters per point
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindList:
		return "list"
	case KindRange:
		return "range"
	case KindRandom:
		return "random"
	case KindDependent:
		return "dependent"
	default:
		return "none"
	}
}

// Scanned reports whether lines of this kind are dimensions of an exhaustive
// scan.
func (k Kind) Scanned() bool {
	return k == KindList || k == KindRange
}

// Placeholder reports whether lines of this kind are substituted per point
// rather than rendered as a literal.
func (k Kind) Placeholder() bool {
	return k == KindList || k == KindRange || k == KindRandom || k == KindDependent
}

// Line is one entry of a block.
type Line struct {
	ID        *int    `yaml:"id,omitempty"`
	Parameter string  `yaml:"parameter,omitempty"`
	Value     *Number `yaml:"value,omitempty"`

	// Values is the explicit candidate list. For scan lines it holds the
	// expanded sequence.
	Values []Number `yaml:"values,omitempty"`

	// Scan is [start, stop] or [start, stop, count-or-step].
	Scan         []Number `yaml:"scan,omitempty"`
	Distribution string   `yaml:"distribution,omitempty"`

	// Random is [low, high] for uniform or [mu, sigma] for normal draws.
	Random []Number `yaml:"random,omitempty"`

	// Expr makes the line dependent on other parameters.
	Expr string `yaml:"expr,omitempty"`

	Comment string `yaml:"comment,omitempty"`
	Latex   string `yaml:"latex,omitempty"`

	// Argument marks the line as settable from the command line.
	Argument bool `yaml:"argument,omitempty"`
}

// IntPtr returns a pointer to id, for building lines in code.
func IntPtr(id int) *int {
	return &id
}

// Kind returns the line's value source. When several are present the most
// specific wins; Validate reports the conflict.
func (l Line) Kind() Kind {
	switch {
	case l.Expr != "":
		return KindDependent
	case l.Random != nil:
		return KindRandom
	case l.Scan != nil:
		return KindRange
	case l.Values != nil:
		return KindList
	case l.Value != nil:
		return KindFixed
	default:
		return KindNone
	}
}

// sources lists the value-source fields present on the line. Values derived
// from a scan descriptor do not count separately.
func (l Line) sources() []string {
	var out []string
	if l.Value != nil {
		out = append(out, "value")
	}
	if l.Values != nil && l.Scan == nil {
		out = append(out, "values")
	}
	if l.Scan != nil {
		out = append(out, "scan")
	}
	if l.Random != nil {
		out = append(out, "random")
	}
	if l.Expr != "" {
		out = append(out, "expr")
	}
	return out
}

// Candidates returns the concrete values a fixed, list or expanded range line
// can take.
func (l Line) Candidates() ([]float64, error) {
	switch l.Kind() {
	case KindFixed:
		v, err := l.Value.Float()
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", *l.Value, err)
		}
		return []float64{v}, nil
	case KindList, KindRange:
		if len(l.Values) == 0 {
			return nil, fmt.Errorf("no candidate values")
		}
		out := make([]float64, len(l.Values))
		for i, n := range l.Values {
			v, err := n.Float()
			if err != nil {
				return nil, fmt.Errorf("values[%d] %q: %w", i, n, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s line has no candidate values", l.Kind())
	}
}

func (l Line) clone() Line {
	c := l
	if l.ID != nil {
		c.ID = IntPtr(*l.ID)
	}
	if l.Value != nil {
		v := *l.Value
		c.Value = &v
	}
	c.Values = cloneNumbers(l.Values)
	c.Scan = cloneNumbers(l.Scan)
	c.Random = cloneNumbers(l.Random)
	return c
}

func cloneNumbers(ns []Number) []Number {
	if ns == nil {
		return nil
	}
	return append([]Number{}, ns...)
}

// Block is a named group of lines.
type Block struct {
	Name  string `yaml:"block"`
	Lines []Line `yaml:"lines"`
}

func (b Block) clone() Block {
	c := Block{Name: b.Name}
	if b.Lines != nil {
		c.Lines = make([]Line, len(b.Lines))
		for i, l := range b.Lines {
			c.Lines[i] = l.clone()
		}
	}
	return c
}

// DefaultName is the parameter name synthesised for a line without one.
func DefaultName(block string, id int) string {
	return block + Separator + strconv.Itoa(id)
}

// Param is an entry of the derived parameter map.
type Param struct {
	Name  string
	Block string
	ID    int
	Latex string
	Line  Line
}

// Kind is shorthand for p.Line.Kind().
func (p Param) Kind() Kind {
	return p.Line.Kind()
}

// Severity grades a Diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Diagnostic is one finding from validation or scan expansion.
type Diagnostic struct {
	Severity Severity
	Subject  string
	Message  string
}

func (d Diagnostic) String() string {
	if d.Subject == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Subject, d.Message)
}

func lineSubject(block string, index int, l Line) string {
	if l.ID != nil {
		return DefaultName(block, *l.ID)
	}
	return fmt.Sprintf("%s[line %d]", block, index+1)
}
