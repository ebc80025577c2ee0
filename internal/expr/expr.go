// Package expr evaluates the restricted arithmetic language used by scan
// descriptors, dependent lines and output constraints.
//
// Expressions are parsed with the HCL native syntax and may only use numeric
// literals, arithmetic and comparison operators, parameter names and the
// functions listed in Functions. Python-style "a**b" is accepted and rewritten
// to pow(a, b) before parsing, and "a-1" is read as a subtraction.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrUnknownVariable is returned when an expression names a parameter or
	// output field that is not in scope.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrNotNumeric is returned when an expression does not produce a number.
	ErrNotNumeric = errors.New("expression is not numeric")
	// ErrNotBoolean is returned when a predicate does not produce true or false.
	ErrNotBoolean = errors.New("expression is not boolean")
)

// Expression is a compiled, reusable expression.
type Expression struct {
	src    string
	expr   hclsyntax.Expression
	fields []string
}

// Compile parses src and rejects any construct outside the arithmetic subset.
func Compile(src string) (*Expression, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, errors.New("empty expression")
	}

	rewritten, err := rewritePow(splitMinus(trimmed))
	if err != nil {
		return nil, err
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(rewritten), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", src, diags.Error())
	}
	if diags := hclsyntax.VisitAll(parsed, restrict); diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", src, diags.Error())
	}

	return &Expression{src: src, expr: parsed, fields: fieldRefs(parsed)}, nil
}

// fieldRefs collects the literal names passed to field() so that missing
// fields are reported as ErrUnknownVariable before evaluation.
func fieldRefs(e hclsyntax.Expression) []string {
	var names []string
	hclsyntax.VisitAll(e, func(node hclsyntax.Node) hcl.Diagnostics {
		call, ok := node.(*hclsyntax.FunctionCallExpr)
		if !ok || call.Name != "field" || len(call.Args) != 1 {
			return nil
		}
		tmpl, ok := call.Args[0].(*hclsyntax.TemplateExpr)
		if !ok || !tmpl.IsStringLiteral() {
			return nil
		}
		v, diags := tmpl.Value(nil)
		if diags.HasErrors() || v.Type() != cty.String {
			return nil
		}
		names = append(names, v.AsString())
		return nil
	})
	return names
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level constants.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text the expression was compiled from.
func (e *Expression) String() string {
	return e.src
}

// Number evaluates the expression with vars in scope and returns its value.
func (e *Expression) Number(vars map[string]float64) (float64, error) {
	v, err := e.eval(vars)
	if err != nil {
		return 0, err
	}
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("%q: %w (got %s)", e.src, ErrNotNumeric, v.Type().FriendlyName())
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}

// Bool evaluates the expression as a predicate.
func (e *Expression) Bool(vars map[string]float64) (bool, error) {
	v, err := e.eval(vars)
	if err != nil {
		return false, err
	}
	if v.Type() != cty.Bool {
		return false, fmt.Errorf("%q: %w (got %s)", e.src, ErrNotBoolean, v.Type().FriendlyName())
	}
	return v.True(), nil
}

// Missing returns the names the expression references that are neither in
// vars nor built-in constants.
func (e *Expression) Missing(vars map[string]float64) []string {
	var names []string
	for _, traversal := range e.expr.Variables() {
		name := traversal.RootName()
		if _, ok := constants[name]; ok {
			continue
		}
		if !hasRoot(vars, name) {
			names = append(names, name)
		}
	}
	for _, name := range e.fields {
		if _, ok := vars[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

func (e *Expression) eval(vars map[string]float64) (cty.Value, error) {
	if missing := e.Missing(vars); len(missing) > 0 {
		return cty.NilVal, fmt.Errorf("%q: %w %q", e.src, ErrUnknownVariable, missing[0])
	}

	ctx := &hcl.EvalContext{
		Variables: scope(vars),
		Functions: Functions(vars),
	}
	v, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluate %q: %s", e.src, diags.Error())
	}
	if !v.IsKnown() || v.IsNull() {
		return cty.NilVal, fmt.Errorf("evaluate %q: no value", e.src)
	}
	return v, nil
}

// Eval compiles and evaluates src in one step.
func Eval(src string, vars map[string]float64) (float64, error) {
	e, err := Compile(src)
	if err != nil {
		return 0, err
	}
	return e.Number(vars)
}

// ParseNumber converts a scalar from a config file into a number. Plain
// numerals take the fast path; anything else ("10**2", "2*pi") is evaluated
// with no parameters in scope.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return Eval(s, nil)
}

// restrict rejects HCL constructs that are not part of the arithmetic subset.
func restrict(node hclsyntax.Node) hcl.Diagnostics {
	var what string
	switch n := node.(type) {
	case *hclsyntax.ForExpr:
		what = "for expressions"
	case *hclsyntax.SplatExpr:
		what = "splat expressions"
	case *hclsyntax.TupleConsExpr:
		what = "lists"
	case *hclsyntax.ObjectConsExpr:
		what = "objects"
	case *hclsyntax.IndexExpr:
		what = "index expressions"
	case *hclsyntax.RelativeTraversalExpr:
		what = "attribute access on results"
	case *hclsyntax.TemplateWrapExpr, *hclsyntax.TemplateJoinExpr:
		what = "string interpolation"
	case *hclsyntax.TemplateExpr:
		if !n.IsStringLiteral() {
			what = "string interpolation"
		}
	}
	if what == "" {
		return nil
	}
	rng := node.Range()
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  "Unsupported expression",
		Detail:   what + " are not allowed",
		Subject:  &rng,
	}}
}
