package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// Functions returns the whitelist of callable functions. field(name) looks up
// a dotted name in vars, which is the only way to reach names whose segments
// are not valid identifiers.
func Functions(vars map[string]float64) map[string]function.Function {
	return map[string]function.Function{
		"abs":   stdlib.AbsoluteFunc,
		"ceil":  stdlib.CeilFunc,
		"floor": stdlib.FloorFunc,
		"min":   stdlib.MinFunc,
		"max":   stdlib.MaxFunc,
		"pow":   stdlib.PowFunc,
		"sqrt":  unary("sqrt", math.Sqrt),
		"exp":   unary("exp", math.Exp),
		"log":   unary("log", math.Log),
		"log10": unary("log10", math.Log10),
		"sin":   unary("sin", math.Sin),
		"cos":   unary("cos", math.Cos),
		"tan":   unary("tan", math.Tan),
		"field": lookup(vars),
	}
}

func unary(name string, f func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			y := f(x)
			if math.IsNaN(y) {
				return cty.UnknownVal(cty.Number), fmt.Errorf("%s(%g) is undefined", name, x)
			}
			return cty.NumberFloatVal(y), nil
		},
	})
}

func lookup(vars map[string]float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "name", Type: cty.String}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			name := args[0].AsString()
			v, ok := vars[name]
			if !ok {
				return cty.UnknownVal(cty.Number), fmt.Errorf("%w %q", ErrUnknownVariable, name)
			}
			if math.IsNaN(v) {
				return cty.UnknownVal(cty.Number), fmt.Errorf("field %q is not a number", name)
			}
			return cty.NumberFloatVal(v), nil
		},
	})
}

func hasRoot(vars map[string]float64, root string) bool {
	if _, ok := vars[root]; ok {
		return true
	}
	prefix := root + "."
	for name := range vars {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// node is one level of the dotted-name tree built from vars.
type node struct {
	leaf     *float64
	children map[string]*node
}

// scope nests dotted names into cty objects so that MINPAR.3 or
// MASS.values.25 resolve as attribute traversals. Where a name is both a
// value and a prefix of other names, the nested object wins and the value
// stays reachable through field().
func scope(vars map[string]float64) map[string]cty.Value {
	root := &node{children: map[string]*node{}}
	for name, v := range vars {
		if math.IsNaN(v) {
			continue
		}
		cur := root
		for _, part := range strings.Split(name, ".") {
			next, ok := cur.children[part]
			if !ok {
				next = &node{children: map[string]*node{}}
				cur.children[part] = next
			}
			cur = next
		}
		val := v
		cur.leaf = &val
	}

	out := make(map[string]cty.Value, len(root.children)+len(constants))
	for name, v := range constants {
		out[name] = cty.NumberFloatVal(v)
	}
	names := make([]string, 0, len(root.children))
	for name := range root.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = root.children[name].value()
	}
	return out
}

func (n *node) value() cty.Value {
	if len(n.children) == 0 {
		if n.leaf == nil {
			return cty.NullVal(cty.Number)
		}
		return cty.NumberFloatVal(*n.leaf)
	}
	attrs := make(map[string]cty.Value, len(n.children))
	for name, child := range n.children {
		attrs[name] = child.value()
	}
	return cty.ObjectVal(attrs)
}
