package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected float64
	}{
		{"integer", "5", 5},
		{"float", " 2.5 ", 2.5},
		{"exponent", "1e3", 1000},
		{"negative_exponent", "-1.5E-2", -0.015},
		{"power", "10**2", 100},
		{"power_chain", "2**3**2", 512},
		{"power_of_group", "(1+1)**3", 8},
		{"negated_power", "-2**2", -4},
		{"arithmetic", "2*3+1", 7},
		{"constant", "2*pi", 2 * math.Pi},
		{"function", "sqrt(16)", 4},
		{"power_of_call", "sqrt(4)**3", 8},
		{"nested_functions", "max(1, pow(2, 3), 5)", 8},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseNumber(tc.input)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-12)
		})
	}
}

func TestParseNumberRejects(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "abc def"},
		{"unknown_variable", "x + 1"},
		{"unknown_function", "system(1)"},
		{"list", "[1, 2]"},
		{"object", "{a = 1}"},
		{"interpolation", `"${1}"`},
		{"string_result", `"hello"`},
		{"sqrt_negative", "sqrt(-1)"},
		{"dangling_power", "2**"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseNumber(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestExpressionVariables(t *testing.T) {
	vars := map[string]float64{
		"TanBeta":        10,
		"At":             -500,
		"MINPAR.3":       10,
		"MASS.values.25": 125.1,
	}

	testCases := []struct {
		name     string
		src      string
		expected float64
	}{
		{"plain_name", "2*TanBeta", 20},
		{"two_names", "At/TanBeta", -50},
		{"dotted_name", "MINPAR.3 + 1", 11},
		{"field_lookup", `field("MASS.values.25")`, 125.1},
		{"power_of_name", "TanBeta**2", 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MustCompile(tc.src).Number(vars)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestExpressionUnknownVariable(t *testing.T) {
	_, err := MustCompile("Missing * 2").Number(map[string]float64{"TanBeta": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownVariable))

	_, err = MustCompile(`field("MASS.values.36")`).Number(map[string]float64{"MASS.values.25": 1})
	assert.Error(t, err)
}

func TestExpressionBool(t *testing.T) {
	vars := map[string]float64{"MASS.values.25": 125.1, "TanBeta": 3}

	ok, err := MustCompile(`field("MASS.values.25") > 120 && TanBeta < 5`).Bool(vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MustCompile(`field("MASS.values.25") > 130`).Bool(vars)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = MustCompile("TanBeta + 1").Bool(vars)
	assert.True(t, errors.Is(err, ErrNotBoolean))

	_, err = MustCompile("TanBeta > 1").Number(vars)
	assert.True(t, errors.Is(err, ErrNotNumeric))
}

func TestRewritePow(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"10**2", "pow(10, 2)"},
		{"a**b**c", "pow(a, pow(b, c))"},
		{"1 + x ** -2", "1 + pow(x, -2)"},
		{"(a+b)**2", "pow((a+b), 2)"},
		{"no power", "no power"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := rewritePow(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestSubtractionFromName(t *testing.T) {
	vars := map[string]float64{"TanBeta": 3, "mh": 125.5, "MINPAR.3": 10}

	testCases := []struct {
		src      string
		expected float64
	}{
		{"TanBeta-1", 2},
		{"2*TanBeta-1", 5},
		{"TanBeta-TanBeta", 0},
		{"MINPAR.3-1", 9},
		{"TanBeta-1e-3", 2.999},
		{"TanBeta**2-1", 8},
		{"max(TanBeta-1, 1)", 2},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			got, err := Eval(tc.src, vars)
			if err != nil {
				t.Fatalf("Eval(%q) returned error: %v", tc.src, err)
			}
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("Eval(%q) = %v, want %v", tc.src, got, tc.expected)
			}
		})
	}

	ok, err := MustCompile("mh-125 > 0").Bool(vars)
	if err != nil {
		t.Fatalf("Bool returned error: %v", err)
	}
	if !ok {
		t.Errorf("mh-125 > 0 should hold for mh = %v", vars["mh"])
	}
}

func TestSplitMinus(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"a-1", "a - 1"},
		{"1e-3", "1e-3"},
		{"2.5E-2-x", "2.5E-2-x"},
		{"x_2-y", "x_2 - y"},
		{"MINPAR.3-1", "MINPAR.3 - 1"},
		{`field("A-B")-1`, `field("A-B")-1`},
		{`x-field("A-B")`, `x - field("A-B")`},
		{"-a", "-a"},
		{"(a)-b", "(a)-b"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := splitMinus(tc.input); got != tc.expected {
				t.Errorf("splitMinus(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}
