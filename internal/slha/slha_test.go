package slha

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlha/internal/expr"
	"github.com/banshee-data/scanlha/internal/monitoring"
	"github.com/banshee-data/scanlha/internal/space"
)

func init() {
	monitoring.SetLogger(nil)
}

func num(s string) *space.Number {
	n := space.Number(s)
	return &n
}

func scanSpace() *space.Space {
	return space.New([]space.Block{
		{Name: "MODSEL", Lines: []space.Line{
			{ID: space.IntPtr(1), Value: num("1"), Comment: "sugra"},
		}},
		{Name: "MINPAR", Lines: []space.Line{
			{ID: space.IntPtr(1), Parameter: "M0", Values: space.Nums(100, 200)},
			{ID: space.IntPtr(3), Parameter: "TanBeta", Scan: []space.Number{"1", "5", "5"}},
			{ID: space.IntPtr(5), Parameter: "A0", Expr: "-2*{%M0%}"},
			{ID: space.IntPtr(6), Parameter: "Scale", Value: num("10**3")},
		}},
	}, 0)
}

func TestRender(t *testing.T) {
	sp := scanSpace()
	require.True(t, sp.Valid(), "%v", sp.Diagnostics())

	tpl := NewTemplate(sp)
	expected := strings.Join([]string{
		"BLOCK MODSEL",
		" 1 1 # MODSEL.1 sugra",
		"BLOCK MINPAR",
		" 1 {%M0%} # M0",
		" 3 {%TanBeta%} # TanBeta",
		" 5 {%A0%} # A0",
		" 6 1000 # Scale",
		"",
	}, "\n")
	assert.Equal(t, expected, tpl.Text)
	assert.Equal(t, []Dependent{{Name: "A0", Expr: "-2*{%M0%}"}}, tpl.Dependents)
}

func TestRenderMissingFieldsAreEmpty(t *testing.T) {
	out := Render([]space.Block{{Name: "X", Lines: []space.Line{{}}}})
	assert.Equal(t, "BLOCK X\n   #\n", out)
}

func TestInstantiateRoundTrip(t *testing.T) {
	sp := scanSpace()
	tpl := NewTemplate(sp)

	text, values, diags, err := Instantiate(tpl, space.Assignment{"M0": 200, "TanBeta": 3, "MODSEL.1": 1, "Scale": 1000})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.NotContains(t, text, "{%")
	assert.Contains(t, text, " 1 200 # M0")
	assert.Contains(t, text, " 5 -400 # A0")
	assert.Equal(t, -400.0, values["A0"])

	doc, err := Parse(strings.NewReader(text), nil)
	require.NoError(t, err)
	flat := doc.Flatten()
	assert.Equal(t, 3.0, flat["MINPAR.values.3"])
	assert.Equal(t, -400.0, flat["MINPAR.values.5"])
}

func TestInstantiateMissingPlaceholderWarns(t *testing.T) {
	tpl := Template{Text: "BLOCK A\n 1 {%x%} # x\n 2 {%y%} # y\n 3 {%y%} # y\n"}
	text, _, diags, err := Instantiate(tpl, space.Assignment{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, "BLOCK A\n 1 2 # x\n 2  # y\n 3  # y\n", text)
	require.Len(t, diags, 1)
	assert.Equal(t, space.SeverityWarning, diags[0].Severity)
	assert.Equal(t, "y", diags[0].Subject)
}

func TestResolveChains(t *testing.T) {
	deps := []Dependent{
		{Name: "c", Expr: "{%b%} + 1"},
		{Name: "b", Expr: "a * 2"},
	}
	values, err := Resolve(deps, space.Assignment{"a": 3})
	require.NoError(t, err)
	assert.Equal(t, 6.0, values["b"])
	assert.Equal(t, 7.0, values["c"])
}

func TestResolveDetectsCycles(t *testing.T) {
	testCases := []struct {
		name string
		deps []Dependent
	}{
		{"self", []Dependent{{Name: "x", Expr: "{%x%} + 1"}}},
		{"pair", []Dependent{{Name: "x", Expr: "{%y%}"}, {Name: "y", Expr: "{%x%}"}}},
		{"bare_names", []Dependent{{Name: "x", Expr: "y + 1"}, {Name: "y", Expr: "x-1"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.deps, space.Assignment{"a": 1})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnresolvableSubstitution))
		})
	}
}

func TestResolveSubtractsFromBareName(t *testing.T) {
	deps := []Dependent{
		{Name: "M2", Expr: "TanBeta-1"},
		{Name: "M3", Expr: "2*M2-TanBeta"},
	}
	values, err := Resolve(deps, space.Assignment{"TanBeta": 3})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if values["M2"] != 2 {
		t.Errorf("M2 = %v, want 2", values["M2"])
	}
	if values["M3"] != 1 {
		t.Errorf("M3 = %v, want 1", values["M3"])
	}
}

func TestResolveReportsUnknownNames(t *testing.T) {
	testCases := []struct {
		name    string
		deps    []Dependent
		missing string
	}{
		{"placeholder", []Dependent{{Name: "x", Expr: "{%nowhere%} * 2"}}, "nowhere"},
		{"bare_name", []Dependent{{Name: "x", Expr: "TanBta * 2"}}, "TanBta"},
		{"behind_dependent", []Dependent{
			{Name: "x", Expr: "{%y%} + 1"},
			{Name: "y", Expr: "Typo + 1"},
		}, "Typo"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.deps, space.Assignment{"TanBeta": 1})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, expr.ErrUnknownVariable) {
				t.Errorf("error %v does not wrap expr.ErrUnknownVariable", err)
			}
			if errors.Is(err, ErrUnresolvableSubstitution) {
				t.Errorf("error %v reported as a cycle", err)
			}
			if !strings.Contains(err.Error(), tc.missing) {
				t.Errorf("error %v does not name %q", err, tc.missing)
			}
		})
	}
}

func TestResolveEvaluationError(t *testing.T) {
	_, err := Resolve([]Dependent{{Name: "x", Expr: "sqrt(-{%a%})"}}, space.Assignment{"a": 1})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnresolvableSubstitution))
}

const spectrum = `# SUSY Les Houches Accord output
Block SPINFO   # Program information
     1   SPheno      # spectrum calculator
     2   v4.0.5      # version number
Block MINPAR  # Input parameters
    1    1.000000E+02  # m0
    3    1.000000D+01  # tanb
Block MASS  # Mass spectrum
   25     1.25090000E+02   # h0
   1000022   9.7E+01   # chi_10
Block NMIX Q=  1.0E+03 # neutralino mixing
  1  1     9.9E-01   # N_11
  1  2    -1.2E-02   # N_12
Block ALPHA   # Effective Higgs mixing angle
     -1.1E-01   # alpha
DECAY   25     4.1E-03   # h0 decays
     5.8E-01    2           5        -5   # BR(h0 -> b bbar)
     2.1E-01    2          24       -24   # BR(h0 -> W+ W-)
`

func TestParseSelectedBlocks(t *testing.T) {
	doc, err := Parse(strings.NewReader(spectrum), []string{"mass", "NMIX", "alpha", "DECAY"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA", "DECAY", "MASS", "NMIX"}, doc.Names())

	flat := doc.Flatten()
	assert.Equal(t, map[string]float64{
		"MASS.values.25":         125.09,
		"MASS.values.1000022":    97,
		"NMIX.Q":                 1000,
		"NMIX.values.1.1":        0.99,
		"NMIX.values.1.2":        -0.012,
		"ALPHA.values":           -0.11,
		"DECAY.values.25.width":  0.0041,
		"DECAY.values.25.5.-5":   0.58,
		"DECAY.values.25.24.-24": 0.21,
	}, flat)
}

func TestParseAllBlocks(t *testing.T) {
	doc, err := Parse(strings.NewReader(spectrum), nil)
	require.NoError(t, err)
	flat := doc.Flatten()
	assert.Equal(t, 10.0, flat["MINPAR.values.3"])
	_, found := flat["SPINFO.values.1"]
	assert.False(t, found, "textual entries are skipped")
	assert.Contains(t, doc.Names(), "SPINFO")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("  25 125.0\n"), nil)
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("BLOCK\n"), nil)
	assert.Error(t, err)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.slha"), nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.slha")
	require.NoError(t, os.WriteFile(path, []byte(spectrum), 0o644))

	doc, err := ParseFile(path, []string{"MASS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MASS"}, doc.Names())
}
