package space

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultDistribution is used when a scan line names none.
const DefaultDistribution = "linear"

// maxValues caps the number of values one scan descriptor may generate.
const maxValues = 100000

// distribution turns (start, stop, third) into a sequence. third is a count
// for the spacing and random generators and a step for arange.
type distribution struct {
	third    float64 // default when the descriptor has two elements
	generate func(start, stop, third float64, rng *rand.Rand) ([]float64, error)
}

var distributions = map[string]distribution{
	"linear":  {third: 50, generate: linear},
	"log":     {third: 50, generate: logspace},
	"geom":    {third: 50, generate: geomspace},
	"arange":  {third: 1, generate: arange},
	"uniform": {third: 1, generate: uniformDraws},
	"normal":  {third: 1, generate: normalDraws},
}

func generatorFor(name string) (distribution, error) {
	if name == "" {
		name = DefaultDistribution
	}
	d, ok := distributions[name]
	if !ok {
		return distribution{}, fmt.Errorf("unknown distribution %q", name)
	}
	return d, nil
}

// ExpandDescriptor evaluates a scan descriptor's elements and generates its
// value sequence.
func ExpandDescriptor(desc []Number, dist string, rng *rand.Rand) ([]float64, error) {
	if len(desc) < 2 || len(desc) > 3 {
		return nil, fmt.Errorf("scan takes [start, stop] or [start, stop, count], got %d elements", len(desc))
	}
	d, err := generatorFor(dist)
	if err != nil {
		return nil, err
	}

	args := []float64{0, 0, d.third}
	for i, n := range desc {
		v, err := n.Float()
		if err != nil {
			return nil, fmt.Errorf("scan[%d] %q: %w", i, n, err)
		}
		args[i] = v
	}
	return d.generate(args[0], args[1], args[2], rng)
}

func count(n float64) (int, error) {
	if n != math.Trunc(n) || n < 1 {
		return 0, fmt.Errorf("count must be a positive integer, got %g", n)
	}
	if n > maxValues {
		return 0, fmt.Errorf("count %g exceeds limit of %d values", n, maxValues)
	}
	return int(n), nil
}

// linear spaces n points evenly from start to stop, both included.
func linear(start, stop, n float64, _ *rand.Rand) ([]float64, error) {
	c, err := count(n)
	if err != nil {
		return nil, err
	}
	if c == 1 {
		return []float64{start}, nil
	}
	return floats.Span(make([]float64, c), start, stop), nil
}

// logspace spaces n points evenly in the exponent, from 10^start to 10^stop.
func logspace(start, stop, n float64, rng *rand.Rand) ([]float64, error) {
	exps, err := linear(start, stop, n, rng)
	if err != nil {
		return nil, err
	}
	for i, e := range exps {
		exps[i] = math.Pow(10, e)
	}
	return exps, nil
}

// geomspace spaces n points geometrically from start to stop.
func geomspace(start, stop, n float64, _ *rand.Rand) ([]float64, error) {
	c, err := count(n)
	if err != nil {
		return nil, err
	}
	if start == 0 || stop == 0 || (start < 0) != (stop < 0) {
		return nil, fmt.Errorf("geometric range needs non-zero bounds of the same sign, got %g and %g", start, stop)
	}
	if c == 1 {
		return []float64{start}, nil
	}
	sign := 1.0
	if start < 0 {
		sign = -1
	}
	out := floats.LogSpan(make([]float64, c), sign*start, sign*stop)
	floats.Scale(sign, out)
	out[0], out[c-1] = start, stop
	return out, nil
}

// arange steps from start towards stop, excluding stop.
func arange(start, stop, step float64, _ *rand.Rand) ([]float64, error) {
	if step == 0 {
		return nil, fmt.Errorf("step must be non-zero")
	}
	n := math.Ceil((stop - start) / step)
	if n <= 0 {
		return nil, fmt.Errorf("empty range from %g to %g with step %g", start, stop, step)
	}
	if n > maxValues {
		return nil, fmt.Errorf("range would generate %g values, limit is %d", n, maxValues)
	}
	out := make([]float64, int(n))
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}

func uniformDraws(low, high, n float64, rng *rand.Rand) ([]float64, error) {
	return draws(n, rng, distuv.Uniform{Min: low, Max: high}.Quantile)
}

func normalDraws(mu, sigma, n float64, rng *rand.Rand) ([]float64, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("normal distribution needs a positive sigma, got %g", sigma)
	}
	return draws(n, rng, distuv.Normal{Mu: mu, Sigma: sigma}.Quantile)
}

func draws(n float64, rng *rand.Rand, quantile func(float64) float64) ([]float64, error) {
	c, err := count(n)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random distribution needs a seeded source")
	}
	out := make([]float64, c)
	for i := range out {
		out[i] = quantile(openUnit(rng))
	}
	return out, nil
}

// openUnit draws from (0, 1) so that unbounded quantile functions stay finite.
func openUnit(rng *rand.Rand) float64 {
	for {
		if p := rng.Float64(); p > 0 {
			return p
		}
	}
}

// Sampler draws one value for a random line.
type Sampler func(a, b float64, rng *rand.Rand) float64

func samplerFor(name string) (Sampler, error) {
	switch name {
	case "", "uniform":
		return func(low, high float64, rng *rand.Rand) float64 {
			return distuv.Uniform{Min: low, Max: high}.Quantile(openUnit(rng))
		}, nil
	case "normal":
		return func(mu, sigma float64, rng *rand.Rand) float64 {
			return distuv.Normal{Mu: mu, Sigma: sigma}.Quantile(openUnit(rng))
		}, nil
	default:
		return nil, fmt.Errorf("unknown random distribution %q", name)
	}
}

// ParseOverride parses a command-line value list into a line carrying only a
// value source. "a,b,c" is an explicit list; "start:stop[:count[:distribution]]"
// is a scan descriptor.
func ParseOverride(s string) (Line, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Line{}, fmt.Errorf("empty value list")
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 4 {
			return Line{}, fmt.Errorf("invalid range format %q: expected start:stop[:count[:distribution]]", s)
		}
		var l Line
		if len(parts) == 4 {
			l.Distribution = strings.TrimSpace(parts[3])
			parts = parts[:3]
		}
		for _, p := range parts {
			l.Scan = append(l.Scan, Number(strings.TrimSpace(p)))
		}
		return l, nil
	}

	var l Line
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := Number(p).Float(); err != nil {
			return Line{}, fmt.Errorf("invalid value %q: %w", p, err)
		}
		l.Values = append(l.Values, Number(p))
	}
	if len(l.Values) == 0 {
		return Line{}, fmt.Errorf("empty value list")
	}
	return l, nil
}
