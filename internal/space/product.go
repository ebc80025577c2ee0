package space

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// MaxAssignments caps the size of an exhaustive scan.
const MaxAssignments = 10_000_000

// Assignment maps parameter names to the values of one scan point.
type Assignment map[string]float64

// Clone returns a copy of a.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Names returns the parameter names of a in sorted order.
func (a Assignment) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Dimension is one scanned parameter with its candidate values.
type Dimension struct {
	Name   string
	Values []float64
}

// Dimensions returns the scanned parameters in declaration order.
func (s *Space) Dimensions() ([]Dimension, error) {
	var dims []Dimension
	for _, p := range s.report.Params {
		if !p.Kind().Scanned() {
			continue
		}
		vals, err := p.Line.Candidates()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		dims = append(dims, Dimension{Name: p.Name, Values: vals})
	}
	return dims, nil
}

// Fixed returns the values of all fixed-value parameters.
func (s *Space) Fixed() (Assignment, error) {
	out := Assignment{}
	for _, p := range s.report.Params {
		if p.Kind() != KindFixed {
			continue
		}
		v, err := p.Line.Value.Float()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}

// ParamsOfKind returns the parameters whose lines carry kind k.
func (s *Space) ParamsOfKind(k Kind) []Param {
	var out []Param
	for _, p := range s.report.Params {
		if p.Kind() == k {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of points in the Cartesian product of dims.
func Count(dims []Dimension) (int, error) {
	total := 1
	for _, d := range dims {
		if len(d.Values) == 0 {
			return 0, fmt.Errorf("%s has no candidate values", d.Name)
		}
		total *= len(d.Values)
		if total > MaxAssignments || total < 0 {
			return 0, fmt.Errorf("parameter combinations would exceed safe limit of %d", MaxAssignments)
		}
	}
	return total, nil
}

// Product expands dims into the ordered Cartesian product, merging fixed into
// every point. Dimensions nest in declaration order with the last one varying
// fastest.
func Product(dims []Dimension, fixed Assignment) ([]Assignment, error) {
	total, err := Count(dims)
	if err != nil {
		return nil, err
	}

	result := make([]Assignment, total)
	for i := range result {
		a := make(Assignment, len(dims)+len(fixed))
		for k, v := range fixed {
			a[k] = v
		}
		result[i] = a
	}

	repeat := 1
	for dim := len(dims) - 1; dim >= 0; dim-- {
		vals := dims[dim].Values
		cycle := len(vals)
		for i := 0; i < total; i++ {
			result[i][dims[dim].Name] = vals[(i/repeat)%cycle]
		}
		repeat *= cycle
	}
	return result, nil
}

// Draw produces one random point.
type Draw func(rng *rand.Rand) Assignment

// Sampler returns a Draw that picks, per point, a uniform choice among the
// candidates of every list or range parameter and a fresh draw from every
// random parameter's distribution. Fixed parameters are copied in.
func (s *Space) Sampler() (Draw, error) {
	fixed, err := s.Fixed()
	if err != nil {
		return nil, err
	}
	dims, err := s.Dimensions()
	if err != nil {
		return nil, err
	}

	type randomParam struct {
		name   string
		a, b   float64
		sample Sampler
	}
	var randoms []randomParam
	for _, p := range s.ParamsOfKind(KindRandom) {
		if len(p.Line.Random) != 2 {
			return nil, fmt.Errorf("%s: random takes two elements", p.Name)
		}
		a, err := p.Line.Random[0].Float()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		b, err := p.Line.Random[1].Float()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		sample, err := samplerFor(p.Line.Distribution)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		randoms = append(randoms, randomParam{name: p.Name, a: a, b: b, sample: sample})
	}

	return func(rng *rand.Rand) Assignment {
		a := fixed.Clone()
		for _, d := range dims {
			a[d.Name] = d.Values[rng.IntN(len(d.Values))]
		}
		for _, r := range randoms {
			a[r.name] = r.sample(r.a, r.b, rng)
		}
		return a
	}, nil
}
