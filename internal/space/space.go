package space

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/scanlha/internal/monitoring"
)

// ErrInvalidSpace is returned by operations that refuse to run on a space
// that failed validation.
var ErrInvalidSpace = errors.New("parameter space is invalid")

// Space is the ordered collection of blocks plus the derived parameter map.
// The map is rebuilt after every mutation. Space is not safe for concurrent
// mutation.
type Space struct {
	blocks []Block
	seed   uint64

	report    Report
	byName    map[string]int
	expansion map[string]Diagnostic

	log monitoring.Logger
}

// New builds a space from blocks, expanding every scan descriptor. seed drives
// the random scan distributions. A nil blocks slice yields an invalid space.
func New(blocks []Block, seed uint64) *Space {
	s := &Space{
		seed:      seed,
		expansion: map[string]Diagnostic{},
		log:       monitoring.New("space"),
	}
	if blocks != nil {
		s.blocks = make([]Block, len(blocks))
		for i, b := range blocks {
			s.blocks[i] = b.clone()
		}
	}
	s.ExpandScanRanges()
	return s
}

// Seed returns the seed used for random scan distributions.
func (s *Space) Seed() uint64 {
	return s.seed
}

// Blocks returns a copy of the declared blocks.
func (s *Space) Blocks() []Block {
	if s.blocks == nil {
		return nil
	}
	out := make([]Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = b.clone()
	}
	return out
}

// SetBlock replaces a block's lines wholesale, adding the block if it does not
// exist yet.
func (s *Space) SetBlock(name string, lines []Line) {
	b := Block{Name: name, Lines: lines}
	bi := s.blockIndex(name)
	if bi < 0 {
		s.log.Printf("Adding block %s with %d lines", name, len(lines))
		s.blocks = append(s.blocks, b.clone())
		bi = len(s.blocks) - 1
	} else {
		s.log.Printf("Replacing block %s with %d lines", name, len(lines))
		s.blocks[bi] = b.clone()
	}

	prefix := strconv.Itoa(bi) + "/"
	for key := range s.expansion {
		if strings.HasPrefix(key, prefix) {
			delete(s.expansion, key)
		}
	}
	for li := range s.blocks[bi].Lines {
		s.expandLine(bi, li)
	}
	s.validate()
}

// SetLine inserts or replaces the line with the same id in block.
func (s *Space) SetLine(block string, line Line) {
	bi := s.blockIndex(block)
	if bi < 0 {
		s.log.Printf("Adding block %s", block)
		s.blocks = append(s.blocks, Block{Name: block})
		bi = len(s.blocks) - 1
	}

	b := &s.blocks[bi]
	li := -1
	if line.ID != nil {
		for i, l := range b.Lines {
			if l.ID != nil && *l.ID == *line.ID {
				li = i
				break
			}
		}
	}
	if li < 0 {
		s.log.Printf("Appending line %s to block %s", idString(line.ID), block)
		b.Lines = append(b.Lines, line.clone())
		li = len(b.Lines) - 1
	} else {
		s.log.Printf("Overwriting line %s in block %s", idString(line.ID), block)
		b.Lines[li] = line.clone()
	}

	s.expandLine(bi, li)
	s.validate()
}

func idString(id *int) string {
	if id == nil {
		return "without id"
	}
	return strconv.Itoa(*id)
}

// Override replaces the value source of an argument-settable parameter with
// the one carried by src (see ParseOverride). name may be a parameter name or
// a "BLOCK.id" reference.
func (s *Space) Override(name string, src Line) error {
	p, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if !p.Line.Argument {
		return fmt.Errorf("parameter %q is not settable from the command line", name)
	}

	l := p.Line.clone()
	l.Value, l.Values, l.Scan, l.Random, l.Expr = nil, nil, nil, nil, ""
	l.Distribution = src.Distribution
	switch {
	case src.Scan != nil:
		l.Scan = cloneNumbers(src.Scan)
	case src.Values != nil:
		l.Values = cloneNumbers(src.Values)
	case src.Value != nil:
		v := *src.Value
		l.Value = &v
	default:
		return fmt.Errorf("override for %q carries no values", name)
	}
	s.SetLine(p.Block, l)
	return nil
}

// ExpandScanRanges regenerates the values of every scan line and
// re-validates.
func (s *Space) ExpandScanRanges() {
	s.expansion = map[string]Diagnostic{}
	for bi, b := range s.blocks {
		for li := range b.Lines {
			s.expandLine(bi, li)
		}
	}
	s.validate()
}

func (s *Space) expandLine(bi, li int) {
	b := s.blocks[bi]
	l := &s.blocks[bi].Lines[li]
	key := fmt.Sprintf("%d/%d", bi, li)
	delete(s.expansion, key)
	if l.Scan == nil {
		return
	}

	subject := lineSubject(b.Name, li, *l)
	vals, err := ExpandDescriptor(l.Scan, l.Distribution, s.rngFor(subject))
	if err != nil {
		l.Values = nil
		s.expansion[key] = Diagnostic{Severity: SeverityError, Subject: subject, Message: "scan: " + err.Error()}
		s.log.Errorf("%s: scan %v: %v", subject, l.Scan, err)
		return
	}
	l.Values = Nums(vals...)
}

// rngFor returns a generator that depends only on the space seed and the
// line, so re-expanding a line reproduces its values.
func (s *Space) rngFor(subject string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(subject))
	return rand.New(rand.NewPCG(s.seed, h.Sum64()))
}

func (s *Space) validate() {
	s.report = Validate(s.blocks)
	s.byName = make(map[string]int, len(s.report.Params))
	for i, p := range s.report.Params {
		s.byName[p.Name] = i
	}
}

// Validate re-runs validation and returns whether the space is usable plus
// all diagnostics, including scan expansion failures.
func (s *Space) Validate() (bool, []Diagnostic) {
	s.validate()
	return s.Valid(), s.Diagnostics()
}

// Valid reports the result of the last validation.
func (s *Space) Valid() bool {
	return s.report.OK && len(s.expansion) == 0
}

// Diagnostics returns the findings of the last validation followed by scan
// expansion failures.
func (s *Space) Diagnostics() []Diagnostic {
	out := append([]Diagnostic{}, s.report.Diagnostics...)
	keys := make([]string, 0, len(s.expansion))
	for k := range s.expansion {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, s.expansion[k])
	}
	return out
}

// Params returns the effective parameter map in declaration order.
func (s *Space) Params() []Param {
	return append([]Param{}, s.report.Params...)
}

// Param returns the parameter with the given name.
func (s *Space) Param(name string) (Param, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Param{}, false
	}
	return s.report.Params[i], true
}

// Lookup resolves a parameter name, a "BLOCK.id" reference or a
// "BLOCK.values.id" reference.
func (s *Space) Lookup(key string) (Param, bool) {
	if p, ok := s.Param(key); ok {
		return p, true
	}
	parts := strings.Split(key, Separator)
	if len(parts) == 3 && parts[1] == "values" {
		parts = []string{parts[0], parts[2]}
	}
	if len(parts) != 2 {
		return Param{}, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return Param{}, false
	}
	for _, p := range s.report.Params {
		if p.Block == parts[0] && p.ID == id {
			return p, true
		}
	}
	return Param{}, false
}

func (s *Space) blockIndex(name string) int {
	for i, b := range s.blocks {
		if b.Name == name {
			return i
		}
	}
	return -1
}
