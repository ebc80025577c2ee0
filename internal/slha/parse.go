package slha

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Block is one parsed section of an output file. Entries are keyed by the
// index columns of each data line joined with ".", for example "25" in MASS
// or "1.2" in a matrix block. A data line with a single column is stored
// under the empty key.
type Block struct {
	Name    string
	Scale   *float64
	Entries map[string]float64
}

// Document maps upper-case block names to blocks.
type Document map[string]*Block

// ParseFile reads path and keeps only the selected blocks; an empty selection
// keeps everything. Decay tables are kept under the block name "DECAY".
func ParseFile(path string, selected []string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, selected)
}

// Parse reads SLHA text from r.
func Parse(r io.Reader, selected []string) (Document, error) {
	keep := map[string]bool{}
	for _, name := range selected {
		keep[strings.ToUpper(name)] = true
	}
	want := func(name string) bool {
		return len(keep) == 0 || keep[name]
	}

	doc := Document{}
	var (
		cur   *Block
		skip  bool
		decay string
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "BLOCK":
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: BLOCK without a name", lineNo)
			}
			name := strings.ToUpper(fields[1])
			decay = ""
			skip = !want(name)
			if skip {
				cur = nil
				continue
			}
			cur = doc.block(name)
			cur.Scale = scale(fields[2:])
			continue

		case "DECAY":
			if len(fields) < 3 {
				return nil, fmt.Errorf("line %d: DECAY needs a particle code and a width", lineNo)
			}
			skip = !want("DECAY")
			if skip {
				cur = nil
				continue
			}
			cur = doc.block("DECAY")
			decay = fields[1]
			if w, err := strconv.ParseFloat(fields[2], 64); err == nil {
				cur.Entries[decay+".width"] = w
			}
			continue
		}

		if skip {
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: data outside of any block", lineNo)
		}

		if decay != "" {
			// BR NDA ID1 ID2 ...
			if len(fields) < 3 {
				continue
			}
			br, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			key := decay + "." + strings.Join(fields[2:], ".")
			cur.Entries[key] = br
			continue
		}

		value, err := strconv.ParseFloat(fortran(fields[len(fields)-1]), 64)
		if err != nil {
			// textual entries such as SPINFO program names
			continue
		}
		cur.Entries[strings.Join(fields[:len(fields)-1], ".")] = value
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d Document) block(name string) *Block {
	b, ok := d[name]
	if !ok {
		b = &Block{Name: name, Entries: map[string]float64{}}
		d[name] = b
	}
	return b
}

// scale reads an optional "Q= <value>" suffix of a BLOCK header.
func scale(rest []string) *float64 {
	joined := strings.Join(rest, "")
	if !strings.HasPrefix(strings.ToUpper(joined), "Q=") {
		return nil
	}
	q, err := strconv.ParseFloat(fortran(joined[2:]), 64)
	if err != nil {
		return nil
	}
	return &q
}

// fortran accepts the D exponent marker some generators still print.
func fortran(s string) string {
	return strings.NewReplacer("D", "E", "d", "e").Replace(s)
}

// Flatten returns the document as dotted keys of the form
// "BLOCK.values.<index>", "BLOCK.values" for single-column blocks and
// "BLOCK.Q" for the scale.
func (d Document) Flatten() map[string]float64 {
	out := map[string]float64{}
	for name, b := range d {
		if b.Scale != nil {
			out[name+".Q"] = *b.Scale
		}
		for key, v := range b.Entries {
			if key == "" {
				out[name+".values"] = v
				continue
			}
			out[name+".values."+key] = v
		}
	}
	return out
}

// Names returns the block names of d in sorted order.
func (d Document) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
