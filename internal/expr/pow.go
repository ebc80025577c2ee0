package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// operand matches a call with flat arguments, a dotted name, a numeral or a
// flat parenthesised group.
const operand = `(?:[A-Za-z_][\w.]*\([^()]*\)|[A-Za-z_][\w.]*|(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?|\([^()]*\))`

const maxPowRewrites = 64

var (
	powBase     = regexp.MustCompile(operand + `\s*$`)
	powExponent = regexp.MustCompile(`^\s*([+-]?` + operand + `)`)
)

// rewritePow turns a**b into pow(a, b), right to left so that a**b**c groups
// as a**(b**c). Operands nested deeper than one level of parentheses are not
// supported and produce an error.
func rewritePow(s string) (string, error) {
	for i := 0; strings.Contains(s, "**"); i++ {
		if i >= maxPowRewrites {
			return "", fmt.Errorf("too many ** operators in %q", s)
		}
		idx := strings.LastIndex(s, "**")
		head, tail := s[:idx], s[idx+2:]

		b := powBase.FindStringIndex(head)
		m := powExponent.FindStringSubmatchIndex(tail)
		if b == nil || m == nil {
			return "", fmt.Errorf("unsupported operand for ** in %q", s)
		}
		base := strings.TrimSpace(head[b[0]:])
		exponent := tail[m[2]:m[3]]
		s = head[:b[0]] + "pow(" + base + ", " + exponent + ")" + tail[m[1]:]
	}
	return s, nil
}

// splitMinus puts spaces around a '-' that directly follows a name, since the
// HCL native syntax would otherwise read "TanBeta-1" as a single identifier.
// Numerals such as 1e-3 and string literals are left alone.
func splitMinus(s string) string {
	var (
		b       strings.Builder
		inName  bool
		inToken bool
		inStr   bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inStr:
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(c)
				i++
				c = s[i]
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
			inName, inToken = false, false
		case c == '-' && inName:
			b.WriteString(" - ")
			inName, inToken = false, false
			continue
		case isWordByte(c) || (c == '.' && inToken):
			if !inToken {
				inName = c == '_' || isLetter(c)
				inToken = true
			}
		default:
			inName, inToken = false, false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isWordByte(c byte) bool {
	return isLetter(c) || c >= '0' && c <= '9' || c == '_'
}
