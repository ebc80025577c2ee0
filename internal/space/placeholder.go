package space

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{%([^%{}]+)%\}`)

// Placeholder returns the template token bound to a parameter name.
func Placeholder(name string) string {
	return "{%" + name + "%}"
}

// PlaceholderNames returns the parameter names referenced by placeholder
// tokens in s, in order of appearance, without duplicates.
func PlaceholderNames(s string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ReplacePlaceholders substitutes every placeholder token in s with the
// result of repl for its parameter name.
func ReplacePlaceholders(s string, repl func(name string) string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(tok string) string {
		return repl(tok[2 : len(tok)-2])
	})
}
