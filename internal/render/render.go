// Package render substitutes {key} placeholders in message bodies.
package render

import (
	"regexp"
	"slices"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Render replaces every literal "{key}" in body with vars[key].
//
// Substitution is a single left-to-right pass: values are never re-scanned
// for placeholders. When two placeholders could match at the same position
// the longer key wins, and keys of equal length are tried in lexical order.
// Values are inserted verbatim; HTML bodies need pre-escaped values.
func Render(body string, vars map[string]string) string {
	if len(vars) == 0 || body == "" {
		return body
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}

	return strings.NewReplacer(pairs...).Replace(body)
}

// Placeholders returns the distinct placeholder names found in body, in
// order of first appearance.
func Placeholders(body string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// Unresolved returns the placeholders in body that have no entry in vars.
func Unresolved(body string, vars map[string]string) []string {
	var missing []string
	for _, name := range Placeholders(body) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
