package template

import (
	"regexp"
	"sort"
	"strings"
)

var (
	varPattern    = regexp.MustCompile(`\{\{(\w+)\}\}`)
	ifPattern     = regexp.MustCompile(`(?s)\{\{#if\s+(\w+)\}\}(.*?)\{\{/if\}\}`)
	unlessPattern = regexp.MustCompile(`(?s)\{\{#unless\s+(\w+)\}\}(.*?)\{\{/unless\}\}`)
	blockPattern  = regexp.MustCompile(`\{\{(#if|#unless|/if|/unless)(?:\s+\w+)?\}\}`)
)

// ReplaceVariables resolves conditional blocks and substitutes every {{key}}
// for the keys present in values. Falsy values substitute as "".
// Placeholders without a value are left in place.
//
// Blocks are resolved against the template text before any value is
// inserted, so a value holding {{#if x}} or {{/if}} cannot open or close a
// block. Substitution is a single pass: a value containing {{otherKey}} is
// emitted literally, not expanded.
//
// Conditional blocks do not nest: each {{#if x}} is closed by the first
// following {{/if}}. Use NestedBlocks to reject such content up front.
func ReplaceVariables(content string, values Values) string {
	if content == "" {
		return content
	}
	content = resolveConditionals(content, values)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v := values[k]
		s := ""
		if v.Truthy() {
			s = v.String()
		}
		pairs = append(pairs, "{{"+k+"}}", s)
	}
	if len(pairs) > 0 {
		content = strings.NewReplacer(pairs...).Replace(content)
	}
	return content
}

func resolveConditionals(content string, values Values) string {
	content = ifPattern.ReplaceAllStringFunc(content, func(block string) string {
		m := ifPattern.FindStringSubmatch(block)
		if values[m[1]].Truthy() {
			return m[2]
		}
		return ""
	})
	return unlessPattern.ReplaceAllStringFunc(content, func(block string) string {
		m := unlessPattern.FindStringSubmatch(block)
		if values[m[1]].Truthy() {
			return ""
		}
		return m[2]
	})
}

// ExtractVariables returns the names of all {{name}} placeholders in
// first-seen order, without duplicates. Block markers are not included.
func ExtractVariables(content string) []string {
	names := []string{}
	seen := make(map[string]bool)
	for _, m := range varPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// NestedBlocks reports whether content opens a conditional block inside
// another one, which ReplaceVariables does not support.
func NestedBlocks(content string) bool {
	depth := 0
	for _, m := range blockPattern.FindAllStringSubmatch(content, -1) {
		switch m[1] {
		case "#if", "#unless":
			depth++
			if depth > 1 {
				return true
			}
		default:
			if depth > 0 {
				depth--
			}
		}
	}
	return false
}
