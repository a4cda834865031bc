package variables

import (
	"regexp"
	"strings"
)

var (
	mustachePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_$][A-Za-z0-9_.\-$]*)\s*\}\}`)
	colonPattern    = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
	bracePattern    = regexp.MustCompile(`\{([A-Za-z_$][A-Za-z0-9_.\-$]*)\}`)
)

// Resolve substitutes every {{name}} placeholder with its current value.
// Placeholders without a value are left as literal text.
func (s *Scope) Resolve(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return s.replace(mustachePattern, text)
}

// ResolvePath substitutes {{name}}, {name} and :name placeholders in a URL
// or path template.
func (s *Scope) ResolvePath(text string) string {
	text = s.Resolve(text)
	text = s.replace(bracePattern, text)
	return s.replace(colonPattern, text)
}

func (s *Scope) replace(re *regexp.Regexp, text string) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		name := re.FindStringSubmatch(m)[1]
		v, ok := s.GetString(name)
		if !ok {
			return m
		}
		return v
	})
}

// ResolveValue walks a JSON-shaped value and resolves {{name}} placeholders
// inside every string. A string consisting solely of one placeholder is
// replaced by the variable's typed value.
func (s *Scope) ResolveValue(v any) any {
	switch t := v.(type) {
	case string:
		if m := mustachePattern.FindStringSubmatchIndex(t); m != nil && m[0] == 0 && m[1] == len(t) {
			if val, ok := s.Get(t[m[2]:m[3]]); ok {
				return deepCopy(val)
			}
			return t
		}
		return s.Resolve(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = s.ResolveValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = s.ResolveValue(e)
		}
		return out
	default:
		return v
	}
}

// Placeholders returns the distinct {{name}} references found in text.
func Placeholders(text string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range mustachePattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
