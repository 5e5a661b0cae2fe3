package workflow

import (
	"strings"
)

// Vars carries the substitution scopes available to a step at run time.
type Vars struct {
	Matrix  Entry
	Env     map[string]string
	Secrets map[string]string
}

// Lookup resolves a dotted reference like "matrix.python" or "env.HOME".
// The second return is false when the scope or key is unknown.
func (v Vars) Lookup(ref string) (string, bool) {
	scope, key, ok := strings.Cut(ref, ".")
	if !ok {
		return "", false
	}
	switch scope {
	case "matrix":
		value, exists := v.Matrix[key]
		return value, exists
	case "env":
		value, exists := v.Env[key]
		return value, exists
	case "secrets":
		value, exists := v.Secrets[key]
		return value, exists
	default:
		return "", false
	}
}

// Interpolate replaces ${scope.key} references in s with their values.
// Unknown references are left in place verbatim so a typo surfaces in the
// step output instead of silently vanishing.
func Interpolate(s string, vars Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var out strings.Builder
	out.Grow(len(s))
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			out.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			out.WriteString(s)
			break
		}
		end += start
		out.WriteString(s[:start])
		ref := strings.TrimSpace(s[start+2 : end])
		if value, ok := vars.Lookup(ref); ok {
			out.WriteString(value)
		} else {
			out.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return out.String()
}

// InterpolateMap applies Interpolate to every value of m, returning a new map.
func InterpolateMap(m map[string]string, vars Vars) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for key, value := range m {
		out[key] = Interpolate(value, vars)
	}
	return out
}
