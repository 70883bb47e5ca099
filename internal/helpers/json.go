package helpers

import (
	"errors"
	"strings"
)

// ExtractJSONObject returns the first balanced JSON object in s. Models
// asked for structured output sometimes wrap the object in a markdown fence
// or a sentence of prose; both are tolerated.
func ExtractJSONObject(s string) (string, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	if inner, ok := stripCodeFence(s); ok {
		s = strings.TrimSpace(inner)
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if out, ok := balancedObjectAt(s, i); ok {
			return out, nil
		}
	}
	return "", errors.New("no JSON object found")
}

func stripCodeFence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return "", false
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end != -1 {
			return rest[:end], true
		}
		return rest, true
	}
	return "", false
}

// balancedObjectAt scans from s[start] == '{' to its matching brace,
// ignoring braces inside string literals.
func balancedObjectAt(s string, start int) (string, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				if c != '}' {
					return "", false
				}
				return s[start : i+1], true
			}
			if depth < 0 {
				return "", false
			}
		}
	}
	return "", false
}
