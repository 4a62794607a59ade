package sqlagent

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	// Data-modifying keywords that may hide inside a WITH query.
	writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|truncate|drop|alter|create|grant|revoke|copy)\b`)
)

// CheckSQL accepts a single SELECT or WITH statement and returns it without
// code fences, comments or a trailing semicolon.
func CheckSQL(sql string) (string, error) {
	s := strings.TrimSpace(sql)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(stripComments(s))
	s = strings.TrimSpace(strings.TrimRight(s, "; \t\n"))
	if s == "" {
		return "", ErrNoSQL
	}
	if strings.Contains(stripStrings(s), ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrUnsafeSQL)
	}

	first := strings.ToLower(strings.Fields(s)[0])
	switch first {
	case "select":
	case "with":
		if writeKeyword.MatchString(stripStrings(s)) {
			return "", fmt.Errorf("%w: data-modifying statement in WITH", ErrUnsafeSQL)
		}
	default:
		return "", fmt.Errorf("%w: starts with %q", ErrUnsafeSQL, first)
	}
	return s, nil
}

// stripComments removes -- and /* */ comments that sit outside
// single-quoted literals.
func stripComments(s string) string {
	var b strings.Builder
	in := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			in = !in
		case in:
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// stripStrings blanks single-quoted literals so their contents are not
// mistaken for keywords.
func stripStrings(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		if r == '\'' {
			in = !in
			b.WriteRune(r)
			continue
		}
		if in {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
