package blockparser

import "strings"

type tagMatch int

const (
	matchNo tagMatch = iota
	matchPartial
	matchYes
)

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == ':'
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

// matchEnvelope matches buf against <tag name="x">.
func matchEnvelope(buf, tag string) (string, tagMatch) {
	prefix := "<" + tag
	if len(buf) <= len(prefix) {
		if strings.HasPrefix(prefix, buf) {
			return "", matchPartial
		}
		return "", matchNo
	}
	if !strings.HasPrefix(buf, prefix) {
		return "", matchNo
	}

	rest := buf[len(prefix):]
	if !isSpace(rest[0]) {
		return "", matchNo
	}
	i := skipSpaces(rest, 0)
	if i == len(rest) {
		return "", matchPartial
	}

	const kw = "name"
	for j := 0; j < len(kw); j++ {
		if i == len(rest) {
			return "", matchPartial
		}
		if rest[i] != kw[j] {
			return "", matchNo
		}
		i++
	}

	i = skipSpaces(rest, i)
	if i == len(rest) {
		return "", matchPartial
	}
	if rest[i] != '=' {
		return "", matchNo
	}
	i = skipSpaces(rest, i+1)
	if i == len(rest) {
		return "", matchPartial
	}

	quote := rest[i]
	if quote != '"' && quote != '\'' {
		return "", matchNo
	}
	i++
	start := i
	for i < len(rest) && rest[i] != quote {
		if !isNameChar(rest[i]) {
			return "", matchNo
		}
		i++
	}
	if i == len(rest) {
		return "", matchPartial
	}
	name := rest[start:i]
	if name == "" {
		return "", matchNo
	}

	i = skipSpaces(rest, i+1)
	if i == len(rest) {
		return "", matchPartial
	}
	if rest[i] != '>' || i != len(rest)-1 {
		return "", matchNo
	}
	return name, matchYes
}

// matchDirect matches buf against <name> for a known action name.
func matchDirect(buf string, known map[string]bool) (string, tagMatch) {
	if buf == "<" {
		if len(known) == 0 {
			return "", matchNo
		}
		return "", matchPartial
	}
	inner := buf[1:]
	if strings.HasSuffix(inner, ">") {
		name := inner[:len(inner)-1]
		if known[name] {
			return name, matchYes
		}
		return "", matchNo
	}
	for name := range known {
		if strings.HasPrefix(name, inner) {
			return "", matchPartial
		}
	}
	return "", matchNo
}

// matchParamOpen matches buf against <param>.
func matchParamOpen(buf string) (string, tagMatch) {
	if buf == "<" {
		return "", matchPartial
	}
	inner := buf[1:]
	if strings.HasSuffix(inner, ">") {
		name := inner[:len(inner)-1]
		if isName(name) {
			return name, matchYes
		}
		return "", matchNo
	}
	if isName(inner) {
		return "", matchPartial
	}
	return "", matchNo
}

func skipSpaces(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

// holdback returns the index in lag from which the suffix is still a
// prefix of closeTag; bytes before it can be released.
func holdback(lag, closeTag string) int {
	for k := 0; k < len(lag); k++ {
		if strings.HasPrefix(closeTag, lag[k:]) {
			return k
		}
	}
	return len(lag)
}
