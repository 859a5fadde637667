package dict

import (
	"bytes"
	"strings"
)

// ParseTokens reads dictionary entries in the AFL syntax: `"value"` or
// `name="value"`, with `\\`, `\"` and `\xNN` escapes. Malformed lines and
// empty values are skipped; duplicate tokens are returned once.
func ParseTokens(content string) [][]byte {
	var tokens [][]byte
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		tok, ok := parseLine(line)
		if !ok || len(tok) == 0 {
			continue
		}
		if !containsToken(tokens, tok) {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func parseLine(line string) ([]byte, bool) {
	start := strings.IndexByte(line, '"')
	if start < 0 || !strings.HasSuffix(line, `"`) || start == len(line)-1 {
		return nil, false
	}
	if prefix := strings.TrimSpace(line[:start]); prefix != "" && !strings.HasSuffix(prefix, "=") {
		return nil, false
	}
	return unescape(line[start+1 : len(line)-1])
}

func unescape(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			return nil, false
		case c != '\\':
			out = append(out, c)
		case i+1 >= len(s):
			return nil, false
		case s[i+1] == '\\' || s[i+1] == '"':
			out = append(out, s[i+1])
			i++
		case s[i+1] == 'x' && i+3 < len(s):
			hi, ok1 := fromHex(s[i+2])
			lo, ok2 := fromHex(s[i+3])
			if !ok1 || !ok2 {
				return nil, false
			}
			out = append(out, hi<<4|lo)
			i += 3
		default:
			return nil, false
		}
	}
	return out, true
}

func fromHex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func containsToken(tokens [][]byte, tok []byte) bool {
	for _, t := range tokens {
		if bytes.Equal(t, tok) {
			return true
		}
	}
	return false
}
