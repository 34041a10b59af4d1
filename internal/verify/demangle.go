package verify

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// demangleLegacy decodes a legacy rustc symbol such as
// _ZN7mycrate4main17h6e3f9d2a41c87c01E into its :: separated path,
// dropping the trailing hash segment. Reports false for symbols that
// do not follow the legacy scheme.
func demangleLegacy(symbol string) (string, bool) {
	s := symbol
	if i := strings.Index(s, ".llvm."); i >= 0 {
		s = s[:i]
	}
	if !strings.HasPrefix(s, "_ZN") || !strings.HasSuffix(s, "E") {
		return "", false
	}
	inner := s[3 : len(s)-1]

	var segments []string
	for len(inner) > 0 {
		i := 0
		for i < len(inner) && inner[i] >= '0' && inner[i] <= '9' {
			i++
		}
		if i == 0 {
			return "", false
		}
		n, err := strconv.Atoi(inner[:i])
		if err != nil || n == 0 || i+n > len(inner) {
			return "", false
		}
		segments = append(segments, inner[i:i+n])
		inner = inner[i+n:]
	}
	if len(segments) == 0 {
		return "", false
	}
	if isHashSegment(segments[len(segments)-1]) {
		segments = segments[:len(segments)-1]
	}
	for i, seg := range segments {
		segments[i] = unescapeSegment(seg)
	}
	return strings.Join(segments, "::"), true
}

// isHashSegment matches the compiler's trailing disambiguator, an 'h'
// followed by at least one hex digit. A bare "h" is an ordinary path
// element.
func isHashSegment(s string) bool {
	if len(s) < 2 || !strings.HasPrefix(s, "h") {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// unescapeSegment rewrites the mangler's $...$ escapes and dot
// sequences back into source characters. Unrecognized escapes leave
// the remainder untouched.
func unescapeSegment(seg string) string {
	if strings.HasPrefix(seg, "_$") {
		seg = seg[1:]
	}
	var b strings.Builder
	for len(seg) > 0 {
		switch {
		case strings.HasPrefix(seg, ".."):
			b.WriteString("::")
			seg = seg[2:]
		case strings.HasPrefix(seg, "."):
			b.WriteByte('.')
			seg = seg[1:]
		case strings.HasPrefix(seg, "$"):
			end := strings.Index(seg[1:], "$")
			if end < 0 {
				b.WriteString(seg)
				return b.String()
			}
			unescaped, ok := unescapeDollar(seg[1 : 1+end])
			if !ok {
				b.WriteString(seg)
				return b.String()
			}
			b.WriteString(unescaped)
			seg = seg[2+end:]
		default:
			i := strings.IndexAny(seg, "$.")
			if i < 0 {
				b.WriteString(seg)
				return b.String()
			}
			b.WriteString(seg[:i])
			seg = seg[i:]
		}
	}
	return b.String()
}

func unescapeDollar(escape string) (string, bool) {
	switch escape {
	case "SP":
		return "@", true
	case "BP":
		return "*", true
	case "RF":
		return "&", true
	case "LT":
		return "<", true
	case "GT":
		return ">", true
	case "LP":
		return "(", true
	case "RP":
		return ")", true
	case "C":
		return ",", true
	}
	if rest, ok := strings.CutPrefix(escape, "u"); ok {
		n, err := strconv.ParseUint(rest, 16, 32)
		if err == nil && utf8.ValidRune(rune(n)) {
			return string(rune(n)), true
		}
	}
	return "", false
}
