package canonical

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Canonicalize returns the deterministic text form of v used as hash input.
//
//   - null → null; booleans → true / false
//   - numbers → shortest round-trip decimal text in ECMAScript form;
//     NaN and ±Inf → null
//   - strings → JSON string escaping, without HTML escaping
//   - arrays → elements in original order
//   - objects → members sorted by key code point order
func Canonicalize(v Value) string {
	var b strings.Builder
	writeValue(&b, v, true)
	return b.String()
}

// CanonicalBytes is Canonicalize returning bytes, ready to feed a Hasher.
func CanonicalBytes(v Value) []byte {
	return []byte(Canonicalize(v))
}

func writeValue(b *strings.Builder, v Value, sorted bool) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.boolean {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindNumber:
		b.WriteString(formatNumber(v.number))
	case KindString:
		writeString(b, v.str)
	case KindArray:
		b.WriteByte('[')
		for i, e := range v.elems {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, e, sorted)
		}
		b.WriteByte(']')
	case KindObject:
		members := v.members
		if sorted {
			members = slices.Clone(members)
			slices.SortFunc(members, func(x, y Member) int {
				return compareCodePoints(x.Key, y.Key)
			})
		}
		b.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, m.Key)
			b.WriteByte(':')
			writeValue(b, m.Value, sorted)
		}
		b.WriteByte('}')
	}
}

// compareCodePoints orders strings by Unicode code point. Go strings compare
// bytewise, and UTF-8 byte order equals code point order for valid text.
func compareCodePoints(a, b string) int {
	return cmp.Compare(a, b)
}

// formatNumber renders f the way ECMAScript Number#toString does: plain
// decimal for magnitudes in [1e-6, 1e21), exponent form otherwise.
func formatNumber(f float64) string {
	if !finite(f) {
		return "null"
	}
	if f == 0 {
		return "0" // also covers negative zero
	}
	abs := f
	if abs < 0 {
		abs = -abs
	}
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + sign + digits
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				b.WriteString(`\"`)
			case '\\':
				b.WriteString(`\\`)
			case '\b':
				b.WriteString(`\b`)
			case '\f':
				b.WriteString(`\f`)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				if c < 0x20 {
					b.WriteString(`\u00`)
					b.WriteByte(hexDigits[c>>4])
					b.WriteByte(hexDigits[c&0xf])
				} else {
					b.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
}
