package txtrecord

import (
	"strings"
)

// MaxSegmentLength is the largest number of raw bytes a single TXT string may hold.
const MaxSegmentLength = 255

const recordTypeTXT = "TXT"

// Encode returns the provider wire form of value for the given record type.
func Encode(recordType, value string) string {
	if !strings.EqualFold(recordType, recordTypeTXT) {
		return value
	}
	return EncodeTXT(value)
}

// Decode returns the raw value of a provider wire value for the given record type.
func Decode(recordType, value string) string {
	if !strings.EqualFold(recordType, recordTypeTXT) {
		return value
	}
	return DecodeTXT(value)
}

// EncodeTXT splits raw into quoted, escaped segments of at most MaxSegmentLength bytes.
// The empty string encodes to a single empty segment.
func EncodeTXT(raw string) string {
	if raw == "" {
		return `""`
	}

	var b strings.Builder
	b.Grow(len(raw) + len(raw)/4 + 4)

	for start := 0; start < len(raw); start += MaxSegmentLength {
		end := min(start+MaxSegmentLength, len(raw))
		if start > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		for i := start; i < end; i++ {
			writeEscaped(&b, raw[i])
		}
		b.WriteByte('"')
	}

	return b.String()
}

// DecodeTXT joins the segments of a wire value back into the raw string.
func DecodeTXT(wire string) string {
	if wire == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(wire))

	for segment := range strings.SplitSeq(wire, " ") {
		unescape(&b, trimQuotes(segment))
	}

	return b.String()
}

func writeEscaped(b *strings.Builder, c byte) {
	if c >= '!' && c <= '~' && c != '\\' && c != '"' {
		b.WriteByte(c)
		return
	}
	b.WriteByte('\\')
	b.WriteByte('0' + (c>>6)&7)
	b.WriteByte('0' + (c>>3)&7)
	b.WriteByte('0' + c&7)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// unescape writes s to b with \NNN, \\ and \" sequences resolved.
// A backslash that does not start a known sequence is kept as is.
func unescape(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}

		if i+3 < len(s) && s[i+1] <= '3' && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			v := (s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0')
			b.WriteByte(v)
			i += 3
			continue
		}

		b.WriteByte(s[i+1])
		i++
	}
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
