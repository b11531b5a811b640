package txtrecord_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/pkg/txtrecord"
)

func TestEncodeTXT(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: `""`},
		{name: "printable", raw: "abc-123", want: `"abc-123"`},
		{name: "space", raw: "a b", want: `"a\040b"`},
		{name: "quote and backslash", raw: `a"b\c`, want: `"a\042b\134c"`},
		{name: "control byte", raw: "a\nb", want: `"a\012b"`},
		{name: "high byte", raw: "\xff", want: `"\377"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, txtrecord.EncodeTXT(tt.raw))
		})
	}
}

func TestEncodeTXT_Segments(t *testing.T) {
	t.Parallel()

	t.Run("exactly one segment at the boundary", func(t *testing.T) {
		t.Parallel()

		raw := strings.Repeat("a", txtrecord.MaxSegmentLength)
		encoded := txtrecord.EncodeTXT(raw)

		assert.Equal(t, `"`+raw+`"`, encoded)
	})

	t.Run("splits after 255 bytes", func(t *testing.T) {
		t.Parallel()

		raw := strings.Repeat("a", txtrecord.MaxSegmentLength) + "bc"
		encoded := txtrecord.EncodeTXT(raw)

		segments := strings.Split(encoded, " ")
		require.Len(t, segments, 2)
		assert.Equal(t, `"`+strings.Repeat("a", txtrecord.MaxSegmentLength)+`"`, segments[0])
		assert.Equal(t, `"bc"`, segments[1])
	})

	t.Run("segment limit counts raw bytes", func(t *testing.T) {
		t.Parallel()

		raw := strings.Repeat(" ", 300)
		segments := strings.Split(txtrecord.EncodeTXT(raw), " ")

		require.Len(t, segments, 2)
		assert.Len(t, segments[0], txtrecord.MaxSegmentLength*4+2)
		assert.Len(t, segments[1], 45*4+2)
	})
}

func TestDecodeTXT(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", txtrecord.DecodeTXT(""))
	assert.Equal(t, "", txtrecord.DecodeTXT(`""`))
	assert.Equal(t, "a b", txtrecord.DecodeTXT(`"a\040b"`))
	assert.Equal(t, "abcdef", txtrecord.DecodeTXT(`"abc" "def"`))
	assert.Equal(t, `a"b\c`, txtrecord.DecodeTXT(`"a\"b\\c"`))
	assert.Equal(t, "unquoted", txtrecord.DecodeTXT("unquoted"))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		" ",
		"simple",
		"with space",
		`back\slash`,
		`"quoted"`,
		`\\\"mixed\" \\`,
		"tab\tnewline\ncarriage\r",
		"\x00\x01\x7f\x80\xfe\xff",
		"unicode: héllo wörld ✓",
		strings.Repeat("x", txtrecord.MaxSegmentLength),
		strings.Repeat("x", txtrecord.MaxSegmentLength-1),
		strings.Repeat("x", txtrecord.MaxSegmentLength+1),
		strings.Repeat(`a "b" \c `, 200),
		"v=DKIM1; k=rsa; p=" + strings.Repeat("MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8A", 20),
	}

	for _, in := range inputs {
		assert.Equal(t, in, txtrecord.DecodeTXT(txtrecord.EncodeTXT(in)), "round trip of %q", in)
	}

	for c := 0; c < 256; c++ {
		in := string([]byte{byte(c)})
		assert.Equal(t, in, txtrecord.DecodeTXT(txtrecord.EncodeTXT(in)), "round trip of byte %d", c)
	}
}

func TestEncodeDecode_NonTXTPassThrough(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{"A", "AAAA", "CNAME", "MX"} {
		assert.Equal(t, "a b\"c", txtrecord.Encode(typ, "a b\"c"))
		assert.Equal(t, `"a\040b"`, txtrecord.Decode(typ, `"a\040b"`))
	}

	assert.Equal(t, `"a\040b"`, txtrecord.Encode("TXT", "a b"))
	assert.Equal(t, "a b", txtrecord.Decode("txt", `"a\040b"`))
}
