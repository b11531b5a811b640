// Package txtrecord converts TXT record values to and from the wire form the DNS
// provider expects.
//
// A raw value is split into segments of at most 255 bytes. Inside a segment every
// byte outside the printable range '!'..'~', as well as '\' and '"', is written as
// a three digit octal escape (\NNN). Each segment is wrapped in double quotes and
// segments are joined with a single space:
//
//	txtrecord.EncodeTXT(`v=spf1 include:_spf.example.com ~all`)
//	// "v=spf1\040include:_spf.example.com\040~all"
//
// Decoding reverses the transformation, so DecodeTXT(EncodeTXT(s)) == s for every s.
//
// Encode and Decode take the record type and leave values of any type other than
// TXT untouched:
//
//	txtrecord.Encode("A", "1.2.3.4") // "1.2.3.4"
package txtrecord
