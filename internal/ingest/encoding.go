package ingest

// encoding.go decides how an upload's bytes are decoded.
//
// Bank exports arrive either as ISO-8859-1 (older desktop software) or UTF-8,
// with or without a byte-order mark. Decoding is done with x/text so invalid
// UTF-8 is replaced with U+FFFD rather than rejected.

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Supported encoding names, as stored on a Descriptor.
const (
	EncodingLatin1 = "iso-8859-1"
	EncodingUTF8   = "utf-8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM removes a UTF-8 byte-order mark and reports whether one was found.
func stripBOM(raw []byte) ([]byte, bool) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return raw[len(utf8BOM):], true
	}
	return raw, false
}

// splitHeader returns the first line (without line ending) and the rest.
func splitHeader(raw []byte) (header, body []byte) {
	i := bytes.IndexByte(raw, '\n')
	if i < 0 {
		return bytes.TrimRight(raw, "\r"), nil
	}
	return bytes.TrimRight(raw[:i], "\r"), raw[i+1:]
}

// candidateEncodings returns encodings to try for the header, strictest
// first. ISO-8859-1 is rejected when the header is valid UTF-8 containing
// multi-byte sequences, or contains C1 control bytes which never appear in
// Western European text. An all-ASCII header gives no evidence, so the body
// decides: a body that is valid UTF-8 with multi-byte runes is UTF-8.
//
// Known limit: a Latin-1 body whose only non-ASCII bytes happen to form
// valid UTF-8 pairs (the payee "Ã©" is C3 A9) is read as UTF-8, so such a
// file does not round-trip byte for byte. Real exports carry letters like
// ø and å, which are never valid UTF-8 on their own.
func candidateEncodings(header, body []byte, hasBOM bool) []string {
	if hasBOM {
		return []string{EncodingUTF8}
	}
	if isASCII(header) && isMultibyteUTF8(body) {
		return []string{EncodingUTF8}
	}
	if isStrictLatin1(header) {
		return []string{EncodingLatin1, EncodingUTF8}
	}
	return []string{EncodingUTF8}
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

func isMultibyteUTF8(b []byte) bool {
	return !isASCII(b) && utf8.Valid(b)
}

func isStrictLatin1(b []byte) bool {
	if isMultibyteUTF8(b) {
		return false
	}
	for _, c := range b {
		if c >= 0x80 && c <= 0x9F {
			return false
		}
	}
	return true
}

func encodingFor(name string) encoding.Encoding {
	if name == EncodingLatin1 {
		return charmap.ISO8859_1
	}
	return unicode.UTF8
}

// decodeString decodes b with the named encoding.
func decodeString(name string, b []byte) (string, error) {
	out, _, err := transform.Bytes(encodingFor(name).NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// decodeReader wraps r so it yields UTF-8 text.
func decodeReader(name string, r io.Reader) io.Reader {
	return transform.NewReader(r, encodingFor(name).NewDecoder())
}

// DecodeText decodes free text such as a category catalog: UTF-8 when the
// bytes are valid UTF-8, ISO-8859-1 otherwise.
func DecodeText(raw []byte) (string, string) {
	raw, _ = stripBOM(raw)
	if utf8.Valid(raw) {
		return string(raw), EncodingUTF8
	}
	s, err := decodeString(EncodingLatin1, raw)
	if err != nil {
		return string(raw), EncodingUTF8
	}
	return s, EncodingLatin1
}
