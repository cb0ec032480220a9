// Package codec holds the content codecs the mail clients share: base64 and
// quoted-printable transfer encodings, RFC 5322 header and address parsing,
// and text preview extraction.
package codec

import (
	"encoding/base64"
	"strings"
)

// LineWidth is the line length used for base64 bodies in outgoing mail.
const LineWidth = 76

// EncodeBase64Lines encodes data as base64 split into CRLF-separated lines of
// width characters. A width of zero or less means LineWidth.
func EncodeBase64Lines(data []byte, width int) string {
	if width <= 0 {
		width = LineWidth
	}
	enc := base64.StdEncoding.EncodeToString(data)
	if len(enc) <= width {
		return enc
	}
	var b strings.Builder
	b.Grow(len(enc) + 2*(len(enc)/width))
	for len(enc) > width {
		b.WriteString(enc[:width])
		b.WriteString("\r\n")
		enc = enc[width:]
	}
	b.WriteString(enc)
	return b.String()
}

// DecodeBase64 decodes standard or URL-safe base64, ignoring whitespace and
// tolerating missing padding.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		case '-':
			return '+'
		case '_':
			return '/'
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	return base64.RawStdEncoding.DecodeString(s)
}
