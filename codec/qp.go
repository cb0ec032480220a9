package codec

import (
	"bytes"
	"io"
	"mime/quotedprintable"
)

// DecodeQuotedPrintable decodes a quoted-printable body. On malformed input it
// returns what was decoded up to the error together with the error.
func DecodeQuotedPrintable(b []byte) ([]byte, error) {
	return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(b)))
}

// EncodeQuotedPrintable encodes text as quoted-printable with CRLF line
// endings and soft breaks at 76 characters.
func EncodeQuotedPrintable(b []byte) []byte {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	// Writes to a bytes.Buffer cannot fail.
	_, _ = w.Write(b)
	_ = w.Close()
	return buf.Bytes()
}
