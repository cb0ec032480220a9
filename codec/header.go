package codec

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/meszmate/mailcore"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Header is a parsed RFC 5322 header block.
type Header struct {
	mail.Header
}

// ParseHeader parses a header block. Malformed lines are skipped rather than
// failing the whole block, so a partially broken header still yields the
// fields that parse.
func ParseHeader(raw []byte) Header {
	r := bufio.NewReader(io.MultiReader(bytes.NewReader(raw), strings.NewReader("\r\n\r\n")))
	th, err := textproto.ReadHeader(r)
	if err != nil {
		th = tokenizeHeader(raw)
	}
	return Header{mail.Header{Header: message.Header{Header: th}}}
}

// tokenizeHeader unfolds continuation lines and splits each field at the
// first colon, dropping lines without one.
func tokenizeHeader(raw []byte) textproto.Header {
	var h textproto.Header
	var name, value string
	flush := func() {
		if name != "" {
			h.Add(name, strings.TrimSpace(value))
		}
		name, value = "", ""
	}
	for _, line := range strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n") {
		if line == "" {
			flush()
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if name != "" {
				value += " " + strings.TrimSpace(line)
			}
			continue
		}
		flush()
		k, v, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(k) == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		name, value = k, v
	}
	flush()
	return h
}

// DecodeText decodes RFC 2047 encoded words, returning s unchanged when it
// cannot be decoded.
func DecodeText(s string) string {
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// FillEnvelope copies the header fields an Envelope carries.
func (h Header) FillEnvelope(env *mailcore.Envelope) {
	if t, err := h.Date(); err == nil {
		env.Date = t
	}
	if s, err := h.Subject(); err == nil {
		env.Subject = s
	} else {
		env.Subject = DecodeText(h.Get("Subject"))
	}
	env.From = h.Addresses("From")
	env.To = h.Addresses("To")
	env.Cc = h.Addresses("Cc")
	env.Bcc = h.Addresses("Bcc")
	env.MessageID = h.msgID("Message-Id")
	env.InReplyTo = h.msgID("In-Reply-To")
}

func (h Header) msgID(key string) string {
	raw := h.Get(key)
	if raw == "" {
		return ""
	}
	if ids, err := h.MsgIDList(key); err == nil && len(ids) > 0 {
		return ids[0]
	}
	return strings.Trim(strings.TrimSpace(raw), "<>")
}

// Addresses returns the address list in field key.
func (h Header) Addresses(key string) []mailcore.Address {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		return ParseAddressList(raw)
	}
	return convertAddresses(list)
}

// ContentInfo returns the media type and, if any, the file name announced by
// the Content-Type and Content-Disposition fields.
func (h Header) ContentInfo() (contentType, filename string) {
	contentType, _, _ = h.ContentType()
	ah := mail.AttachmentHeader{Header: h.Header.Header}
	filename, _ = ah.Filename()
	return contentType, filename
}

// ParseAddressList parses an address list. Input that does not follow
// RFC 5322 is split on commas outside quotes and angle brackets.
func ParseAddressList(s string) []mailcore.Address {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		return convertAddresses(list)
	}
	var out []mailcore.Address
	for _, part := range splitAddresses(s) {
		if addr, ok := parseLooseAddress(part); ok {
			out = append(out, addr)
		}
	}
	return out
}

func convertAddresses(list []*mail.Address) []mailcore.Address {
	out := make([]mailcore.Address, 0, len(list))
	for _, a := range list {
		out = append(out, mailcore.Address{Name: a.Name, Email: a.Address})
	}
	return out
}

func splitAddresses(s string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		angle   bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == '<' && !quoted:
			angle = true
		case c == '>' && !quoted:
			angle = false
		case c == ',' && !quoted && !angle:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func parseLooseAddress(s string) (mailcore.Address, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return mailcore.Address{}, false
	}
	open := strings.LastIndexByte(s, '<')
	if open >= 0 {
		if end := strings.IndexByte(s[open:], '>'); end > 0 {
			name := strings.TrimSpace(s[:open])
			name = strings.TrimSpace(strings.Trim(name, `"`))
			return mailcore.Address{
				Name:  DecodeText(name),
				Email: strings.TrimSpace(s[open+1 : open+end]),
			}, true
		}
	}
	return mailcore.Address{Email: strings.Trim(s, "<>")}, true
}
