package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Message is an outgoing message. From and the recipient lists hold RFC
// 5322 addresses such as "Ann <ann@example.com>" or a bare address.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Text    string
	HTML    string
	// Headers are added verbatim after the standard fields.
	Headers     map[string]string
	Attachments []Attachment
	// Date defaults to the client clock.
	Date time.Time
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	// Inline parts are shown in the body and referenced by ContentID.
	Inline    bool
	ContentID string
}

// envelope returns the reverse path and the flattened recipient list.
func (m *Message) envelope() (from string, rcpt []string, err error) {
	addr, err := mail.ParseAddress(m.From)
	if err != nil {
		return "", nil, fmt.Errorf("smtp: from address: %w", err)
	}
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, s := range list {
			a, err := mail.ParseAddress(s)
			if err != nil {
				return "", nil, fmt.Errorf("smtp: recipient %q: %w", s, err)
			}
			rcpt = append(rcpt, a.Address)
		}
	}
	if len(rcpt) == 0 {
		return "", nil, errors.New("smtp: no recipients")
	}
	return addr.Address, rcpt, nil
}

// BuildMessage assembles the RFC 5322 form of m. A message with a single
// body part is sent as that part; more than one of text, HTML and
// attachments makes a multipart/mixed message. Text parts are
// quoted-printable, attachments base64 in 76-column lines. The result is
// not dot-stuffed.
func BuildMessage(m *Message, now time.Time, hostname string) ([]byte, error) {
	var h mail.Header
	date := m.Date
	if date.IsZero() {
		date = now
	}
	h.SetDate(date)

	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("smtp: from address: %w", err)
	}
	h.SetAddressList("From", []*mail.Address{from})
	for _, f := range []struct {
		key  string
		list []string
	}{{"To", m.To}, {"Cc", m.Cc}} {
		if len(f.list) == 0 {
			continue
		}
		addrs, err := parseAddresses(f.list)
		if err != nil {
			return nil, err
		}
		h.SetAddressList(f.key, addrs)
	}
	if m.Subject != "" {
		h.SetSubject(m.Subject)
	}
	h.SetMessageID(uuid.NewString() + "@" + messageIDDomain(from.Address, hostname))
	// Set would canonicalise the key to "Mime-Version".
	h.AddRaw([]byte("MIME-Version: 1.0\r\n"))

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		h.Set(k, m.Headers[k])
	}

	parts := m.parts()
	var buf bytes.Buffer
	switch len(parts) {
	case 0:
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := message.CreateWriter(&buf, h.Header)
		if err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case 1:
		fields := parts[0].header.Fields()
		for fields.Next() {
			h.Set(fields.Key(), fields.Value())
		}
		if err := writeEntity(&buf, h.Header, parts[0].body); err != nil {
			return nil, err
		}
	default:
		h.SetContentType("multipart/mixed", map[string]string{"boundary": "mixed_" + uuid.NewString()})
		mw, err := message.CreateWriter(&buf, h.Header)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			pw, err := mw.CreatePart(p.header)
			if err != nil {
				return nil, err
			}
			if _, err := pw.Write(p.body); err != nil {
				return nil, err
			}
			if err := pw.Close(); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type part struct {
	header message.Header
	body   []byte
}

func (m *Message) parts() []part {
	var parts []part
	if m.Text != "" {
		parts = append(parts, textPart("text/plain", m.Text))
	}
	if m.HTML != "" {
		parts = append(parts, textPart("text/html", m.HTML))
	}
	for _, a := range m.Attachments {
		var h message.Header
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.SetContentType(ct, map[string]string{"name": a.Filename})
		h.Set("Content-Transfer-Encoding", "base64")
		disp := "attachment"
		if a.Inline {
			disp = "inline"
		}
		h.SetContentDisposition(disp, map[string]string{"filename": a.Filename})
		if a.Inline && a.ContentID != "" {
			h.Set("Content-Id", "<"+strings.Trim(a.ContentID, "<>")+">")
		}
		parts = append(parts, part{header: h, body: a.Data})
	}
	return parts
}

func textPart(mediaType, text string) part {
	var h message.Header
	h.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return part{header: h, body: []byte(text)}
}

func writeEntity(w io.Writer, h message.Header, body []byte) error {
	ew, err := message.CreateWriter(w, h)
	if err != nil {
		return err
	}
	if _, err := ew.Write(body); err != nil {
		return err
	}
	return ew.Close()
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("smtp: address %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func messageIDDomain(from, hostname string) string {
	if _, domain, ok := strings.Cut(from, "@"); ok && domain != "" {
		return domain
	}
	return hostname
}

// DotStuff escapes data for the DATA phase: every line that starts with "."
// gets a second one, the first line included.
func DotStuff(data []byte) []byte {
	n := bytes.Count(data, []byte("\n."))
	if len(data) > 0 && data[0] == '.' {
		n++
	}
	if n == 0 {
		return data
	}
	out := make([]byte, 0, len(data)+n)
	atLineStart := true
	for _, b := range data {
		if atLineStart && b == '.' {
			out = append(out, '.')
		}
		out = append(out, b)
		atLineStart = b == '\n'
	}
	return out
}
