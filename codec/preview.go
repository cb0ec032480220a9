package codec

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
)

const maxPartDepth = 8

// TextPreview extracts readable text from a possibly truncated message body
// and caps it at limit bytes. h supplies the message's Content-Type and
// Content-Transfer-Encoding. A text/plain part is preferred over text/html.
func TextPreview(h Header, body []byte, limit int) string {
	// An unknown charset or encoding still yields an entity with the raw body.
	e, _ := message.New(h.Header.Header, bytes.NewReader(body))
	text := string(body)
	if e != nil {
		text, _ = entityText(e, 0)
	}
	return Truncate(collapseSpace(text), limit)
}

// entityText returns the text of e and whether it came from HTML.
func entityText(e *message.Entity, depth int) (string, bool) {
	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxPartDepth {
			return "", false
		}
		var fallback string
		for {
			part, err := mr.NextPart()
			if part == nil || (err != nil && !message.IsUnknownCharset(err)) {
				break
			}
			text, isHTML := entityText(part, depth+1)
			if strings.TrimSpace(text) == "" {
				continue
			}
			if !isHTML {
				return text, false
			}
			if fallback == "" {
				fallback = text
			}
		}
		return fallback, fallback != ""
	}

	if disp, _, _ := e.Header.ContentDisposition(); strings.EqualFold(disp, "attachment") {
		return "", false
	}
	ct, _, _ := e.Header.ContentType()
	if ct != "" && !strings.HasPrefix(ct, "text/") {
		return "", false
	}
	// A truncated body fails to decode at the cut; keep what was read.
	b, _ := io.ReadAll(e.Body)
	if ct == "text/html" {
		return StripHTML(string(b)), true
	}
	return string(b), false
}

var (
	htmlBlockRe = regexp.MustCompile(`(?is)<(script|style|head)\b.*?(</(script|style|head)>|$)`)
	htmlTagRe   = regexp.MustCompile(`(?s)<[^>]*>?`)
)

// StripHTML reduces an HTML fragment to its text content.
func StripHTML(s string) string {
	s = htmlBlockRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate caps s at limit bytes without splitting a UTF-8 sequence. A
// limit of zero or less leaves s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
