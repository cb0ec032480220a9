package smtp

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/meszmate/mailcore/wire"
)

// Reply is a complete, possibly multi-line, server reply.
type Reply struct {
	Code int
	// Lines holds the text of each line without the code and separator.
	Lines []string
}

// Text joins the reply lines with spaces.
func (r *Reply) Text() string {
	return strings.Join(r.Lines, " ")
}

// ReplyError is a reply with an unexpected code.
type ReplyError struct {
	// Stage names the command or step, such as "MAIL FROM" or "greeting".
	Stage string
	Code  int
	Lines []string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("smtp: %s: %d %s", e.Stage, e.Code, strings.Join(e.Lines, " "))
}

// Temporary reports whether the reply is a transient (4xx) failure.
func (e *ReplyError) Temporary() bool {
	return e.Code >= 400 && e.Code < 500
}

var authKeywordRe = regexp.MustCompile(`(?i)\bAUTH|XOAUTH2|CREDENTIALS|PASSWORD|USERNAME`)

// AuthFailure reports whether the reply rejected the credentials: a 5xx code
// whose text or stage mentions authentication, or one of the codes reserved
// for it.
func (e *ReplyError) AuthFailure() bool {
	if e.Code < 500 || e.Code >= 600 {
		return false
	}
	switch e.Code {
	case 530, 534, 535:
		return true
	}
	return authKeywordRe.MatchString(e.Stage) || authKeywordRe.MatchString(strings.Join(e.Lines, " "))
}

func newReplyError(stage string, r *Reply) *ReplyError {
	return &ReplyError{Stage: stage, Code: r.Code, Lines: r.Lines}
}

// readReply reads lines until one whose fourth character is not a hyphen.
func readReply(ctx context.Context, lr *wire.LineReader) (*Reply, error) {
	var r Reply
	for {
		line, err := lr.ReadLine(ctx)
		if err != nil {
			return nil, err
		}
		if len(line) < 3 {
			return nil, fmt.Errorf("smtp: short reply line %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("smtp: malformed reply line %q", line)
		}
		if r.Code != 0 && code != r.Code {
			return nil, fmt.Errorf("smtp: reply code changed from %d to %d", r.Code, code)
		}
		r.Code = code
		more := len(line) > 3 && line[3] == '-'
		if len(line) > 4 {
			r.Lines = append(r.Lines, line[4:])
		} else {
			r.Lines = append(r.Lines, "")
		}
		if !more {
			return &r, nil
		}
	}
}

func (r *Reply) expect(stage string, codes ...int) error {
	if slices.Contains(codes, r.Code) {
		return nil
	}
	return newReplyError(stage, r)
}
