package client

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/codec"
	"github.com/meszmate/mailcore/wire"
)

// DefaultPreviewBytes is the preview size FetchEnvelopes uses when the
// caller passes zero.
const DefaultPreviewBytes = 512

// envelopeHeaderFields are requested with BODY.PEEK[HEADER.FIELDS (...)].
// The content fields let the preview be transfer-decoded.
var envelopeHeaderFields = []string{
	"DATE", "SUBJECT", "FROM", "TO", "CC", "BCC", "IN-REPLY-TO", "MESSAGE-ID",
	"CONTENT-TYPE", "CONTENT-TRANSFER-ENCODING",
}

// Search runs UID SEARCH with the given criteria ("ALL" when empty) and
// returns the matching UIDs in ascending order.
func (c *Client) Search(ctx context.Context, criteria string) ([]mailcore.UID, error) {
	if err := c.requireSelected(); err != nil {
		return nil, err
	}
	criteria = strings.TrimSpace(criteria)
	if criteria == "" {
		criteria = "ALL"
	}

	return withAuthRetry(ctx, c, func(ctx context.Context) ([]mailcore.UID, error) {
		var uids []mailcore.UID
		_, err := c.execute(ctx, &command{
			name: "UID SEARCH",
			args: func(e *wire.Encoder) {
				e.SP().Atom(criteria)
			},
			onData: func(u *untagged) error {
				if u.name == "SEARCH" {
					uids = append(uids, readNumbers(u.d)...)
				}
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
		slices.Sort(uids)
		return slices.Compact(uids), nil
	})
}

// StoreFlags changes the flags of the given messages.
func (c *Client) StoreFlags(ctx context.Context, uids []mailcore.UID, mode mailcore.StoreMode, flags []mailcore.Flag) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	set := mailcore.CompactUIDs(uids)
	if set == "" {
		return nil
	}
	list := make([]string, len(flags))
	for i, f := range flags {
		list[i] = string(f)
	}
	_, err := c.execute(ctx, &command{
		name: "UID STORE",
		args: func(e *wire.Encoder) {
			e.SP().Atom(set).SP().Atom(mode.String()).SP().List(list)
		},
	})
	return err
}

// FetchEnvelopes fetches the envelope, flags, size and a text preview of at
// most maxPreview bytes for each message. Results are ordered by UID.
func (c *Client) FetchEnvelopes(ctx context.Context, uids []mailcore.UID, maxPreview int) ([]mailcore.Envelope, error) {
	if err := c.requireSelected(); err != nil {
		return nil, err
	}
	set := mailcore.CompactUIDs(uids)
	if set == "" {
		return nil, nil
	}
	if maxPreview <= 0 {
		maxPreview = DefaultPreviewBytes
	}

	items := []string{
		"UID", "FLAGS", "RFC822.SIZE", "BODYSTRUCTURE",
		"BODY.PEEK[HEADER.FIELDS (" + strings.Join(envelopeHeaderFields, " ") + ")]",
		"BODY.PEEK[TEXT]<0." + strconv.Itoa(maxPreview) + ">",
	}
	keep := max(c.options.LiteralLimit, int64(maxPreview))

	byUID := make(map[mailcore.UID]*mailcore.Envelope)
	_, err := c.execute(ctx, &command{
		name: "UID FETCH",
		keep: keep,
		args: func(e *wire.Encoder) {
			e.SP().Atom(set).SP().List(items)
		},
		onData: func(u *untagged) error {
			if u.name != "FETCH" {
				return nil
			}
			env, err := parseEnvelopeFetch(u.d, maxPreview)
			if err != nil {
				return err
			}
			if env.UID != 0 {
				byUID[env.UID] = env
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([]mailcore.Envelope, 0, len(byUID))
	for _, env := range byUID {
		out = append(out, *env)
	}
	slices.SortFunc(out, func(a, b mailcore.Envelope) int {
		return cmp.Compare(a.UID, b.UID)
	})
	return out, nil
}

func parseEnvelopeFetch(d *wire.Decoder, maxPreview int) (*mailcore.Envelope, error) {
	env := &mailcore.Envelope{}
	var header, text []byte
	err := readFetchItems(d, func(key string) error {
		switch {
		case key == "UID":
			n, err := d.ReadNumber()
			env.UID = mailcore.UID(n)
			return err
		case key == "FLAGS":
			flags, err := d.ReadFlags()
			for _, f := range flags {
				env.Flags = append(env.Flags, mailcore.Flag(f))
			}
			return err
		case key == "RFC822.SIZE":
			n, err := d.ReadNumber64()
			env.Size = int64(n)
			return err
		case key == "BODYSTRUCTURE":
			v, err := d.ReadValue()
			env.HasAttachments = looksLikeAttachment(v)
			return err
		case strings.HasPrefix(key, "BODY[HEADER"):
			v, err := d.ReadValue()
			header = valueBytes(v)
			return err
		case strings.HasPrefix(key, "BODY[TEXT]"):
			v, err := d.ReadValue()
			text = valueBytes(v)
			return err
		}
		_, err := d.ReadValue()
		return err
	})
	if err != nil {
		return nil, err
	}

	h := codec.ParseHeader(header)
	h.FillEnvelope(env)
	if text != nil {
		env.Preview = codec.TextPreview(h, text, maxPreview)
	}
	return env, nil
}

// readFetchItems walks the "(KEY value KEY value ...)" list of a FETCH
// response, calling fn with d positioned at each value.
func readFetchItems(d *wire.Decoder, fn func(key string) error) error {
	return d.ReadList(func() error {
		key, err := d.ReadFetchKey()
		if err != nil {
			return err
		}
		if err := d.ReadSP(); err != nil {
			return err
		}
		return fn(key)
	})
}

func valueBytes(v any) []byte {
	switch v := v.(type) {
	case wire.Literal:
		return v.Data
	case string:
		return []byte(v)
	}
	return nil
}

// looksLikeAttachment guesses from a BODYSTRUCTURE whether the message has
// attachments: any "attachment" disposition, an application/* part or a
// multipart/mixed container.
func looksLikeAttachment(v any) bool {
	var found bool
	var walk func(v any)
	walk = func(v any) {
		if found {
			return
		}
		switch v := v.(type) {
		case []any:
			for _, item := range v {
				walk(item)
			}
		case string:
			switch strings.ToLower(v) {
			case "attachment", "application", "mixed":
				found = true
			}
		}
	}
	walk(v)
	return found
}

// FetchBody fetches a message or one of its MIME parts. With MaxBytes set,
// the server is asked for one byte more than the cap so that truncation can
// be detected; the result holds at most MaxBytes bytes.
func (c *Client) FetchBody(ctx context.Context, spec mailcore.FetchBodySpec) (*mailcore.BodyResult, error) {
	if err := c.requireSelected(); err != nil {
		return nil, err
	}
	if spec.UID == 0 {
		return nil, errors.New("client: FetchBody needs a UID")
	}

	section := "BODY.PEEK[" + spec.Part + "]"
	if spec.MaxBytes > 0 {
		section += "<0." + strconv.FormatInt(spec.MaxBytes+1, 10) + ">"
	}
	items := []string{"UID", section}
	mimeHeader := isPartPath(spec.Part)
	if mimeHeader {
		items = append(items, "BODY.PEEK["+spec.Part+".MIME]")
	}
	keep := int64(-1)
	if spec.MaxBytes > 0 {
		keep = max(spec.MaxBytes+1, c.options.LiteralLimit)
	}

	wantKey := "BODY[" + strings.ToUpper(spec.Part) + "]"
	mimeKey := "BODY[" + strings.ToUpper(spec.Part) + ".MIME]"
	res := &mailcore.BodyResult{UID: spec.UID, Part: spec.Part}
	var (
		body   []byte
		header []byte
		found  bool
	)
	_, err := c.execute(ctx, &command{
		name: "UID FETCH",
		keep: keep,
		args: func(e *wire.Encoder) {
			e.SP().Number(uint64(spec.UID)).SP().List(items)
		},
		onData: func(u *untagged) error {
			if u.name != "FETCH" {
				return nil
			}
			var uid mailcore.UID
			var b, h []byte
			var got bool
			err := readFetchItems(u.d, func(key string) error {
				switch {
				case key == "UID":
					n, err := u.d.ReadNumber()
					uid = mailcore.UID(n)
					return err
				case key == mimeKey:
					v, err := u.d.ReadValue()
					h = valueBytes(v)
					return err
				case strings.HasPrefix(key, wantKey):
					v, err := u.d.ReadValue()
					b, got = valueBytes(v), true
					return err
				}
				_, err := u.d.ReadValue()
				return err
			})
			if err != nil {
				return err
			}
			if uid == spec.UID && got {
				body, header, found = b, h, true
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return res, nil
	}

	if spec.MaxBytes > 0 && int64(len(body)) > spec.MaxBytes {
		body = body[:spec.MaxBytes]
		res.Truncated = true
	}
	res.Bytes = body

	if header == nil && spec.Part == "" {
		header = body
	}
	if header != nil {
		res.ContentType, res.Filename = codec.ParseHeader(header).ContentInfo()
	}
	return res, nil
}

// isPartPath reports whether part is a numeric MIME part path like "1.2".
func isPartPath(part string) bool {
	if part == "" {
		return false
	}
	for _, seg := range strings.Split(part, ".") {
		if seg == "" || strings.Trim(seg, "0123456789") != "" {
			return false
		}
	}
	return true
}

// Append appends a message to the named mailbox. With LITERAL+ the message
// is sent without waiting for a continuation. With UIDPLUS the result
// carries the new message's UID.
func (c *Client) Append(ctx context.Context, mailbox string, msg []byte, opts *mailcore.AppendOptions) (*mailcore.AppendResult, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	caps := c.Capabilities()

	status, err := c.execute(ctx, &command{
		name:    "APPEND",
		literal: msg,
		nonSync: caps.LiteralPlus,
		args: func(e *wire.Encoder) {
			e.SP().Mailbox(mailbox)
			if opts != nil && len(opts.Flags) > 0 {
				flags := make([]string, len(opts.Flags))
				for i, f := range opts.Flags {
					flags[i] = string(f)
				}
				e.SP().List(flags)
			}
			if opts != nil && !opts.InternalDate.IsZero() {
				e.SP().DateTime(opts.InternalDate)
			}
			e.SP().LiteralHeader(int64(len(msg)), caps.LiteralPlus)
		},
	})
	if err != nil {
		return nil, err
	}

	res := &mailcore.AppendResult{}
	if status.Code == mailcore.ResponseCodeAppendUID {
		fields := strings.Fields(status.CodeArg)
		if len(fields) == 2 {
			v, _ := strconv.ParseUint(fields[0], 10, 32)
			u, _ := strconv.ParseUint(fields[1], 10, 32)
			res.UIDValidity, res.UID = uint32(v), mailcore.UID(u)
		}
	}
	return res, nil
}
