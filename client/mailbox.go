package client

import (
	"context"
	"strconv"
	"strings"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/wire"
	"github.com/meszmate/mailcore/wire/utf7"
)

// SelectMailbox selects the named mailbox. The selection state is updated
// only when the server accepts the command; a rejected SELECT leaves no
// mailbox selected, as the server does.
func (c *Client) SelectMailbox(ctx context.Context, name string) (*mailcore.MailboxStatus, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	status := &mailcore.MailboxStatus{Name: name}
	done, err := c.execute(ctx, &command{
		name: "SELECT",
		args: func(e *wire.Encoder) {
			e.SP().Mailbox(name)
		},
		onData: func(u *untagged) error {
			switch {
			case u.hasNum && u.name == "EXISTS":
				status.Exists = u.num
			case u.name == "OK":
				st, err := u.status()
				if err != nil {
					return err
				}
				applySelectCode(status, st)
			}
			return nil
		},
	})
	if err != nil {
		if done != nil {
			c.mu.Lock()
			c.selected = nil
			if c.state == mailcore.ConnStateSelected {
				c.state = mailcore.ConnStateAuthenticated
			}
			c.mu.Unlock()
		}
		return nil, err
	}
	applySelectCode(status, done)

	c.mu.Lock()
	c.selected = status
	c.state = mailcore.ConnStateSelected
	c.mu.Unlock()

	sel := *status
	return &sel, nil
}

func applySelectCode(status *mailcore.MailboxStatus, st *mailcore.StatusResponse) {
	n, _ := strconv.ParseUint(strings.TrimSpace(st.CodeArg), 10, 32)
	switch st.Code {
	case mailcore.ResponseCodeUnseen:
		status.FirstUnseen = uint32(n)
	case mailcore.ResponseCodeUIDValidity:
		status.UIDValidity = uint32(n)
	case mailcore.ResponseCodeUIDNext:
		status.UIDNext = uint32(n)
	case mailcore.ResponseCodeReadOnly:
		status.ReadOnly = true
	case mailcore.ResponseCodeReadWrite:
		status.ReadOnly = false
	}
}

// ListMailboxes lists all mailboxes with LIST "" "*".
func (c *Client) ListMailboxes(ctx context.Context) ([]mailcore.MailboxInfo, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	var boxes []mailcore.MailboxInfo
	_, err := c.execute(ctx, &command{
		name: "LIST",
		args: func(e *wire.Encoder) {
			e.SP().QuotedString("").SP().QuotedString("*")
		},
		onData: func(u *untagged) error {
			if u.name != "LIST" {
				return nil
			}
			info, err := parseListData(u.d)
			if err != nil {
				return err
			}
			boxes = append(boxes, info)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return boxes, nil
}

// parseListData parses "(attrs) delim name".
func parseListData(d *wire.Decoder) (mailcore.MailboxInfo, error) {
	var info mailcore.MailboxInfo
	attrs, err := d.ReadFlags()
	if err != nil {
		return info, err
	}
	info.Attributes = attrs
	if err := d.ReadSP(); err != nil {
		return info, err
	}
	delim, _, err := d.ReadNString()
	if err != nil {
		return info, err
	}
	info.Delimiter = delim
	if err := d.ReadSP(); err != nil {
		return info, err
	}
	raw, err := d.ReadString()
	if err != nil {
		return info, err
	}
	info.Name = utf7.DecodeLenient(raw)
	info.Path = info.Name
	if delim != "" && delim != "/" {
		info.Path = strings.ReplaceAll(info.Name, delim, "/")
	}
	return info, nil
}
