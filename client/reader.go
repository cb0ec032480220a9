package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/wire"
)

// untagged is a parsed "* ..." response. d is positioned after the name.
type untagged struct {
	// num is the leading number of responses like "* 12 EXISTS".
	num    uint32
	hasNum bool
	// name is the upper-cased response name.
	name string
	d    *wire.Decoder
	resp *wire.Response
}

func parseUntagged(resp *wire.Response) (*untagged, error) {
	d := wire.NewDecoder(resp)
	if err := d.ExpectByte('*'); err != nil {
		return nil, err
	}
	if err := d.ReadSP(); err != nil {
		return nil, err
	}
	atom, err := d.ReadAtom()
	if err != nil {
		return nil, err
	}
	u := &untagged{d: d, resp: resp}
	if n, err := strconv.ParseUint(atom, 10, 32); err == nil {
		u.num, u.hasNum = uint32(n), true
		if err := d.ReadSP(); err != nil {
			return nil, err
		}
		if atom, err = d.ReadAtom(); err != nil {
			return nil, err
		}
	}
	u.name = strings.ToUpper(atom)
	d.SkipSpaces()
	return u, nil
}

// status reads the rest of an OK/NO/BAD/BYE/PREAUTH response.
func (u *untagged) status() (*mailcore.StatusResponse, error) {
	return readStatus(u.d, u.name)
}

func isStatusName(name string) bool {
	switch mailcore.StatusResponseType(name) {
	case mailcore.StatusResponseTypeOK, mailcore.StatusResponseTypeNO, mailcore.StatusResponseTypeBAD,
		mailcore.StatusResponseTypeBYE, mailcore.StatusResponseTypePREAUTH:
		return true
	}
	return false
}

func readStatus(d *wire.Decoder, name string) (*mailcore.StatusResponse, error) {
	status := &mailcore.StatusResponse{Type: mailcore.StatusResponseType(name)}
	code, arg, ok, err := d.ReadResponseCode()
	if err != nil {
		return nil, err
	}
	if ok {
		status.Code = mailcore.ResponseCode(code)
		status.CodeArg = arg
	}
	status.Text = d.ReadRest()
	return status, nil
}

// parseTagged parses "TAG STATUS [CODE] text".
func parseTagged(resp *wire.Response) (string, *mailcore.StatusResponse, error) {
	d := wire.NewDecoder(resp)
	tag, err := d.ReadAtom()
	if err != nil {
		return "", nil, err
	}
	if err := d.ReadSP(); err != nil {
		return "", nil, err
	}
	name, err := d.ReadAtom()
	if err != nil {
		return "", nil, err
	}
	name = strings.ToUpper(name)
	switch mailcore.StatusResponseType(name) {
	case mailcore.StatusResponseTypeOK, mailcore.StatusResponseTypeNO, mailcore.StatusResponseTypeBAD:
	default:
		return "", nil, fmt.Errorf("imap: unknown completion status %q", name)
	}
	d.SkipSpaces()
	status, err := readStatus(d, name)
	return tag, status, err
}

// handleUntagged applies untagged data every command may see.
func (c *Client) handleUntagged(u *untagged) {
	switch {
	case u.name == "CAPABILITY":
		c.setCaps(strings.Fields(u.d.ReadRest()))
	case isStatusName(u.name):
		status, err := u.status()
		if err != nil {
			return
		}
		if status.Type == mailcore.StatusResponseTypeBYE {
			c.options.Logger.Debug("server said BYE", "text", status.Text)
		}
		if status.Code == mailcore.ResponseCodeAlert {
			c.options.Logger.Warn("server alert", "text", status.Text)
		}
		c.handleStatusCode(status)
	case u.hasNum && u.name == "EXISTS":
		c.mu.Lock()
		if c.selected != nil {
			c.selected.Exists = u.num
		}
		c.mu.Unlock()
		if h := c.options.UnilateralDataHandler; h != nil && h.Exists != nil {
			h.Exists(u.num)
		}
	case u.hasNum && u.name == "EXPUNGE":
		c.mu.Lock()
		if c.selected != nil && c.selected.Exists > 0 {
			c.selected.Exists--
		}
		c.mu.Unlock()
		if h := c.options.UnilateralDataHandler; h != nil && h.Expunge != nil {
			h.Expunge(u.num)
		}
	}
}

// handleStatusCode applies response codes that change client state.
func (c *Client) handleStatusCode(status *mailcore.StatusResponse) {
	if status.Code == mailcore.ResponseCodeCapability {
		c.setCaps(strings.Fields(status.CodeArg))
	}
}

func (c *Client) setCaps(fields []string) {
	caps := mailcore.ParseCapabilities(fields)
	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
}

// readNumbers reads the space-separated numbers of a SEARCH response,
// skipping anything that is not a number, such as a MODSEQ suffix.
func readNumbers(d *wire.Decoder) []mailcore.UID {
	var out []mailcore.UID
	for _, f := range strings.Fields(d.ReadRest()) {
		if n, err := strconv.ParseUint(f, 10, 32); err == nil && n > 0 {
			out = append(out, mailcore.UID(n))
		}
	}
	return out
}
