package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/auth"
	"github.com/meszmate/mailcore/mailtest"
	"github.com/meszmate/mailcore/wire"
)

var plainIR = base64.StdEncoding.EncodeToString([]byte("\x00user\x00pass"))

func testConfig(a mailcore.AuthMethod) *mailcore.Config {
	return &mailcore.Config{
		Host:           "imap.example.com",
		Port:           993,
		Auth:           a,
		CommandTimeout: 2 * time.Second,
	}
}

// dial connects a client to a scripted server.
func dial(t *testing.T, cfg *mailcore.Config, script func(s *mailtest.Server), opts ...Option) (*Client, error) {
	t.Helper()
	s := mailtest.NewServer(t, script)
	c, err := New(s.Transport(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, c.Connect(context.Background())
}

func mustDial(t *testing.T, cfg *mailcore.Config, script func(s *mailtest.Server), opts ...Option) *Client {
	t.Helper()
	c, err := dial(t, cfg, script, opts...)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	return c
}

// handshake plays greeting, CAPABILITY and an inline AUTHENTICATE PLAIN.
func handshake(s *mailtest.Server, caps string) {
	s.Send("* OK IMAP4rev1 ready")
	tag := s.ExpectCommand("CAPABILITY")
	s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=PLAIN "+caps, tag+" OK CAPABILITY completed")
	tag = s.ExpectCommand("AUTHENTICATE PLAIN " + plainIR)
	s.Send(tag + " OK authenticated")
}

func selectInbox(s *mailtest.Server, exists int) {
	tag := s.ExpectCommand(`SELECT "INBOX"`)
	s.Sendf("* %d EXISTS", exists)
	s.Send("* OK [UIDVALIDITY 3857529045] UIDs valid", tag+" OK [READ-WRITE] SELECT completed")
}

func mustSelect(t *testing.T, c *Client) {
	t.Helper()
	if _, err := c.SelectMailbox(context.Background(), "INBOX"); err != nil {
		t.Fatalf("SelectMailbox() error: %v", err)
	}
}

type testProvider struct {
	mu        sync.Mutex
	token     string
	next      string
	refreshes int
	// err fails AccessToken.
	err       error
}

func (p *testProvider) AccessToken(ctx context.Context) (*mailcore.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &mailcore.Token{AccessToken: p.token}, nil
}

func (p *testProvider) RefreshAccessToken(ctx context.Context) (*mailcore.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	p.token = p.next
	return &mailcore.Token{AccessToken: p.token}, nil
}

func (p *testProvider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// expectXOAuth2 reads an AUTHENTICATE XOAUTH2 command with an inline
// initial response and returns its tag and bearer token.
func expectXOAuth2(t *testing.T, s *mailtest.Server) (tag, token string) {
	tag, rest := s.ExpectCommandLine("AUTHENTICATE XOAUTH2 ")
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(rest, "AUTHENTICATE XOAUTH2 "))
	if err != nil {
		t.Errorf("initial response is not base64: %v", err)
		return tag, ""
	}
	_, token, err = auth.ParseXOAuth2(raw)
	if err != nil {
		t.Errorf("ParseXOAuth2() error: %v", err)
	}
	return tag, token
}

func rejectXOAuth2(s *mailtest.Server, tag string) {
	s.Send("+ " + base64.StdEncoding.EncodeToString([]byte(`{"status":"401","schemes":"bearer"}`)))
	s.Expect("")
	s.Send(tag + " NO [AUTHENTICATIONFAILED] Invalid credentials (Failure)")
}

func TestSession(t *testing.T) {
	cfg := testConfig(mailcore.XOAuth2Auth{Username: "user@example.com", AccessToken: "tok"})
	c := mustDial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK Gimap ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 AUTH=XOAUTH2 IDLE", tag+" OK Thats all she wrote!")

		// No SASL-IR: the initial response follows the continuation.
		tag, rest := s.ExpectCommandLine("AUTHENTICATE XOAUTH2")
		if rest != "AUTHENTICATE XOAUTH2" {
			t.Errorf("AUTHENTICATE line = %q, want no initial response", rest)
		}
		s.Send("+ ")
		raw, err := base64.StdEncoding.DecodeString(s.ReadLine())
		if err != nil {
			t.Errorf("response is not base64: %v", err)
		}
		user, token, err := auth.ParseXOAuth2(raw)
		if err != nil || user != "user@example.com" || token != "tok" {
			t.Errorf("ParseXOAuth2() = %q, %q, %v", user, token, err)
		}
		s.Send(tag + " OK user@example.com authenticated (Success)")

		tag = s.ExpectCommand(`SELECT "INBOX"`)
		s.Send("* FLAGS (\\Answered \\Flagged \\Draft \\Deleted \\Seen)",
			"* OK [PERMANENTFLAGS (\\Answered \\Flagged \\Draft \\Deleted \\Seen \\*)] Flags permitted.",
			"* OK [UIDVALIDITY 1] UIDs valid.",
			"* 10 EXISTS",
			"* 0 RECENT",
			"* OK [UNSEEN 2] First unseen.",
			"* OK [UIDNEXT 11] Predicted next UID.",
			tag+" OK [READ-WRITE] INBOX selected. (Success)")

		tag = s.ExpectCommand("UID SEARCH ALL")
		s.Send("* SEARCH 1 2 3 4 5 6 7 8 9 10", tag+" OK SEARCH completed (Success)")
	})

	if got := c.State(); got != mailcore.ConnStateAuthenticated {
		t.Errorf("State() = %v, want authenticated", got)
	}
	if !c.SupportsIdle() {
		t.Error("SupportsIdle() = false")
	}

	st, err := c.SelectMailbox(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("SelectMailbox() error: %v", err)
	}
	want := mailcore.MailboxStatus{Name: "INBOX", Exists: 10, FirstUnseen: 2, UIDValidity: 1, UIDNext: 11}
	if *st != want {
		t.Errorf("SelectMailbox() = %+v, want %+v", *st, want)
	}
	if got := c.State(); got != mailcore.ConnStateSelected {
		t.Errorf("State() = %v, want selected", got)
	}

	uids, err := c.Search(context.Background(), "")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	wantUIDs := []mailcore.UID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if !slices.Equal(uids, wantUIDs) {
		t.Errorf("Search() = %v, want %v", uids, wantUIDs)
	}
}

func TestConnect_GreetingRejected(t *testing.T) {
	c, err := dial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		s.Send("* BYE too many connections")
	})
	var pe *mailcore.ProtocolError
	if !errors.As(err, &pe) || pe.Stage != "greeting" {
		t.Fatalf("Connect() error = %v, want greeting ProtocolError", err)
	}
	if c.State() != mailcore.ConnStateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
}

func TestConnect_Preauth(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		s.Send("* PREAUTH welcome back")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1", tag+" OK done")
	})
	if c.State() != mailcore.ConnStateAuthenticated {
		t.Errorf("State() = %v, want authenticated", c.State())
	}
}

func TestConnect_AuthRejected(t *testing.T) {
	_, err := dial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=PLAIN", tag+" OK done")
		tag = s.ExpectCommand("AUTHENTICATE PLAIN")
		s.Send(tag + " NO [AUTHENTICATIONFAILED] bad password")
	})
	var ae *mailcore.AuthError
	if !errors.As(err, &ae) || ae.Mechanism != "PLAIN" {
		t.Fatalf("Connect() error = %v, want AuthError for PLAIN", err)
	}
	var ce *mailcore.CommandError
	if !errors.As(err, &ce) || ce.Code != mailcore.ResponseCodeAuthenticationFailed {
		t.Errorf("Connect() error = %v, want AUTHENTICATIONFAILED code", err)
	}
}

func TestConnect_Login(t *testing.T) {
	mustDial(t, testConfig(mailcore.LoginAuth{Username: "joe", Password: `p"a\ss`}), func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1", tag+" OK done")
		tag = s.ExpectCommand(`LOGIN "joe" "p\"a\\ss"`)
		s.Send(tag + " OK logged in")
	})
}

func TestConnect_LoginLineBreakInPassword(t *testing.T) {
	_, err := dial(t, testConfig(mailcore.LoginAuth{Username: "joe", Password: "pw\r\nA0003 DELETE INBOX"}), func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1", tag+" OK done")
	})
	if !errors.Is(err, wire.ErrUnquotable) {
		t.Fatalf("Connect() error = %v, want ErrUnquotable", err)
	}
}

func TestConnect_LoginDisabled(t *testing.T) {
	_, err := dial(t, testConfig(mailcore.LoginAuth{Username: "joe", Password: "pw"}), func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 LOGINDISABLED", tag+" OK done")
	})
	if !errors.Is(err, mailcore.ErrNotSupported) {
		t.Fatalf("Connect() error = %v, want ErrNotSupported", err)
	}
}

func TestConnect_StartTLSWithoutUpgrade(t *testing.T) {
	cfg := testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"})
	cfg.StartTLS = true
	cfg.Port = 143
	_, err := dial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 AUTH=PLAIN", tag+" OK done")
	})
	var pe *mailcore.ProtocolError
	if !errors.As(err, &pe) || pe.Stage != "starttls" || !errors.Is(err, mailcore.ErrNotSupported) {
		t.Fatalf("Connect() error = %v, want starttls ErrNotSupported", err)
	}
}

func TestConnect_ClientID(t *testing.T) {
	cfg := testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"})
	cfg.ClientID = map[string]string{"version": "1.0", "name": "mailctl"}
	c := mustDial(t, cfg, func(s *mailtest.Server) {
		handshake(s, "ID")
		tag := s.ExpectCommand(`ID ("name" "mailctl" "version" "1.0")`)
		// A rejected ID does not fail the connection.
		s.Send(tag + " BAD unknown command")
	})
	if c.State() != mailcore.ConnStateAuthenticated {
		t.Errorf("State() = %v, want authenticated", c.State())
	}
}

func TestConnect_XOAuth2RefreshOnce(t *testing.T) {
	p := &testProvider{token: "stale", next: "fresh"}
	cfg := testConfig(mailcore.XOAuth2Auth{Username: "user@example.com", Provider: p})
	mustDial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=XOAUTH2", tag+" OK done")

		tag, token := expectXOAuth2(t, s)
		if token != "stale" {
			t.Errorf("first attempt token = %q, want stale", token)
		}
		rejectXOAuth2(s, tag)

		tag, token = expectXOAuth2(t, s)
		if token != "fresh" {
			t.Errorf("second attempt token = %q, want fresh", token)
		}
		s.Send(tag + " OK authenticated")
	})
	if got := p.Refreshes(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestConnect_XOAuth2SecondFailure(t *testing.T) {
	p := &testProvider{token: "stale", next: "also-bad"}
	cfg := testConfig(mailcore.XOAuth2Auth{Username: "user@example.com", Provider: p})
	_, err := dial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=XOAUTH2", tag+" OK done")
		for range 2 {
			tag, _ := expectXOAuth2(t, s)
			rejectXOAuth2(s, tag)
		}
	})
	var ae *mailcore.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Connect() error = %v, want AuthError", err)
	}
	if got := p.Refreshes(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestConnect_XOAuth2ProviderFailure(t *testing.T) {
	errStore := errors.New("token store unreachable")
	p := &testProvider{next: "fresh", err: errStore}
	cfg := testConfig(mailcore.XOAuth2Auth{Username: "user@example.com", Provider: p})
	_, err := dial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=XOAUTH2", tag+" OK done")
	})
	if !errors.Is(err, errStore) {
		t.Fatalf("Connect() error = %v, want provider error", err)
	}
	if auth.IsAuthFailure(err) {
		t.Errorf("IsAuthFailure(%v) = true for a provider failure", err)
	}
	if got := p.Refreshes(); got != 0 {
		t.Errorf("refreshes = %d, want 0", got)
	}
}

func TestSearch_RefreshOnAuthFailure(t *testing.T) {
	p := &testProvider{token: "tok", next: "tok2"}
	cfg := testConfig(mailcore.XOAuth2Auth{Username: "user@example.com", Provider: p})
	c := mustDial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=XOAUTH2", tag+" OK done")
		tag, _ = expectXOAuth2(t, s)
		s.Send(tag + " OK authenticated")
		selectInbox(s, 3)

		tag = s.ExpectCommand("UID SEARCH UNSEEN")
		s.Send(tag + " NO [AUTHENTICATIONFAILED] token expired")
		tag = s.ExpectCommand("UID SEARCH UNSEEN")
		s.Send("* SEARCH 3 1", tag+" OK done")
	})
	mustSelect(t, c)

	uids, err := c.Search(context.Background(), "UNSEEN")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if !slices.Equal(uids, []mailcore.UID{1, 3}) {
		t.Errorf("Search() = %v, want [1 3]", uids)
	}
	if got := p.Refreshes(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestSearch_SecondAuthFailure(t *testing.T) {
	p := &testProvider{token: "tok", next: "tok2"}
	cfg := testConfig(mailcore.XOAuth2Auth{Username: "user@example.com", Provider: p})
	c := mustDial(t, cfg, func(s *mailtest.Server) {
		s.Send("* OK ready")
		tag := s.ExpectCommand("CAPABILITY")
		s.Send("* CAPABILITY IMAP4rev1 SASL-IR AUTH=XOAUTH2", tag+" OK done")
		tag, _ = expectXOAuth2(t, s)
		s.Send(tag + " OK authenticated")
		selectInbox(s, 3)

		for range 2 {
			tag = s.ExpectCommand("UID SEARCH UNSEEN")
			s.Send(tag + " NO [AUTHENTICATIONFAILED] token expired")
		}
		tag = s.ExpectCommand("UID SEARCH ALL")
		s.Send(tag + " OK done")
	})
	mustSelect(t, c)

	_, err := c.Search(context.Background(), "UNSEEN")
	var ce *mailcore.CommandError
	if !errors.As(err, &ce) || ce.Code != mailcore.ResponseCodeAuthenticationFailed {
		t.Fatalf("Search() error = %v, want AUTHENTICATIONFAILED", err)
	}
	if got := p.Refreshes(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	// The third command on the wire is the next call, not a retry.
	if _, err := c.Search(context.Background(), "ALL"); err != nil {
		t.Errorf("Search(ALL) error: %v", err)
	}
}

func TestTagSequence(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 1)
		for range 2 {
			tag := s.ExpectCommand("UID SEARCH")
			s.Send(tag + " OK done")
		}
		tag := s.ExpectCommand("UID STORE")
		s.Send(tag + " OK done")
		tag = s.ExpectCommand("UID SEARCH")
		if tag != "A0007" {
			t.Errorf("seventh command tag = %q, want A0007", tag)
		}
		s.Send(tag + " OK done")
	})
	mustSelect(t, c)
	ctx := context.Background()
	for range 2 {
		if _, err := c.Search(ctx, "ALL"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.StoreFlags(ctx, []mailcore.UID{1}, mailcore.StoreAdd, []mailcore.Flag{mailcore.FlagSeen}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Search(ctx, "ALL"); err != nil {
		t.Fatal(err)
	}
}

func TestCommandTimeout(t *testing.T) {
	cfg := testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"})
	cfg.CommandTimeout = 200 * time.Millisecond
	c := mustDial(t, cfg, func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 1)
		s.ExpectCommand("UID SEARCH ALL")
		// No reply.
	})
	mustSelect(t, c)

	start := time.Now()
	_, err := c.Search(context.Background(), "ALL")
	if !mailcore.IsTimeout(err) {
		t.Fatalf("Search() error = %v, want timeout", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Search() took %v, want about 200ms", d)
	}

	// A late tagged reply must not be taken for a later command's.
	if c.IsConnected() {
		t.Error("IsConnected() = true after timeout")
	}
	if got := c.State(); got != mailcore.ConnStateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if c.Selected() != nil {
		t.Error("Selected() != nil after timeout")
	}
	if _, err := c.Search(context.Background(), "ALL"); !errors.Is(err, mailcore.ErrClosed) {
		t.Errorf("Search() after timeout error = %v, want ErrClosed", err)
	}
}

func TestRequiresSelection(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "IDLE")
	})
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["Search"] = c.Search(ctx, "ALL")
	_, checks["FetchEnvelopes"] = c.FetchEnvelopes(ctx, []mailcore.UID{1}, 0)
	_, checks["FetchBody"] = c.FetchBody(ctx, mailcore.FetchBodySpec{UID: 1})
	checks["StoreFlags"] = c.StoreFlags(ctx, []mailcore.UID{1}, mailcore.StoreAdd, []mailcore.Flag{mailcore.FlagSeen})
	checks["Idle"] = c.Idle(ctx, nil, time.Second)
	for name, err := range checks {
		if !errors.Is(err, mailcore.ErrNoMailboxSelected) {
			t.Errorf("%s() error = %v, want ErrNoMailboxSelected", name, err)
		}
	}
}

func TestSelectMailbox_Rejected(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 4)
		tag := s.ExpectCommand(`SELECT "Missing"`)
		s.Send(tag + " NO [NONEXISTENT] no such mailbox")
	})
	mustSelect(t, c)

	_, err := c.SelectMailbox(context.Background(), "Missing")
	var ce *mailcore.CommandError
	if !errors.As(err, &ce) || ce.Type != mailcore.StatusResponseTypeNO {
		t.Fatalf("SelectMailbox() error = %v, want NO CommandError", err)
	}
	if c.Selected() != nil {
		t.Error("Selected() != nil after rejected SELECT")
	}
	if c.State() != mailcore.ConnStateAuthenticated {
		t.Errorf("State() = %v, want authenticated", c.State())
	}
}

func TestListMailboxes(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		tag := s.ExpectCommand(`LIST "" "*"`)
		s.Send(`* LIST (\HasNoChildren) "." "INBOX"`,
			`* LIST (\HasChildren \Noselect) "." "Archive"`,
			`* LIST (\HasNoChildren) "." "Archive.Entw&APw-rfe"`,
			`* LIST (\Noselect) NIL "Flat"`,
			tag+" OK LIST completed")
	})
	boxes, err := c.ListMailboxes(context.Background())
	if err != nil {
		t.Fatalf("ListMailboxes() error: %v", err)
	}
	want := []mailcore.MailboxInfo{
		{Name: "INBOX", Path: "INBOX", Delimiter: ".", Attributes: []string{`\HasNoChildren`}},
		{Name: "Archive", Path: "Archive", Delimiter: ".", Attributes: []string{`\HasChildren`, `\Noselect`}},
		{Name: "Archive.Entwürfe", Path: "Archive/Entwürfe", Delimiter: ".", Attributes: []string{`\HasNoChildren`}},
		{Name: "Flat", Path: "Flat", Attributes: []string{`\Noselect`}},
	}
	if len(boxes) != len(want) {
		t.Fatalf("ListMailboxes() returned %d mailboxes, want %d", len(boxes), len(want))
	}
	for i := range want {
		got := boxes[i]
		if got.Name != want[i].Name || got.Path != want[i].Path || got.Delimiter != want[i].Delimiter ||
			!slices.Equal(got.Attributes, want[i].Attributes) {
			t.Errorf("mailbox %d = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestStoreFlags(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 5)
		tag := s.ExpectCommand(`UID STORE 1:3,5 -FLAGS (\Seen \Flagged)`)
		s.Send(`* 1 FETCH (UID 1 FLAGS ())`, tag+" OK STORE completed")
	})
	mustSelect(t, c)
	err := c.StoreFlags(context.Background(), []mailcore.UID{5, 2, 1, 3, 2}, mailcore.StoreRemove,
		[]mailcore.Flag{mailcore.FlagSeen, mailcore.FlagFlagged})
	if err != nil {
		t.Fatalf("StoreFlags() error: %v", err)
	}
}

func TestFetchEnvelopes(t *testing.T) {
	header := "Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Subject: =?UTF-8?Q?Gr=C3=BC=C3=9Fe?=\r\n" +
		"From: Ann Example <ann@example.com>\r\n" +
		"To: bob@example.com, Carol <carol@example.com>\r\n" +
		"Message-ID: <m1@example.com>\r\n\r\n"
	text := "Hello   there,\r\nsee you soon."

	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 2)
		tag := s.ExpectCommand("UID FETCH 7,9 (UID FLAGS RFC822.SIZE BODYSTRUCTURE BODY.PEEK[HEADER.FIELDS (DATE SUBJECT FROM TO CC BCC IN-REPLY-TO MESSAGE-ID CONTENT-TYPE CONTENT-TRANSFER-ENCODING)] BODY.PEEK[TEXT]<0.20>)")

		// UID 9 first; the client orders by UID.
		s.Send(`* 2 FETCH (UID 9 FLAGS () RFC822.SIZE 10 BODYSTRUCTURE ("text" "plain" ("charset" "us-ascii") NIL NIL "7bit" 2 1 NIL NIL NIL NIL) BODY[HEADER.FIELDS (SUBJECT)] {16}`)
		s.SendRaw("Subject: two\r\n\r\n")
		s.Send(`)`)

		s.Sendf(`* 1 FETCH (UID 7 FLAGS (\Seen) RFC822.SIZE 2048 BODYSTRUCTURE (("text" "plain" ("charset" "utf-8") NIL NIL "7bit" 10 1 NIL NIL NIL NIL)("application" "pdf" ("name" "a.pdf") NIL NIL "base64" 100 NIL ("attachment" ("filename" "a.pdf")) NIL NIL) "mixed" ("boundary" "b1") NIL NIL NIL) BODY[HEADER.FIELDS (DATE SUBJECT FROM TO CC BCC IN-REPLY-TO MESSAGE-ID CONTENT-TYPE CONTENT-TRANSFER-ENCODING)] {%d}`, len(header))
		// The literal arrives in several chunks.
		s.SendRaw(header[:7])
		s.SendRaw(header[7:40])
		s.SendRaw(header[40:])
		s.Sendf(` BODY[TEXT]<0> {%d}`, len(text))
		s.SendRaw(text[:5])
		s.SendRaw(text[5:])
		s.Send(")", tag+" OK FETCH completed")
	})
	mustSelect(t, c)

	envs, err := c.FetchEnvelopes(context.Background(), []mailcore.UID{9, 7}, 20)
	if err != nil {
		t.Fatalf("FetchEnvelopes() error: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("FetchEnvelopes() returned %d envelopes, want 2", len(envs))
	}

	e := envs[0]
	if e.UID != 7 || e.Size != 2048 || !e.HasFlag(mailcore.FlagSeen) || !e.HasAttachments {
		t.Errorf("envelope = %+v", e)
	}
	if e.Subject != "Grüße" {
		t.Errorf("Subject = %q, want Grüße", e.Subject)
	}
	if len(e.From) != 1 || e.From[0].Email != "ann@example.com" || e.From[0].Name != "Ann Example" {
		t.Errorf("From = %+v", e.From)
	}
	if len(e.To) != 2 || e.To[1].Email != "carol@example.com" {
		t.Errorf("To = %+v", e.To)
	}
	if e.MessageID != "m1@example.com" && e.MessageID != "<m1@example.com>" {
		t.Errorf("MessageID = %q", e.MessageID)
	}
	if e.Date.IsZero() || e.Date.Year() != 2006 {
		t.Errorf("Date = %v", e.Date)
	}
	if !strings.HasPrefix(e.Preview, "Hello there, see") {
		t.Errorf("Preview = %q", e.Preview)
	}

	if envs[1].UID != 9 || envs[1].Subject != "two" || envs[1].HasAttachments {
		t.Errorf("second envelope = %+v", envs[1])
	}
}

func TestFetchBody_Truncated(t *testing.T) {
	mime := "Content-Type: application/pdf; name=\"r.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n\r\n"
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 1)
		tag := s.ExpectCommand("UID FETCH 7 (UID BODY.PEEK[2]<0.6> BODY.PEEK[2.MIME])")
		s.Send("* 1 FETCH (UID 7 BODY[2]<0> {6}")
		s.SendRaw("abcdef")
		s.Sendf(" BODY[2.MIME] {%d}", len(mime))
		s.SendRaw(mime)
		s.Send(")", tag+" OK FETCH completed")
	})
	mustSelect(t, c)

	res, err := c.FetchBody(context.Background(), mailcore.FetchBodySpec{UID: 7, Part: "2", MaxBytes: 5})
	if err != nil {
		t.Fatalf("FetchBody() error: %v", err)
	}
	if string(res.Bytes) != "abcde" || !res.Truncated {
		t.Errorf("FetchBody() = %q truncated=%v, want abcde truncated", res.Bytes, res.Truncated)
	}
	if res.ContentType != "application/pdf" || res.Filename != "report.pdf" {
		t.Errorf("content info = %q %q", res.ContentType, res.Filename)
	}
}

func TestFetchBody_Whole(t *testing.T) {
	msg := "Content-Type: text/plain\r\n\r\nhi\r\n"
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 1)
		tag := s.ExpectCommand("UID FETCH 3 (UID BODY.PEEK[])")
		s.Sendf("* 1 FETCH (UID 3 BODY[] {%d}", len(msg))
		s.SendRaw(msg)
		s.Send(")", tag+" OK FETCH completed")
	})
	mustSelect(t, c)

	res, err := c.FetchBody(context.Background(), mailcore.FetchBodySpec{UID: 3})
	if err != nil {
		t.Fatalf("FetchBody() error: %v", err)
	}
	if string(res.Bytes) != msg || res.Truncated || res.ContentType != "text/plain" {
		t.Errorf("FetchBody() = %+v", res)
	}
}

func TestAppend(t *testing.T) {
	msg := "Subject: hi\r\n\r\nbody\r\n"
	date := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		caps string
		want string
	}{
		{"synchronizing", "UIDPLUS", fmt.Sprintf(`APPEND "Sent" (\Seen) "05-Mar-2024 10:00:00 +0000" {%d}`, len(msg))},
		{"literal plus", "UIDPLUS LITERAL+", fmt.Sprintf(`APPEND "Sent" (\Seen) "05-Mar-2024 10:00:00 +0000" {%d+}`, len(msg))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
				handshake(s, tt.caps)
				tag, rest := s.ExpectCommandLine("APPEND")
				if rest != tt.want {
					t.Errorf("APPEND line = %q, want %q", rest, tt.want)
				}
				if !strings.HasSuffix(tt.want, "+}") {
					s.Send("+ Ready for literal data")
				}
				if got := string(s.ReadN(len(msg))); got != msg {
					t.Errorf("literal = %q", got)
				}
				s.Expect("")
				s.Send(tag + " OK [APPENDUID 38505 3955] APPEND completed")
			})
			res, err := c.Append(context.Background(), "Sent", []byte(msg), &mailcore.AppendOptions{
				Flags:        []mailcore.Flag{mailcore.FlagSeen},
				InternalDate: date,
			})
			if err != nil {
				t.Fatalf("Append() error: %v", err)
			}
			if res.UIDValidity != 38505 || res.UID != 3955 {
				t.Errorf("Append() = %+v", res)
			}
		})
	}
}

func TestIdle(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "IDLE")
		selectInbox(s, 10)
		tag := s.ExpectCommand("IDLE")
		s.Send("+ idling", "* 11 EXISTS", "* 3 EXPUNGE")
		s.Expect("DONE")
		s.Send(tag + " OK IDLE terminated")
	})
	mustSelect(t, c)

	var events []mailcore.IdleEvent
	err := c.Idle(context.Background(), func(ev mailcore.IdleEvent) {
		events = append(events, ev)
	}, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Idle() error: %v", err)
	}
	want := []mailcore.IdleEvent{
		{Kind: mailcore.IdleExists, Num: 11},
		{Kind: mailcore.IdleExpunge, Num: 3},
	}
	if !slices.Equal(events, want) {
		t.Errorf("events = %+v, want %+v", events, want)
	}
	if c.State() != mailcore.ConnStateSelected {
		t.Errorf("State() = %v, want selected", c.State())
	}
	if got := c.Selected().Exists; got != 10 {
		t.Errorf("Exists = %d, want 10", got)
	}
}

func TestIdle_ContextCancelled(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "IDLE")
		selectInbox(s, 1)
		tag := s.ExpectCommand("IDLE")
		s.Send("+ idling")
		s.Expect("DONE")
		s.Send(tag + " OK IDLE terminated")
	})
	mustSelect(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Idle(ctx, nil, 0); err != nil {
		t.Fatalf("Idle() error: %v", err)
	}
}

func TestIdle_NotSupported(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 1)
	})
	mustSelect(t, c)
	if err := c.Idle(context.Background(), nil, time.Second); !errors.Is(err, mailcore.ErrNotSupported) {
		t.Fatalf("Idle() error = %v, want ErrNotSupported", err)
	}
}

func TestUnilateralData(t *testing.T) {
	var mu sync.Mutex
	var exists, expunged []uint32
	h := &UnilateralDataHandler{
		Exists: func(n uint32) {
			mu.Lock()
			exists = append(exists, n)
			mu.Unlock()
		},
		Expunge: func(n uint32) {
			mu.Lock()
			expunged = append(expunged, n)
			mu.Unlock()
		},
	}
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		selectInbox(s, 4)
		tag := s.ExpectCommand("UID SEARCH ALL")
		s.Send("* 2 EXPUNGE", "* 5 EXISTS", "* SEARCH 1", tag+" OK done")
	}, WithUnilateralDataHandler(h))
	mustSelect(t, c)
	if _, err := c.Search(context.Background(), "ALL"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(expunged, []uint32{2}) || !slices.Contains(exists, 5) {
		t.Errorf("exists = %v, expunged = %v", exists, expunged)
	}
	if got := c.Selected().Exists; got != 5 {
		t.Errorf("Exists = %d, want 5", got)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	commands []string
}

func (o *recordingObserver) ObserveCommand(protocol, command string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, protocol+" "+command)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
	}, WithObserver(obs))
	_ = c.Close()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []string{"imap CAPABILITY", "imap AUTHENTICATE", "imap LOGOUT"}
	if !slices.Equal(obs.commands, want) {
		t.Errorf("observed %v, want %v", obs.commands, want)
	}
}

func TestClose(t *testing.T) {
	logout := make(chan struct{})
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		tag := s.ExpectCommand("LOGOUT")
		close(logout)
		s.Send("* BYE bye", tag+" OK LOGOUT completed")
	})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	select {
	case <-logout:
	default:
		t.Error("LOGOUT was not sent")
	}
	if c.State() != mailcore.ConnStateClosed || c.IsConnected() {
		t.Errorf("State() = %v, IsConnected() = %v", c.State(), c.IsConnected())
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := c.ListMailboxes(context.Background()); !errors.Is(err, mailcore.ErrClosed) {
		t.Errorf("ListMailboxes() after Close error = %v, want ErrClosed", err)
	}
}

func TestClose_BeforeConnect(t *testing.T) {
	s := mailtest.NewServer(t, func(s *mailtest.Server) {})
	c, err := New(s.Transport(), testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := c.SelectMailbox(context.Background(), "INBOX"); !errors.Is(err, mailcore.ErrClosed) {
		t.Errorf("SelectMailbox() error = %v, want ErrClosed", err)
	}
}

func TestServerDisconnect(t *testing.T) {
	c := mustDial(t, testConfig(mailcore.PlainAuth{Username: "user", Password: "pass"}), func(s *mailtest.Server) {
		handshake(s, "")
		s.ExpectCommand("LIST")
		s.Close()
	})
	if _, err := c.ListMailboxes(context.Background()); !errors.Is(err, mailcore.ErrClosed) {
		t.Fatalf("ListMailboxes() error = %v, want ErrClosed", err)
	}
	if c.State() != mailcore.ConnStateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
}

func TestNew_Validation(t *testing.T) {
	s := mailtest.NewServer(t, func(s *mailtest.Server) {})
	tests := []struct {
		name string
		cfg  *mailcore.Config
	}{
		{"nil config", nil},
		{"no host", &mailcore.Config{Port: 993, Auth: mailcore.PlainAuth{Username: "u", Password: "p"}}},
		{"no auth", &mailcore.Config{Host: "h", Port: 993}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(s.Transport(), tt.cfg); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}
