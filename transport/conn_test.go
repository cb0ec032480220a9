package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func newPipe(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := NewConn(client)
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, server
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Conn) pendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type readOutcome struct {
	data string
	err  error
}

func startRead(c *Conn, ctx context.Context) <-chan readOutcome {
	ch := make(chan readOutcome, 1)
	go func() {
		b, err := c.Read(ctx)
		ch <- readOutcome{string(b), err}
	}()
	return ch
}

func TestConn_ReadsServedInOrder(t *testing.T) {
	c, server := newPipe(t)
	ctx := context.Background()

	first := startRead(c, ctx)
	waitFor(t, func() bool { return c.pendingLen() == 1 })
	second := startRead(c, ctx)
	waitFor(t, func() bool { return c.pendingLen() == 2 })

	if _, err := server.Write([]byte("one")); err != nil {
		t.Fatal(err)
	}
	if got := <-first; got.err != nil || got.data != "one" {
		t.Fatalf("first read = %+v, want one", got)
	}
	if _, err := server.Write([]byte("two")); err != nil {
		t.Fatal(err)
	}
	if got := <-second; got.err != nil || got.data != "two" {
		t.Fatalf("second read = %+v, want two", got)
	}
}

func TestConn_CloseResolvesPendingReads(t *testing.T) {
	c, _ := newPipe(t)

	r1 := startRead(c, context.Background())
	r2 := startRead(c, context.Background())
	waitFor(t, func() bool { return c.pendingLen() == 2 })

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, ch := range []<-chan readOutcome{r1, r2} {
		if got := <-ch; !errors.Is(got.err, io.EOF) {
			t.Errorf("pending read err = %v, want io.EOF", got.err)
		}
	}
	if _, err := c.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close err = %v, want io.EOF", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestConn_RemoteCloseIsEndOfStream(t *testing.T) {
	c, server := newPipe(t)

	r := startRead(c, context.Background())
	waitFor(t, func() bool { return c.pendingLen() == 1 })
	server.Close()

	if got := <-r; !errors.Is(got.err, io.EOF) {
		t.Fatalf("read err = %v, want io.EOF", got.err)
	}
	waitFor(t, func() bool { return !c.IsConnected() })
}

func TestConn_CancelledReadKeepsLateChunk(t *testing.T) {
	c, server := newPipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	r := startRead(c, ctx)
	waitFor(t, func() bool { return c.pendingLen() == 1 })
	cancel()
	if got := <-r; !errors.Is(got.err, context.Canceled) {
		t.Fatalf("cancelled read err = %v, want context.Canceled", got.err)
	}

	go server.Write([]byte("late"))

	b, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(b) != "late" {
		t.Errorf("Read() = %q, want late", b)
	}
}

func TestConn_WriteHonorsDeadline(t *testing.T) {
	c, _ := newPipe(t)

	// Nobody reads the server side, so the pipe write blocks.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Write(ctx, []byte("stuck\r\n"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestConn_Write(t *testing.T) {
	c, server := newPipe(t)

	go func() {
		c.Write(context.Background(), []byte("hello"))
	}()
	buf := make([]byte, 5)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Errorf("server got %q", buf)
	}
}

func TestConn_UpgradeBusyWithPendingRead(t *testing.T) {
	c, server := newPipe(t)

	r := startRead(c, context.Background())
	waitFor(t, func() bool { return c.pendingLen() == 1 })

	if err := c.UpgradeTLS(context.Background(), nil); !errors.Is(err, ErrUpgradeBusy) {
		t.Errorf("UpgradeTLS() error = %v, want ErrUpgradeBusy", err)
	}

	server.Write([]byte("x"))
	<-r
}

func TestConn_NotConnected(t *testing.T) {
	c := New()
	if err := c.Write(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
	if _, err := c.Read(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Read() error = %v, want ErrNotConnected", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestParams_Addr(t *testing.T) {
	p := Params{Host: "imap.example.com", Port: 993}
	if got := p.Addr(); got != "imap.example.com:993" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestConn_TLSConfigALPN(t *testing.T) {
	c := New()
	if cfg := c.tlsConfig(nil, "h", "imap"); len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != "imap" || cfg.ServerName != "h" {
		t.Errorf("imap config = %+v", cfg)
	}
	if cfg := c.tlsConfig(nil, "h", "smtp"); len(cfg.NextProtos) != 0 {
		t.Errorf("smtp NextProtos = %v, want none", cfg.NextProtos)
	}
}
