// Package mailtest provides a scripted fake mail server for client tests.
//
// A Server owns one end of a net.Pipe and runs a script against it; the
// other end is handed to the client through a transport dialer. Script
// helpers report mismatches with t.Errorf, never t.Fatal, since the script
// runs on its own goroutine.
package mailtest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meszmate/mailcore/transport"
)

// IOTimeout bounds each read and write of the scripted side.
var IOTimeout = 5 * time.Second

// Server is a scripted fake server.
type Server struct {
	t      testing.TB
	conn   net.Conn
	client net.Conn
	r      *bufio.Reader

	dialOnce sync.Once
	done     chan struct{}
}

// NewServer starts script against a fresh pipe. After the script returns,
// remaining client input is drained and LOGOUT/QUIT are acknowledged, so a
// client Close does not block. The pipe is closed when the test ends.
func NewServer(t testing.TB, script func(s *Server)) *Server {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := &Server{
		t:      t,
		conn:   serverConn,
		client: clientConn,
		r:      bufio.NewReader(serverConn),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		script(s)
		s.drain()
	}()
	t.Cleanup(func() {
		_ = s.conn.Close()
		_ = s.client.Close()
		select {
		case <-s.done:
		case <-time.After(IOTimeout):
			t.Errorf("mailtest: script did not finish")
		}
	})
	return s
}

// Dial is a transport.DialFunc returning the client end of the pipe. It
// succeeds once.
func (s *Server) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var conn net.Conn
	s.dialOnce.Do(func() { conn = s.client })
	if conn == nil {
		return nil, errors.New("mailtest: already dialed")
	}
	return conn, nil
}

// Transport returns a transport.Conn that dials this server.
func (s *Server) Transport(opts ...transport.Option) *transport.Conn {
	return transport.New(append(opts, transport.WithDialer(s.Dial))...)
}

// Done is closed when the script and the drain finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Send writes each line followed by CRLF.
func (s *Server) Send(lines ...string) {
	for _, l := range lines {
		s.SendRaw(l + "\r\n")
	}
}

// Sendf formats and sends one line.
func (s *Server) Sendf(format string, args ...any) {
	s.Send(fmt.Sprintf(format, args...))
}

// SendRaw writes data as is.
func (s *Server) SendRaw(data string) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(IOTimeout))
	if _, err := io.WriteString(s.conn, data); err != nil {
		s.t.Errorf("mailtest: write %q: %v", data, err)
	}
}

// ReadLine reads one line without its CRLF. It returns "" and reports an
// error if the client went away.
func (s *Server) ReadLine() string {
	_ = s.conn.SetReadDeadline(time.Now().Add(IOTimeout))
	line, err := s.r.ReadString('\n')
	if err != nil {
		s.t.Errorf("mailtest: read line: %v", err)
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}

// ReadN reads exactly n bytes.
func (s *Server) ReadN(n int) []byte {
	_ = s.conn.SetReadDeadline(time.Now().Add(IOTimeout))
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		s.t.Errorf("mailtest: read %d bytes: %v", n, err)
	}
	return buf
}

// Expect reads a line and reports an error unless it equals want.
func (s *Server) Expect(want string) string {
	line := s.ReadLine()
	if line != want {
		s.t.Errorf("mailtest: got %q, want %q", line, want)
	}
	return line
}

// ExpectPrefix reads a line and reports an error unless it starts with
// prefix.
func (s *Server) ExpectPrefix(prefix string) string {
	line := s.ReadLine()
	if !strings.HasPrefix(line, prefix) {
		s.t.Errorf("mailtest: got %q, want prefix %q", line, prefix)
	}
	return line
}

// ExpectCommand reads a tagged IMAP command, checks that the text after the
// tag starts with cmd and returns the tag.
func (s *Server) ExpectCommand(cmd string) string {
	line := s.ReadLine()
	tag, rest, _ := strings.Cut(line, " ")
	if !strings.HasPrefix(rest, cmd) {
		s.t.Errorf("mailtest: got command %q, want %q", line, cmd)
	}
	return tag
}

// ExpectCommandLine is like ExpectCommand but returns the whole text after
// the tag as well.
func (s *Server) ExpectCommandLine(cmd string) (tag, rest string) {
	line := s.ReadLine()
	tag, rest, _ = strings.Cut(line, " ")
	if !strings.HasPrefix(rest, cmd) {
		s.t.Errorf("mailtest: got command %q, want %q", line, cmd)
	}
	return tag, rest
}

// Close closes the server end, which the client sees as end of stream.
func (s *Server) Close() {
	_ = s.conn.Close()
}

// drain consumes client input after the script ended, acknowledging the
// commands a client sends on Close.
func (s *Server) drain() {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(IOTimeout))
		line, err := s.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		_ = s.conn.SetWriteDeadline(time.Now().Add(IOTimeout))
		switch {
		case strings.EqualFold(line, "QUIT"):
			_, _ = io.WriteString(s.conn, "221 bye\r\n")
			return
		case strings.HasSuffix(strings.ToUpper(line), " LOGOUT"):
			tag, _, _ := strings.Cut(line, " ")
			_, _ = io.WriteString(s.conn, "* BYE logging out\r\n"+tag+" OK LOGOUT completed\r\n")
			return
		}
	}
}
