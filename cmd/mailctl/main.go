// Command mailctl is a command line mail client built on the mailcore IMAP
// and SMTP clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/99designs/keyring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/auth"
	"github.com/meszmate/mailcore/client"
	"github.com/meszmate/mailcore/internal/config"
	"github.com/meszmate/mailcore/metrics"
	"github.com/meszmate/mailcore/smtp"
	"github.com/meszmate/mailcore/transport"
)

// Set via -ldflags at build time.
var version = "dev"

// app holds what every subcommand needs once the configuration is loaded.
type app struct {
	cfgPath  string
	logLevel string
	debug    bool

	file     *config.File
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	method   mailcore.AuthMethod
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "mailctl",
		Short:         "Read and send mail over IMAP and SMTP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", config.DefaultPath(), "Path to the configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Log protocol traffic (credentials are redacted)")

	root.AddCommand(
		newInitCmd(a),
		newPasswordCmd(a),
		newListCmd(a),
		newSelectCmd(a),
		newSearchCmd(a),
		newFetchCmd(a),
		newBodyCmd(a),
		newStoreCmd(a),
		newAppendCmd(a),
		newIdleCmd(a),
		newSendCmd(a),
	)
	return root
}

// load reads the configuration and prepares logging, metrics and
// credentials. Commands that talk to a server call it from PreRunE.
func (a *app) load(cmd *cobra.Command, args []string) error {
	f, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.file = f

	level := f.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.debug {
		level = "debug"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	a.metrics = metrics.New()
	a.registry = prometheus.NewRegistry()
	if err := a.metrics.Register(a.registry); err != nil {
		return err
	}

	var ring keyring.Keyring
	if f.Account.PasswordKeyring && f.Account.Password == "" {
		if ring, err = config.Keyring(); err != nil {
			return err
		}
	}
	method, err := f.AuthMethod(ring)
	if err != nil {
		return err
	}
	// The IMAP and SMTP connections of one invocation share a provider so a
	// refresh by one is seen by the other.
	if x, ok := method.(mailcore.XOAuth2Auth); ok && x.Provider != nil {
		x.Provider = auth.Share(a.metrics.TokenProvider(x.Provider))
		method = x
	}
	a.method = method
	return nil
}

func (a *app) newTransport() *transport.Conn {
	return transport.New(
		transport.WithLogger(a.logger),
		transport.WithDialTimeout(a.file.Timeout),
	)
}

// dialIMAP connects and authenticates an IMAP client.
func (a *app) dialIMAP(ctx context.Context) (*client.Client, error) {
	c, err := client.New(a.newTransport(), a.file.IMAPConfig(a.method),
		client.WithLogger(a.logger),
		client.WithDebugLog(a.debug),
		client.WithObserver(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	a.logger.Debug("imap connected", "host", a.file.IMAP.Host, "state", c.State())
	return c, nil
}

// withMailbox connects, selects mailbox and runs fn.
func (a *app) withMailbox(ctx context.Context, mailbox string, fn func(*client.Client, *mailcore.MailboxStatus) error) error {
	c, err := a.dialIMAP(ctx)
	if err != nil {
		return err
	}
	defer a.closeIMAP(c)

	status, err := c.SelectMailbox(ctx, mailbox)
	if err != nil {
		return err
	}
	return fn(c, status)
}

func (a *app) closeIMAP(c *client.Client) {
	if err := c.Close(); err != nil {
		a.logger.Debug("close", "error", err)
	}
	a.logger.Debug("imap commands",
		"total", a.metrics.CommandsTotal.Load(),
		"errors", a.metrics.CommandErrors.Load(),
	)
}

// dialSMTP connects and, when configured, authenticates an SMTP client.
func (a *app) dialSMTP(ctx context.Context) (*smtp.Client, error) {
	c, err := smtp.New(a.newTransport(), a.file.SMTPConfig(a.method),
		smtp.WithLogger(a.logger),
		smtp.WithDebugLog(a.debug),
		smtp.WithObserver(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
