package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meszmate/mailcore/smtp"
)

type sendOptions struct {
	from, subject      string
	to, cc, bcc        []string
	textFile, htmlFile string
	attach, inline     []string
	headers            []string
}

func newSendCmd(a *app) *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Compose and send a message over SMTP",
		Example: `  echo hi | mailctl send --to bob@example.com --subject Hello --text -
  mailctl send --to bob@example.com --subject Report --text body.txt --attach report.pdf`,
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := o.message(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if msg.From == "" {
				msg.From = a.file.Account.Username
			}

			ctx := cmd.Context()
			c, err := a.dialSMTP(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					a.logger.Debug("close", "error", err)
				}
			}()

			if err := c.SendMail(ctx, msg); err != nil {
				return err
			}
			a.logger.Info("message sent", "recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.from, "from", "", "Sender address (default: the account username)")
	f.StringArrayVar(&o.to, "to", nil, "Recipient (repeatable)")
	f.StringArrayVar(&o.cc, "cc", nil, "Cc recipient (repeatable)")
	f.StringArrayVar(&o.bcc, "bcc", nil, "Bcc recipient (repeatable)")
	f.StringVarP(&o.subject, "subject", "s", "", "Subject")
	f.StringVar(&o.textFile, "text", "", "File with the plain text body; - reads stdin")
	f.StringVar(&o.htmlFile, "html", "", "File with the HTML body")
	f.StringArrayVar(&o.attach, "attach", nil, "File to attach (repeatable)")
	f.StringArrayVar(&o.inline, "inline", nil, "Inline file referenced from HTML as cid:<basename> (repeatable)")
	f.StringArrayVar(&o.headers, "header", nil, "Extra header as Name: value (repeatable)")
	return cmd
}

func (o *sendOptions) message(stdin io.Reader) (*smtp.Message, error) {
	msg := &smtp.Message{
		From:    o.from,
		To:      o.to,
		Cc:      o.cc,
		Bcc:     o.bcc,
		Subject: o.subject,
	}
	if o.textFile != "" {
		b, err := readInput(o.textFile, stdin)
		if err != nil {
			return nil, err
		}
		msg.Text = string(b)
	}
	if o.htmlFile != "" {
		b, err := readInput(o.htmlFile, stdin)
		if err != nil {
			return nil, err
		}
		msg.HTML = string(b)
	}
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("header %q: want Name: value", h)
		}
		if msg.Headers == nil {
			msg.Headers = make(map[string]string)
		}
		msg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	for _, path := range o.attach {
		att, err := loadAttachment(path, false)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	for _, path := range o.inline {
		att, err := loadAttachment(path, true)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func loadAttachment(path string, inline bool) (smtp.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return smtp.Attachment{}, err
	}
	name := filepath.Base(path)
	ct := mime.TypeByExtension(filepath.Ext(name))
	att := smtp.Attachment{Filename: name, ContentType: ct, Data: data, Inline: inline}
	if inline {
		att.ContentID = name
	}
	return att, nil
}
