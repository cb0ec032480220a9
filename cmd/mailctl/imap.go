package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/client"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List mailboxes",
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dialIMAP(ctx)
			if err != nil {
				return err
			}
			defer a.closeIMAP(c)

			boxes, err := c.ListMailboxes(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, mb := range boxes {
				fmt.Fprintf(w, "%s\t%s\n", mb.Path, strings.Join(mb.Attributes, " "))
			}
			return w.Flush()
		},
	}
}

func newSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "select MAILBOX",
		Short:   "Show the status of a mailbox",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withMailbox(cmd.Context(), args[0], func(c *client.Client, st *mailcore.MailboxStatus) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "mailbox:      %s\n", st.Name)
				fmt.Fprintf(out, "exists:       %d\n", st.Exists)
				fmt.Fprintf(out, "first unseen: %d\n", st.FirstUnseen)
				fmt.Fprintf(out, "uidvalidity:  %d\n", st.UIDValidity)
				fmt.Fprintf(out, "uidnext:      %d\n", st.UIDNext)
				fmt.Fprintf(out, "read-only:    %t\n", st.ReadOnly)
				return nil
			})
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search MAILBOX [CRITERIA...]",
		Short: "Search a mailbox and print the matching UIDs",
		Long: `Search runs UID SEARCH with the given IMAP criteria, ALL by default,
and prints the matching UIDs as a compact set such as 1:4,7.`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := "ALL"
			if len(args) > 1 {
				criteria = strings.Join(args[1:], " ")
			}
			return a.withMailbox(cmd.Context(), args[0], func(c *client.Client, _ *mailcore.MailboxStatus) error {
				uids, err := c.Search(cmd.Context(), criteria)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), mailcore.CompactUIDs(uids))
				return nil
			})
		},
	}
}

func newFetchCmd(a *app) *cobra.Command {
	var preview int
	cmd := &cobra.Command{
		Use:     "fetch MAILBOX UIDS",
		Short:   "Print message summaries for a UID set such as 1:10,15",
		Args:    cobra.ExactArgs(2),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			uids, err := mailcore.ExpandUIDs(args[1])
			if err != nil {
				return err
			}
			return a.withMailbox(cmd.Context(), args[0], func(c *client.Client, _ *mailcore.MailboxStatus) error {
				envs, err := c.FetchEnvelopes(cmd.Context(), uids, preview)
				if err != nil {
					return err
				}
				printEnvelopes(cmd.OutOrStdout(), envs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&preview, "preview", 120, "Bytes of body text to show per message (0 disables)")
	return cmd
}

func printEnvelopes(out io.Writer, envs []mailcore.Envelope) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tDATE\tFROM\tSUBJECT\tFLAGS")
	for _, e := range envs {
		from := ""
		if len(e.From) > 0 {
			from = e.From[0].String()
		}
		subject := e.Subject
		if e.HasAttachments {
			subject += " [+]"
		}
		flags := make([]string, len(e.Flags))
		for i, f := range e.Flags {
			flags[i] = string(f)
		}
		date := ""
		if !e.Date.IsZero() {
			date = e.Date.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.UID, date, from, subject, strings.Join(flags, " "))
		if e.Preview != "" {
			fmt.Fprintf(w, "\t\t\t%s\t\n", e.Preview)
		}
	}
	_ = w.Flush()
}

func newBodyCmd(a *app) *cobra.Command {
	var (
		part     string
		maxBytes int64
	)
	cmd := &cobra.Command{
		Use:     "body MAILBOX UID",
		Short:   "Write a message or one of its MIME parts to stdout",
		Args:    cobra.ExactArgs(2),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil || uid == 0 {
				return fmt.Errorf("invalid UID %q", args[1])
			}
			return a.withMailbox(cmd.Context(), args[0], func(c *client.Client, _ *mailcore.MailboxStatus) error {
				body, err := c.FetchBody(cmd.Context(), mailcore.FetchBodySpec{
					UID:      mailcore.UID(uid),
					Part:     part,
					MaxBytes: maxBytes,
				})
				if err != nil {
					return err
				}
				a.logger.Info("fetched body",
					"uid", body.UID,
					"part", body.Part,
					"bytes", len(body.Bytes),
					"truncated", body.Truncated,
					"content_type", body.ContentType,
					"filename", body.Filename,
				)
				_, err = cmd.OutOrStdout().Write(body.Bytes)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "MIME part path such as 1 or 2.1")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "Fetch at most this many bytes (0 for all)")
	return cmd
}

func newStoreCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "store MAILBOX UIDS FLAG...",
		Short: "Change message flags",
		Example: `  mailctl store INBOX 1:3 '\Seen'
  mailctl store --mode remove INBOX 7 '\Flagged'`,
		Args:    cobra.MinimumNArgs(3),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			var m mailcore.StoreMode
			switch mode {
			case "add":
				m = mailcore.StoreAdd
			case "remove":
				m = mailcore.StoreRemove
			case "replace":
				m = mailcore.StoreReplace
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}
			uids, err := mailcore.ExpandUIDs(args[1])
			if err != nil {
				return err
			}
			return a.withMailbox(cmd.Context(), args[0], func(c *client.Client, _ *mailcore.MailboxStatus) error {
				return c.StoreFlags(cmd.Context(), uids, m, toFlags(args[2:]))
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "add", "add, remove or replace")
	return cmd
}

func toFlags(ss []string) []mailcore.Flag {
	flags := make([]mailcore.Flag, len(ss))
	for i, s := range ss {
		flags[i] = mailcore.Flag(s)
	}
	return flags
}

func newAppendCmd(a *app) *cobra.Command {
	var (
		flags []string
		date  string
	)
	cmd := &cobra.Command{
		Use:     "append MAILBOX FILE",
		Short:   "Upload an RFC 822 message; FILE - reads stdin",
		Args:    cobra.ExactArgs(2),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				msg []byte
				err error
			)
			if args[1] == "-" {
				msg, err = io.ReadAll(cmd.InOrStdin())
			} else {
				msg, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			opts := &mailcore.AppendOptions{Flags: toFlags(flags)}
			if date != "" {
				if opts.InternalDate, err = time.Parse(time.RFC3339, date); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}

			ctx := cmd.Context()
			c, err := a.dialIMAP(ctx)
			if err != nil {
				return err
			}
			defer a.closeIMAP(c)

			res, err := c.Append(ctx, args[0], msg, opts)
			if err != nil {
				return err
			}
			if res.UID != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "appended as UID %d (uidvalidity %d)\n", res.UID, res.UIDValidity)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&flags, "flag", nil, "Flag to set on the message (repeatable)")
	cmd.Flags().StringVar(&date, "date", "", "Internal date in RFC 3339 format")
	return cmd
}
