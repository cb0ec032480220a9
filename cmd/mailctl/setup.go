package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/meszmate/mailcore/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(a.cfgPath, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.cfgPath)
			return nil
		},
	}
}

func newPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "password",
		Short: "Store the account password in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			if f.Account.Username == "" {
				return fmt.Errorf("account.username is not set in %s", a.cfgPath)
			}

			var password string
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(os.Stderr, "Password for %s: ", f.Account.Username)
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = string(b)
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			ring, err := config.Keyring()
			if err != nil {
				return err
			}
			if err := config.StorePassword(ring, f.Account.Username, password); err != nil {
				return err
			}
			if !f.Account.PasswordKeyring {
				fmt.Fprintln(cmd.OutOrStdout(), "stored; set account.password_keyring: true to use it")
			}
			return nil
		},
	}
}
