// Package config loads the mailctl configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/auth"
)

// EnvPrefix prefixes environment overrides, e.g. MAILCTL_ACCOUNT_PASSWORD.
const EnvPrefix = "MAILCTL"

const keyringService = "mailctl"

// Server is one endpoint.
type Server struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Secure   bool   `mapstructure:"secure" yaml:"secure"`
	StartTLS bool   `mapstructure:"starttls" yaml:"starttls"`
}

// Account holds the credentials shared by the IMAP and SMTP connections.
type Account struct {
	Username string `mapstructure:"username" yaml:"username"`
	// Auth is "plain", "login" or "xoauth2".
	Auth     string `mapstructure:"auth" yaml:"auth"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	// PasswordKeyring looks the password up in the OS keyring under the
	// username.
	PasswordKeyring bool     `mapstructure:"password_keyring" yaml:"password_keyring,omitempty"`
	AccessToken     string   `mapstructure:"access_token" yaml:"access_token,omitempty"`
	TokenCommand    []string `mapstructure:"token_command" yaml:"token_command,omitempty"`
	RefreshCommand  []string `mapstructure:"refresh_command" yaml:"refresh_command,omitempty"`
}

// File is the configuration file.
type File struct {
	IMAP     Server            `mapstructure:"imap" yaml:"imap"`
	SMTP     Server            `mapstructure:"smtp" yaml:"smtp"`
	HeloName string            `mapstructure:"helo_name" yaml:"helo_name,omitempty"`
	Account  Account           `mapstructure:"account" yaml:"account"`
	Timeout  time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	ClientID map[string]string `mapstructure:"client_id" yaml:"client_id,omitempty"`
	LogLevel string            `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultPath returns ~/.config/mailctl/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailctl", "config.yaml")
}

// Default returns the configuration written by WriteTemplate.
func Default() *File {
	return &File{
		IMAP:     Server{Host: "imap.example.com", Port: 993, Secure: true},
		SMTP:     Server{Host: "smtp.example.com", Port: 587, StartTLS: true},
		Account:  Account{Username: "user@example.com", Auth: "plain", PasswordKeyring: true},
		Timeout:  mailcore.DefaultCommandTimeout,
		ClientID: map[string]string{"name": "mailctl"},
		LogLevel: "info",
	}
}

// Load reads the file at path. Values can be overridden from the
// environment with the MAILCTL_ prefix and "_" for nesting. A missing file
// is an error; run WriteTemplate first.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("imap.port", 993)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("account.auth", "plain")
	v.SetDefault("timeout", mailcore.DefaultCommandTimeout)
	v.SetDefault("log_level", "info")
	// AutomaticEnv only applies to keys viper knows about.
	for _, key := range []string{"account.username", "account.password", "account.access_token", "helo_name"} {
		v.SetDefault(key, "")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &f, nil
}

// WriteTemplate writes f as YAML to path, creating parent directories. It
// refuses to overwrite an existing file.
func WriteTemplate(path string, f *File) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	var node yaml.Node
	if err := node.Encode(f); err != nil {
		return err
	}
	// Durations encode as nanoseconds; write them the way people type them.
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "timeout" {
			node.Content[i+1].SetString(f.Timeout.String())
		}
	}
	data, err := yaml.Marshal(&node)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Keyring opens the OS keyring used for passwords.
func Keyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailctl/credentials",
		FilePasswordFunc:         keyring.TerminalPrompt,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// StorePassword saves password for username in ring.
func StorePassword(ring keyring.Keyring, username, password string) error {
	if err := ring.Set(keyring.Item{Key: username, Data: []byte(password), Label: "mailctl " + username}); err != nil {
		return fmt.Errorf("storing password for %q: %w", username, err)
	}
	return nil
}

// AuthMethod builds the authentication method for the account. ring is only
// consulted when PasswordKeyring is set and may be nil otherwise. A token
// command takes precedence over a static access token.
func (f *File) AuthMethod(ring keyring.Keyring) (mailcore.AuthMethod, error) {
	a := f.Account
	switch strings.ToLower(a.Auth) {
	case "", "plain", "login":
		password, err := a.password(ring)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(a.Auth, "login") {
			return mailcore.LoginAuth{Username: a.Username, Password: password}, nil
		}
		return mailcore.PlainAuth{Username: a.Username, Password: password}, nil
	case "xoauth2":
		m := mailcore.XOAuth2Auth{Username: a.Username, AccessToken: a.AccessToken}
		if len(a.TokenCommand) > 0 {
			m.Provider = &auth.CommandProvider{Command: a.TokenCommand, RefreshCommand: a.RefreshCommand}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", a.Auth)
	}
}

func (a Account) password(ring keyring.Keyring) (string, error) {
	if !a.PasswordKeyring || a.Password != "" {
		return a.Password, nil
	}
	if ring == nil {
		return "", errors.New("password_keyring is set but no keyring is available")
	}
	item, err := ring.Get(a.Username)
	if err != nil {
		return "", fmt.Errorf("getting password for %q: %w", a.Username, err)
	}
	return string(item.Data), nil
}

// IMAPConfig returns the client configuration for the IMAP server.
func (f *File) IMAPConfig(method mailcore.AuthMethod) *mailcore.Config {
	return &mailcore.Config{
		Host:           f.IMAP.Host,
		Port:           f.IMAP.Port,
		Secure:         f.IMAP.Secure,
		StartTLS:       f.IMAP.StartTLS,
		Auth:           method,
		CommandTimeout: f.Timeout,
		ClientID:       f.ClientID,
	}
}

// SMTPConfig returns the client configuration for the SMTP server.
func (f *File) SMTPConfig(method mailcore.AuthMethod) *mailcore.Config {
	return &mailcore.Config{
		Host:           f.SMTP.Host,
		Port:           f.SMTP.Port,
		Secure:         f.SMTP.Secure,
		StartTLS:       f.SMTP.StartTLS,
		Auth:           method,
		CommandTimeout: f.Timeout,
		HeloName:       f.HeloName,
	}
}
