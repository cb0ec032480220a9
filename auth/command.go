package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/meszmate/mailcore"
)

// CommandProvider obtains tokens by running an external program, such as
// "gcloud auth print-access-token" or "oauth2l fetch". The program prints
// either a bare token or a JSON object with an access_token field and an
// optional expires_in (seconds) or expiry (RFC 3339) field.
type CommandProvider struct {
	// Command is the program and its arguments.
	Command []string
	// RefreshCommand, if set, is run instead of Command to force a refresh.
	RefreshCommand []string
	// Now is used to turn expires_in into an absolute expiry.
	Now func() time.Time
}

// AccessToken runs Command.
func (p *CommandProvider) AccessToken(ctx context.Context) (*mailcore.Token, error) {
	return p.run(ctx, p.Command)
}

// RefreshAccessToken runs RefreshCommand, or Command when it is empty.
func (p *CommandProvider) RefreshAccessToken(ctx context.Context) (*mailcore.Token, error) {
	if len(p.RefreshCommand) > 0 {
		return p.run(ctx, p.RefreshCommand)
	}
	return p.run(ctx, p.Command)
}

func (p *CommandProvider) run(ctx context.Context, argv []string) (*mailcore.Token, error) {
	if len(argv) == 0 {
		return nil, errors.New("auth: token command is empty")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("auth: token command %s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("auth: token command %s: %w", argv[0], err)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return parseTokenOutput(stdout.Bytes(), now())
}

type tokenJSON struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	Expiry       time.Time `json:"expiry"`
}

func parseTokenOutput(out []byte, now time.Time) (*mailcore.Token, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, ErrNoToken
	}
	if out[0] != '{' {
		return &mailcore.Token{AccessToken: string(out)}, nil
	}
	var tj tokenJSON
	if err := json.Unmarshal(out, &tj); err != nil {
		return nil, fmt.Errorf("auth: parse token output: %w", err)
	}
	if tj.AccessToken == "" {
		return nil, ErrNoToken
	}
	tok := &mailcore.Token{AccessToken: tj.AccessToken, RefreshToken: tj.RefreshToken, Expiry: tj.Expiry}
	if tok.Expiry.IsZero() && tj.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(tj.ExpiresIn) * time.Second)
	}
	return tok, nil
}
