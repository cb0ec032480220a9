package auth

import (
	"errors"
	"strings"

	"github.com/emersion/go-sasl"
)

// xoauth2Client sends the bearer token as its initial response. A server
// rejecting the token may answer with a continuation carrying an error
// document; the client replies with an empty response so the server can
// send the final status.
type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2Client returns an XOAUTH2 mechanism client.
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	return XOAuth2, XOAuth2Payload(c.username, c.token), nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

// XOAuth2Payload builds "user=" {user} "\x01auth=Bearer " {token} "\x01\x01".
func XOAuth2Payload(username, token string) []byte {
	return []byte("user=" + username + "\x01auth=Bearer " + token + "\x01\x01")
}

// ParseXOAuth2 splits an XOAUTH2 initial response into user and token.
func ParseXOAuth2(data []byte) (username, token string, err error) {
	for _, field := range strings.Split(string(data), "\x01") {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "user":
			username = value
		case "auth":
			scheme, bearer, _ := strings.Cut(value, " ")
			if !strings.EqualFold(scheme, "Bearer") {
				return "", "", errors.New("xoauth2: unsupported auth scheme")
			}
			token = bearer
		}
	}
	if username == "" || token == "" {
		return "", "", errors.New("xoauth2: missing user or token")
	}
	return username, token, nil
}
