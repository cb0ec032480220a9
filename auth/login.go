package auth

import (
	"github.com/emersion/go-sasl"
)

// loginClient runs the two-step LOGIN exchange: the first challenge is
// answered with the username and the second with the password, whatever
// their text. Servers word the prompts differently.
type loginClient struct {
	username string
	password string
	step     int
}

// NewLoginClient returns a LOGIN mechanism client.
func NewLoginClient(username, password string) sasl.Client {
	return &loginClient{username: username, password: password}
}

func (c *loginClient) Start() (string, []byte, error) {
	return Login, nil, nil
}

func (c *loginClient) Next(challenge []byte) ([]byte, error) {
	c.step++
	switch c.step {
	case 1:
		return []byte(c.username), nil
	case 2:
		return []byte(c.password), nil
	}
	return nil, ErrUnexpectedChallenge
}
