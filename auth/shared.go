package auth

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meszmate/mailcore"
)

// SharedProvider wraps a TokenProvider used by several clients at once, for
// example an IMAP and an SMTP connection of the same account. Concurrent
// requests collapse into a single call to the underlying provider, and the
// last token obtained is cached until it is refreshed.
type SharedProvider struct {
	p     mailcore.TokenProvider
	group singleflight.Group

	mu  sync.Mutex
	tok *mailcore.Token
}

// Share wraps p. Wrapping an already shared provider returns it unchanged.
func Share(p mailcore.TokenProvider) *SharedProvider {
	if sp, ok := p.(*SharedProvider); ok {
		return sp
	}
	return &SharedProvider{p: p}
}

// AccessToken returns the cached token, fetching it on first use.
func (s *SharedProvider) AccessToken(ctx context.Context) (*mailcore.Token, error) {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()
	if tok != nil {
		return tok, nil
	}
	return s.do(ctx, "get", s.p.AccessToken)
}

// RefreshAccessToken refreshes the token. Callers arriving while a refresh is
// in flight share its result.
func (s *SharedProvider) RefreshAccessToken(ctx context.Context) (*mailcore.Token, error) {
	return s.do(ctx, "refresh", s.p.RefreshAccessToken)
}

func (s *SharedProvider) do(ctx context.Context, key string, fn func(context.Context) (*mailcore.Token, error)) (*mailcore.Token, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		tok, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.tok = tok
		s.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mailcore.Token), nil
}
