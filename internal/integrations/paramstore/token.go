package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// tokenPayload is the JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// FetchToken reads name and decodes it as a {"token": "..."} document.
func FetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", name)
	}
	return tp.Token, nil
}

// TokenSource lazily fetches one token and reuses it for the lifetime of the
// process. Concurrent first calls share a single fetch. Failed fetches are
// not cached, so a later call retries.
type TokenSource struct {
	getter Getter
	name   string
	group  singleflight.Group

	mu    sync.RWMutex
	token string
}

// NewTokenSource returns a TokenSource for the parameter name.
func NewTokenSource(getter Getter, name string) (*TokenSource, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name must not be empty")
	}
	return &TokenSource{getter: getter, name: name}, nil
}

// StaticToken returns a TokenSource that always yields token. Used for local
// runs and tests.
func StaticToken(token string) *TokenSource {
	return &TokenSource{token: token}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok := s.cached(); tok != "" {
		return tok, nil
	}
	v, err, _ := s.group.Do(s.name, func() (any, error) {
		if tok := s.cached(); tok != "" {
			return tok, nil
		}
		tok, err := FetchToken(ctx, s.getter, s.name)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) cached() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
