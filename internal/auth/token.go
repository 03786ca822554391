// Package auth keeps the token used for authenticated model downloads.
package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"

	"modelbench/internal/common/broadcast"
	"modelbench/internal/common/fsutil"
)

// TokenStore holds at most one bearer token. The token lives in an encrypted
// memguard enclave and is only decrypted for the duration of Token. When a
// path is configured the token is persisted there with 0600 permissions.
type TokenStore struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	path    string
	hub     *broadcast.Hub[bool]
	log     zerolog.Logger
}

// NewTokenStore returns a store backed by path. An empty path keeps the token
// in memory only. An existing token file is loaded.
func NewTokenStore(path string, log zerolog.Logger) (*TokenStore, error) {
	s := &TokenStore{log: log, hub: broadcast.NewHub(false)}
	if path == "" {
		return s, nil
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	s.path = p
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) > 0 {
		s.enclave = memguard.NewEnclave(b)
		s.hub.Publish(true)
		log.Debug().Str("path", p).Msg("auth event=token_loaded")
	}
	return s, nil
}

// Token returns the current token, if any.
func (s *TokenStore) Token() (string, bool) {
	s.mu.Lock()
	e := s.enclave
	s.mu.Unlock()
	if e == nil {
		return "", false
	}
	lb, err := e.Open()
	if err != nil {
		s.log.Error().Err(err).Msg("auth event=enclave_open_failed")
		return "", false
	}
	defer lb.Destroy()
	return lb.String(), true
}

// Save replaces the token. A blank token is rejected; use Clear instead.
func (s *TokenStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := writeSecret(s.path, []byte(token)); err != nil {
			return err
		}
	}
	s.enclave = memguard.NewEnclave([]byte(token))
	s.hub.Publish(true)
	s.log.Info().Bool("persisted", s.path != "").Msg("auth event=token_saved")
	return nil
}

// Clear drops the token and removes the token file.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if _, err := fsutil.RemoveIfExists(s.path); err != nil {
			return fmt.Errorf("remove token file: %w", err)
		}
	}
	s.enclave = nil
	s.hub.Publish(false)
	s.log.Info().Msg("auth event=token_cleared")
	return nil
}

// Subscribe observes whether a token is present. The channel first yields the
// current state. Use Watch to observe the token value itself.
func (s *TokenStore) Subscribe() (<-chan bool, func()) {
	return s.hub.Subscribe()
}

// CurrentToken is one observation of the store: the token, or absent.
type CurrentToken struct {
	Value   string
	Present bool
}

// Watch observes the current token. The channel first yields the current
// value, then one value per Save or Clear; a slow reader only sees the latest.
// The value is read from the enclave when it is delivered, so nothing but the
// channel ever holds it in plain memory. Call the returned func to stop.
func (s *TokenStore) Watch() (<-chan CurrentToken, func()) {
	presence, unsub := s.hub.Subscribe()
	out := make(chan CurrentToken)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsub()
		})
	}
	go func() {
		defer close(out)
		for range presence {
			tok, ok := s.Token()
			select {
			case out <- CurrentToken{Value: tok, Present: ok}:
			case <-done:
				return
			}
		}
	}()
	return out, stop
}

// Close releases subscribers.
func (s *TokenStore) Close() { s.hub.Close() }

func writeSecret(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return fmt.Errorf("token temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("token chmod: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("token write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("token close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("token rename: %w", err)
	}
	return nil
}
