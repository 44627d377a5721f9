// Package auth provides OAuth flows and on-disk token persistence for the
// task backends.
package auth

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

const xdgAppName = "orgsync"

// DefaultTokenDir returns the per-user directory tokens are stored in when
// no explicit token directory is configured.
func DefaultTokenDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// TokenStore persists oauth2 tokens as JSON files with owner-only
// permissions, one file per backend.
type TokenStore struct {
	dir    string
	logger *log.Logger
}

// NewTokenStore creates a store rooted at dir, creating it with secure
// permissions when missing. An empty dir selects DefaultTokenDir.
func NewTokenStore(dir string, logger *log.Logger) (*TokenStore, error) {
	if dir == "" {
		var err error
		dir, err = DefaultTokenDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token directory %s: %w", dir, err)
	}
	return &TokenStore{dir: dir, logger: logger}, nil
}

func (s *TokenStore) path(name string) string {
	return filepath.Join(s.dir, name+"_tokens.json")
}

// Load reads the stored token for a backend. A missing file returns nil
// without error.
func (s *TokenStore) Load(name string) (*oauth2.Token, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", s.path(name), err)
	}
	return tok, nil
}

// Save writes the token with owner read/write permissions only.
func (s *TokenStore) Save(name string, tok *oauth2.Token) error {
	path := s.path(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open token file %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tok); err != nil {
		return fmt.Errorf("failed to write token file %s: %w", path, err)
	}
	if s.logger != nil {
		s.logger.Printf("Saved tokens to %s", path)
	}
	return nil
}

// Clear removes the stored token for a backend.
func (s *TokenStore) Clear(name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// savingSource wraps a TokenSource and re-persists the token whenever a
// refresh produces a new one.
type savingSource struct {
	name  string
	store *TokenStore
	src   oauth2.TokenSource
	last  string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.store.Save(s.name, tok); err != nil && s.store.logger != nil {
			s.store.logger.Printf("Warning: could not re-save refreshed token: %v", err)
		}
	}
	return tok, nil
}
