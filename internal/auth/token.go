// Package auth supplies the access token attached to conversion requests.
// A missing token is valid: anonymous conversions are allowed and the
// backend enforces the free-tier quota.
package auth

import (
	"os"
	"path/filepath"
	"strings"
)

// TokenProvider reads the current access token at request time. Implementations
// must be safe for concurrent use and return "" when no token is available.
type TokenProvider interface {
	Token() string
}

// Static returns a provider that always yields the given token.
func Static(token string) TokenProvider {
	return staticProvider(token)
}

type staticProvider string

func (p staticProvider) Token() string { return string(p) }

// None returns a provider for anonymous use.
func None() TokenProvider {
	return staticProvider("")
}

// EnvFileStore resolves the token from the DOCUFLOW_ACCESS_TOKEN environment
// variable first, then from ~/.docuflow/token. The environment acts as the
// session-scoped override, the file as the persistent store.
type EnvFileStore struct {
	lookup  func(string) (string, bool)
	homeDir func() (string, error)
}

// NewEnvFileStore creates the default token store.
func NewEnvFileStore() *EnvFileStore {
	return &EnvFileStore{lookup: os.LookupEnv, homeDir: os.UserHomeDir}
}

// NewEnvFileStoreWith creates a token store with injected environment and
// home-directory lookups, for tests.
func NewEnvFileStoreWith(lookup func(string) (string, bool), homeDir func() (string, error)) *EnvFileStore {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	return &EnvFileStore{lookup: lookup, homeDir: homeDir}
}

// Token implements TokenProvider.
func (s *EnvFileStore) Token() string {
	if v, ok := s.lookup("DOCUFLOW_ACCESS_TOKEN"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	home, err := s.homeDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".docuflow", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save persists a token to ~/.docuflow/token with owner-only permissions.
func (s *EnvFileStore) Save(token string) error {
	home, err := s.homeDir()
	if err != nil {
		return err
	}
	dir := filepath.Join(home, ".docuflow")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "token"), []byte(strings.TrimSpace(token)+"\n"), 0o600)
}

// Clear removes the persisted token. Missing files are not an error.
func (s *EnvFileStore) Clear() error {
	home, err := s.homeDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(home, ".docuflow", "token"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
