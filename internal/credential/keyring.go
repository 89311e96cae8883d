// Package credential keeps Azure DevOps personal access tokens in the OS
// keyring, keyed by organization.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mantis2ado"

// ErrNotFound is returned when no token is stored for an organization.
var ErrNotFound = errors.New("no stored token")

// Store reads and writes tokens in a keyring.
type Store struct {
	ring keyring.Keyring
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mantis2ado/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mantis2ado-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Open returns a store backed by the system keyring.
func Open() (*Store, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps ring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Key returns the keyring item key for an organization.
func Key(organization string) string {
	return "pat:" + strings.ToLower(strings.TrimSpace(organization))
}

// Get retrieves the token stored for organization.
func (s *Store) Get(organization string) (string, error) {
	item, err := s.ring.Get(Key(organization))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("%w for organization %q", ErrNotFound, organization)
		}
		return "", fmt.Errorf("getting credential for %q: %w", organization, err)
	}
	return string(item.Data), nil
}

// Set stores token for organization, replacing any previous one.
func (s *Store) Set(organization, token string) error {
	if strings.TrimSpace(organization) == "" {
		return errors.New("organization is required")
	}
	err := s.ring.Set(keyring.Item{
		Key:         Key(organization),
		Data:        []byte(token),
		Label:       "mantis2ado: " + organization,
		Description: "Azure DevOps personal access token",
	})
	if err != nil {
		return fmt.Errorf("setting credential for %q: %w", organization, err)
	}
	return nil
}

// Delete removes the token for organization. Removing a missing token is
// not an error.
func (s *Store) Delete(organization string) error {
	err := s.ring.Remove(Key(organization))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential for %q: %w", organization, err)
	}
	return nil
}
