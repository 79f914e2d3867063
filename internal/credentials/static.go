// Package credentials supplies per-user provider credentials to the gateway
// pool. The real credential store (with encryption at rest) lives outside
// this service; Static serves credentials from configuration.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/zgpcy/oci-cost-sync/internal/config"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// ErrUnknownUser is returned for users absent from the source
var ErrUnknownUser = errors.New("unknown user")

// Static serves credentials for the users declared in configuration.
// Private keys given by path are read on first lookup and cached.
type Static struct {
	mu    sync.Mutex
	users map[string]config.User
	keys  map[string]string
}

// Verify that Static implements provider.CredentialSource
var _ provider.CredentialSource = (*Static)(nil)

// NewStatic indexes the configured users by ID
func NewStatic(users []config.User) *Static {
	s := &Static{
		users: make(map[string]config.User, len(users)),
		keys:  make(map[string]string),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Users returns the configured user IDs in sorted order
func (s *Static) Users(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Credentials returns the credential set of user
func (s *Static) Credentials(ctx context.Context, user string) (provider.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[user]
	if !ok {
		return provider.Credentials{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}

	key, err := s.privateKey(u)
	if err != nil {
		return provider.Credentials{}, err
	}

	return provider.Credentials{
		Tenancy:     u.Tenancy,
		User:        u.UserOCID,
		Fingerprint: u.Fingerprint,
		Region:      u.Region,
		PrivateKey:  key,
		Passphrase:  u.Passphrase,
	}, nil
}

func (s *Static) privateKey(u config.User) (string, error) {
	if u.PrivateKey != "" {
		return u.PrivateKey, nil
	}
	if key, ok := s.keys[u.ID]; ok {
		return key, nil
	}
	// #nosec G304 -- key path comes from the operator's configuration
	data, err := os.ReadFile(u.PrivateKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read private key for %s: %w", u.ID, err)
	}
	s.keys[u.ID] = string(data)
	return s.keys[u.ID], nil
}
