// Package credentials resolves the bearer token the cache gateway
// attaches to origin requests. Tokens come from the environment, the
// system keyring, or an explicit override, checked in that order.
package credentials

import (
	"fmt"
	"os"
	"strings"

	"todokeep/internal/utils"
)

// Source identifies where a token was resolved from.
type Source string

const (
	SourceEnvironment Source = "environment"
	SourceKeyring     Source = "keyring"
	SourceOverride    Source = "override"
	SourceNone        Source = "none"
)

// EnvTokenVar is checked before the keyring so CI and scripts can
// inject a token without touching the keychain.
const EnvTokenVar = "TODOKEEP_ORIGIN_TOKEN"

// tokenAccount is the keyring account name under the configured service.
const tokenAccount = "origin-token"

// TokenInfo describes a resolved token without exposing its value in logs.
type TokenInfo struct {
	Source  Source
	Service string
}

// Keyring abstracts secure credential storage.
type Keyring interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager resolves and stores the origin token for a configured
// keyring service name.
type Manager struct {
	keyring  Keyring
	service  string
	override string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithKeyring replaces the system keyring, used by tests.
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithOverride forces a fixed token, bypassing environment and keyring.
func WithOverride(token string) ManagerOption {
	return func(m *Manager) {
		m.override = token
	}
}

// NewManager creates a Manager for the given keyring service name.
func NewManager(service string, opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: newSystemKeyring(),
		service: service,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token resolves the origin token. A missing token is not an error;
// the gateway simply sends unauthenticated requests.
func (m *Manager) Token() (string, TokenInfo, error) {
	if m.override != "" {
		return m.override, TokenInfo{Source: SourceOverride, Service: m.service}, nil
	}
	if env := strings.TrimSpace(os.Getenv(EnvTokenVar)); env != "" {
		return env, TokenInfo{Source: SourceEnvironment, Service: m.service}, nil
	}
	secret, err := m.keyring.Get(m.service, tokenAccount)
	if err != nil {
		if IsNotFound(err) {
			return "", TokenInfo{Source: SourceNone, Service: m.service}, nil
		}
		utils.Debugf("keyring lookup failed for service %s: %v", m.service, err)
		return "", TokenInfo{Source: SourceNone, Service: m.service}, utils.WrapWithSuggestion(
			err,
			fmt.Sprintf("check that the system keyring is unlocked, or set %s instead", EnvTokenVar),
		)
	}
	return secret, TokenInfo{Source: SourceKeyring, Service: m.service}, nil
}

// Store saves the origin token in the system keyring.
func (m *Manager) Store(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := m.keyring.Set(m.service, tokenAccount, token); err != nil {
		return utils.WrapWithSuggestion(
			err,
			fmt.Sprintf("the system keyring may be locked; set %s as a workaround", EnvTokenVar),
		)
	}
	return nil
}

// Clear removes the stored origin token. Clearing a token that was
// never stored is not an error.
func (m *Manager) Clear() error {
	err := m.keyring.Delete(m.service, tokenAccount)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}
