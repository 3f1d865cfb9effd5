package credentials

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned when no secret exists for a
// service/account pair.
var ErrSecretNotFound = errors.New("secret not found")

// IsNotFound reports whether err means the secret does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound) || errors.Is(err, keyring.ErrNotFound)
}

// systemKeyring stores secrets in the OS credential store.
type systemKeyring struct{}

func newSystemKeyring() *systemKeyring {
	return &systemKeyring{}
}

func (s *systemKeyring) Set(service, account, secret string) error {
	if err := keyring.Set(service, account, secret); err != nil {
		return fmt.Errorf("failed to store secret for %s/%s: %w", service, account, err)
	}
	return nil
}

func (s *systemKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to read secret for %s/%s: %w", service, account, err)
	}
	return secret, nil
}

func (s *systemKeyring) Delete(service, account string) error {
	if err := keyring.Delete(service, account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("failed to delete secret for %s/%s: %w", service, account, err)
	}
	return nil
}

// MockKeyring is an in-memory Keyring for tests.
type MockKeyring struct {
	mu      sync.Mutex
	secrets map[string]map[string]string
	failAll bool
}

func NewMockKeyring() *MockKeyring {
	return &MockKeyring{
		secrets: make(map[string]map[string]string),
	}
}

// FailAll makes every operation return an error, simulating a locked
// or unavailable keyring.
func (m *MockKeyring) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

func (m *MockKeyring) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return fmt.Errorf("keyring unavailable")
	}
	if m.secrets[service] == nil {
		m.secrets[service] = make(map[string]string)
	}
	m.secrets[service][account] = secret
	return nil
}

func (m *MockKeyring) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return "", fmt.Errorf("keyring unavailable")
	}
	secret, ok := m.secrets[service][account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return secret, nil
}

func (m *MockKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return fmt.Errorf("keyring unavailable")
	}
	if _, ok := m.secrets[service][account]; !ok {
		return ErrSecretNotFound
	}
	delete(m.secrets[service], account)
	return nil
}
