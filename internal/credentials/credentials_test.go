package credentials

import (
	"testing"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *MockKeyring) {
	t.Helper()
	mock := NewMockKeyring()
	opts = append([]ManagerOption{WithKeyring(mock)}, opts...)
	return NewManager("todokeep-test", opts...), mock
}

func TestTokenMissingIsNotError(t *testing.T) {
	m, _ := newTestManager(t)

	token, info, err := m.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token, got %q", token)
	}
	if info.Source != SourceNone {
		t.Errorf("expected source %q, got %q", SourceNone, info.Source)
	}
}

func TestStoreAndResolveFromKeyring(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Store("secret-token"); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	token, info, err := m.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "secret-token" {
		t.Errorf("expected stored token, got %q", token)
	}
	if info.Source != SourceKeyring {
		t.Errorf("expected source %q, got %q", SourceKeyring, info.Source)
	}
}

func TestStoreRejectsEmptyToken(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Store("   "); err == nil {
		t.Error("expected error for blank token")
	}
}

func TestEnvironmentBeatsKeyring(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Store("from-keyring"); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	t.Setenv(EnvTokenVar, "from-env")

	token, info, err := m.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "from-env" {
		t.Errorf("expected environment token, got %q", token)
	}
	if info.Source != SourceEnvironment {
		t.Errorf("expected source %q, got %q", SourceEnvironment, info.Source)
	}
}

func TestOverrideBeatsEverything(t *testing.T) {
	m, _ := newTestManager(t, WithOverride("forced"))
	t.Setenv(EnvTokenVar, "from-env")

	token, info, err := m.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "forced" {
		t.Errorf("expected override token, got %q", token)
	}
	if info.Source != SourceOverride {
		t.Errorf("expected source %q, got %q", SourceOverride, info.Source)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Store("secret"); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("clearing again should not fail: %v", err)
	}

	token, _, err := m.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Errorf("expected no token after clear, got %q", token)
	}
}

func TestUnavailableKeyringSurfacesSuggestion(t *testing.T) {
	m, mock := newTestManager(t)
	mock.FailAll(true)

	_, info, err := m.Token()
	if err == nil {
		t.Fatal("expected error from unavailable keyring")
	}
	if info.Source != SourceNone {
		t.Errorf("expected source %q, got %q", SourceNone, info.Source)
	}
}
