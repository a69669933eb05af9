package application

import (
	"context"
	"sync"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
)

// Session tracks which saved API key is active. Unlocking a secret makes its
// plaintext the key used for jobs until the session is locked again.
type Session struct {
	mu      sync.RWMutex
	vault   *Vault
	clients *AssistantClientProvider
	name    string
	apiKey  string
}

// NewSession creates a locked session over vault.
func NewSession(vault *Vault, clients *AssistantClientProvider) *Session {
	return &Session{vault: vault, clients: clients}
}

// Unlock reveals name with pin and makes it the active key.
func (s *Session) Unlock(ctx context.Context, name, pin string) error {
	key, err := s.vault.UnlockSecret(ctx, name, pin)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiKey != "" && s.apiKey != key {
		s.clients.Forget(s.apiKey)
	}
	s.name, s.apiKey = name, key
	return nil
}

// Lock clears the active key and drops its cached client.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiKey != "" {
		s.clients.Forget(s.apiKey)
	}
	s.name, s.apiKey = "", ""
}

// LockIfActive locks the session when name is the active secret.
func (s *Session) LockIfActive(name string) {
	s.mu.RLock()
	active := s.name == name && name != ""
	s.mu.RUnlock()
	if active {
		s.Lock()
	}
}

// Active returns the name of the active secret, or "" when locked.
func (s *Session) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Credentials combines the active key with the vault's assistant id. Either
// may be empty; the orchestrator rejects incomplete credentials.
func (s *Session) Credentials() model.Credentials {
	s.mu.RLock()
	key := s.apiKey
	s.mu.RUnlock()

	return model.Credentials{APIKey: key, AssistantID: s.vault.Settings().AssistantID}
}
