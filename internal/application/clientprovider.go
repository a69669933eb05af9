package application

import (
	"sync"

	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// AssistantClientFactory builds a client authenticated with apiKey.
type AssistantClientFactory func(apiKey string) driven.AssistantClient

// AssistantClientProvider hands out one shared driven.AssistantClient per API
// key. Runs submitted with the same key share a client (and its connection
// pool); rotating a key via Replace or Forget takes effect for the next
// submission without a restart.
type AssistantClientProvider struct {
	mu      sync.RWMutex
	factory AssistantClientFactory
	clients map[string]driven.AssistantClient
}

// NewAssistantClientProvider creates a provider that builds clients on demand
// with factory.
func NewAssistantClientProvider(factory AssistantClientFactory) *AssistantClientProvider {
	return &AssistantClientProvider{
		factory: factory,
		clients: make(map[string]driven.AssistantClient),
	}
}

// Get returns the client for apiKey, creating it on first use.
func (p *AssistantClientProvider) Get(apiKey string) driven.AssistantClient {
	p.mu.RLock()
	client, ok := p.clients[apiKey]
	p.mu.RUnlock()
	if ok {
		return client
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have created it between the two locks.
	if client, ok := p.clients[apiKey]; ok {
		return client
	}
	client = p.factory(apiKey)
	p.clients[apiKey] = client
	return client
}

// Replace installs client for apiKey, discarding any cached one.
func (p *AssistantClientProvider) Replace(apiKey string, client driven.AssistantClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[apiKey] = client
}

// Forget drops the cached client for apiKey.
func (p *AssistantClientProvider) Forget(apiKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, apiKey)
}

// Len returns the number of cached clients.
func (p *AssistantClientProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
