package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// --- Mock implementations ---

type postCall struct {
	ConversationID string
	Text           string
	DocumentIDs    []string
}

type mockAssistantClient struct {
	mu sync.Mutex

	// statuses is consumed one per GetRunStatus call; the last entry repeats.
	statuses  []model.RunStatus
	statusErr []error // consumed before statuses while non-empty
	messages  []model.Message
	listErr   []error

	uploadErr   error
	retrieveErr error
	hangStatus  bool // GetRunStatus blocks until its context ends

	uploads      []string
	created      int
	retrieved    []string
	posts        []postCall
	runs         []string
	statusPolls  int
	conversation int
}

func (m *mockAssistantClient) UploadDocument(_ context.Context, doc model.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploads = append(m.uploads, doc.Name)
	return "file-" + doc.Name, nil
}

func (m *mockAssistantClient) CreateConversation(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	m.conversation++
	return fmt.Sprintf("thread-%d", m.conversation), nil
}

func (m *mockAssistantClient) RetrieveConversation(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retrieveErr != nil {
		return "", m.retrieveErr
	}
	m.retrieved = append(m.retrieved, id)
	return id, nil
}

func (m *mockAssistantClient) PostMessage(_ context.Context, conversationID, text string, documentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, postCall{ConversationID: conversationID, Text: text, DocumentIDs: documentIDs})
	return nil
}

func (m *mockAssistantClient) StartRun(_ context.Context, conversationID, assistantID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, assistantID)
	return "run-" + conversationID, nil
}

func (m *mockAssistantClient) GetRunStatus(ctx context.Context, _, _ string) (model.RunStatus, error) {
	m.mu.Lock()
	m.statusPolls++
	hang := m.hangStatus
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %w", driven.ErrTransient, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statusErr) > 0 {
		err := m.statusErr[0]
		m.statusErr = m.statusErr[1:]
		if err != nil {
			return "", err
		}
	}
	if len(m.statuses) == 0 {
		return model.RunStatusRunning, nil
	}
	status := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return status, nil
}

func (m *mockAssistantClient) ListMessages(_ context.Context, _ string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listErr) > 0 {
		err := m.listErr[0]
		m.listErr = m.listErr[1:]
		return nil, err
	}
	return m.messages, nil
}

func (m *mockAssistantClient) polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusPolls
}

// memoryVaultStore is an in-memory driven.VaultStore.
type memoryVaultStore struct {
	mu       sync.Mutex
	snapshot model.VaultSnapshot
	saves    int
	saveErr  error
}

func (s *memoryVaultStore) Load(_ context.Context) (model.VaultSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

func (s *memoryVaultStore) Save(_ context.Context, snapshot model.VaultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snapshot = snapshot
	return nil
}

var errDiskFull = errors.New("disk full")
