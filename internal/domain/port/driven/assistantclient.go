package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
)

// ErrTransient marks a transport-level failure that may succeed on retry
// (network errors, rate limiting, 5xx responses).
var ErrTransient = errors.New("transient transport failure")

// ErrConversationNotFound is returned by RetrieveConversation for an unknown id.
var ErrConversationNotFound = errors.New("conversation not found")

// AssistantClient defines the driven port for the remote AI assistant service.
// Implementations must be safe for concurrent use by multiple job runs.
type AssistantClient interface {
	// UploadDocument stores a document remotely and returns its opaque id.
	UploadDocument(ctx context.Context, doc model.Document) (string, error)

	// CreateConversation opens a new conversation and returns its id.
	CreateConversation(ctx context.Context) (string, error)

	// RetrieveConversation confirms that a conversation exists and returns its id.
	// Returns ErrConversationNotFound if the id is unknown.
	RetrieveConversation(ctx context.Context, conversationID string) (string, error)

	// PostMessage appends a user message, optionally attaching uploaded documents.
	PostMessage(ctx context.Context, conversationID, text string, documentIDs []string) error

	// StartRun asks the assistant to process the conversation and returns the run id.
	StartRun(ctx context.Context, conversationID, assistantID string) (string, error)

	// GetRunStatus reports the current status of a run.
	GetRunStatus(ctx context.Context, conversationID, runID string) (model.RunStatus, error)

	// ListMessages returns the conversation's messages, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}
