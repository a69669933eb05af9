// Package application contains the use-case services: the credential vault,
// the remote job orchestrator and reply formatting.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// Job sentinel errors. A *JobError matches its kind with errors.Is.
var (
	ErrProtocol           = errors.New("job: unexpected response from assistant service")
	ErrRemoteJob          = errors.New("job: remote run failed")
	ErrTimeout            = errors.New("job: timed out waiting for run")
	ErrTransport          = errors.New("job: transport failure")
	ErrInvalidRequest     = errors.New("job: invalid request")
	ErrMissingCredentials = errors.New("job: API key and assistant id are required")
)

const (
	// MaxTransportRetries bounds consecutive transient failures tolerated
	// while polling a run.
	MaxTransportRetries = 3

	// DefaultPollInterval is used when AwaitResult gets a non-positive interval.
	DefaultPollInterval = time.Second
)

// JobError describes a failed orchestrator step. Kind is one of the job
// sentinels (or driven.ErrConversationNotFound); Err is the underlying cause.
type JobError struct {
	Op             string
	ConversationID string
	RunID          string
	Kind           error
	Err            error
}

func (e *JobError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ConversationID != "" {
		b.WriteString(" conversation=")
		b.WriteString(e.ConversationID)
	}
	if e.RunID != "" {
		b.WriteString(" run=")
		b.WriteString(e.RunID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *JobError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// JobHandle identifies a started run. It stays valid after AwaitResult
// returns ErrTimeout so the caller can poll again.
type JobHandle struct {
	ConversationID string
	RunID          string

	client driven.AssistantClient
}

// Orchestrator drives the upload, conversation, run, poll and extract
// sequence against the remote assistant service. It keeps no per-run state,
// so one Orchestrator serves any number of concurrent runs.
type Orchestrator struct {
	clients    *AssistantClientProvider
	maxRetries int
}

// NewOrchestrator creates an Orchestrator that obtains clients from clients.
func NewOrchestrator(clients *AssistantClientProvider) *Orchestrator {
	return &Orchestrator{
		clients:    clients,
		maxRetries: MaxTransportRetries,
	}
}

// Submit performs the setup calls for req and starts a remote run. It returns
// as soon as the run is started and never waits for it to finish.
func (o *Orchestrator) Submit(ctx context.Context, req model.JobRequest, creds model.Credentials) (JobHandle, error) {
	if creds.APIKey == "" || creds.AssistantID == "" {
		return JobHandle{}, &JobError{Op: "submit", Kind: ErrMissingCredentials}
	}

	var (
		docs   []model.Document
		text   string
		reuse  string
		attach bool
	)

	switch r := req.(type) {
	case model.SingleDocumentAnalysis:
		docs, text, attach = []model.Document{r.Document}, singleDocumentPrompt, true
	case model.BatchAnalysis:
		if len(r.Documents) == 0 {
			return JobHandle{}, &JobError{Op: "submit", Kind: ErrInvalidRequest, Err: errors.New("batch has no documents")}
		}
		docs, text, attach = r.Documents, batchPrompt, true
	case model.ConversationTurn:
		if strings.TrimSpace(r.Message) == "" {
			return JobHandle{}, &JobError{Op: "submit", Kind: ErrInvalidRequest, Err: errors.New("message is empty")}
		}
		text, reuse = r.Message, r.ContinuationToken
	default:
		return JobHandle{}, &JobError{Op: "submit", Kind: ErrInvalidRequest, Err: fmt.Errorf("unsupported request %T", req)}
	}

	for i, doc := range docs {
		if len(doc.Data) == 0 {
			return JobHandle{}, &JobError{Op: "submit", Kind: ErrInvalidRequest, Err: fmt.Errorf("document %d (%q) is empty", i, doc.Name)}
		}
	}

	client := o.clients.Get(creds.APIKey)

	documentIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, err := client.UploadDocument(ctx, doc)
		if err != nil {
			return JobHandle{}, &JobError{Op: "upload document " + doc.Name, Kind: callKind(err), Err: err}
		}
		documentIDs = append(documentIDs, id)
	}

	var (
		conversationID string
		err            error
	)
	if reuse != "" {
		conversationID, err = client.RetrieveConversation(ctx, reuse)
		if err != nil {
			return JobHandle{}, &JobError{Op: "retrieve conversation", ConversationID: reuse, Kind: callKind(err), Err: err}
		}
	} else {
		conversationID, err = client.CreateConversation(ctx)
		if err != nil {
			return JobHandle{}, &JobError{Op: "create conversation", Kind: callKind(err), Err: err}
		}
	}

	if !attach {
		documentIDs = nil
	}
	if err := client.PostMessage(ctx, conversationID, text, documentIDs); err != nil {
		return JobHandle{}, &JobError{Op: "post message", ConversationID: conversationID, Kind: callKind(err), Err: err}
	}

	runID, err := client.StartRun(ctx, conversationID, creds.AssistantID)
	if err != nil {
		return JobHandle{}, &JobError{Op: "start run", ConversationID: conversationID, Kind: callKind(err), Err: err}
	}

	slog.Debug("job submitted",
		"request", fmt.Sprintf("%T", req),
		"documents", len(documentIDs),
		"conversation", conversationID,
		"run", runID,
		"continued", reuse != "",
	)

	return JobHandle{ConversationID: conversationID, RunID: runID, client: client}, nil
}

// Resume rebuilds a handle for a run started earlier, so a caller that only
// kept the ids can poll it again.
func (o *Orchestrator) Resume(creds model.Credentials, conversationID, runID string) JobHandle {
	return JobHandle{
		ConversationID: conversationID,
		RunID:          runID,
		client:         o.clients.Get(creds.APIKey),
	}
}

// AwaitResult polls the run behind h every pollInterval until it reaches a
// terminal status or timeout elapses. On completion it returns the newest
// assistant message. Transient transport failures are retried up to
// MaxTransportRetries consecutive times; a timed-out run is left running.
func (o *Orchestrator) AwaitResult(ctx context.Context, h JobHandle, pollInterval, timeout time.Duration) (model.Reply, error) {
	if h.client == nil {
		return model.Reply{}, &JobError{Op: "await", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrInvalidRequest, Err: errors.New("handle was not issued by this orchestrator")}
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	failures := 0

	for {
		// A status call may outlive the deadline by at most one interval.
		callCtx, cancel := context.WithDeadline(ctx, deadline.Add(pollInterval))
		status, err := h.client.GetRunStatus(callCtx, h.ConversationID, h.RunID)
		expired := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return model.Reply{}, o.stopped(h, ctx.Err())
			}
			if expired {
				return model.Reply{}, &JobError{Op: "poll run", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrTimeout, Err: err}
			}
			if !errors.Is(err, driven.ErrTransient) || failures >= o.maxRetries {
				return model.Reply{}, &JobError{Op: "poll run", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrTransport, Err: err}
			}
			failures++
			slog.Debug("run poll failed, retrying",
				"conversation", h.ConversationID,
				"run", h.RunID,
				"attempt", failures,
				"error", err,
			)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return model.Reply{}, o.stopped(h, err)
			}
			continue
		}
		failures = 0

		switch status {
		case model.RunStatusCompleted:
			return o.collectReply(ctx, h, pollInterval)
		case model.RunStatusFailed:
			return model.Reply{}, &JobError{Op: "poll run", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrRemoteJob}
		case model.RunStatusQueued, model.RunStatusRunning:
		default:
			return model.Reply{}, &JobError{Op: "poll run", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrProtocol, Err: fmt.Errorf("unknown run status %q", status)}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return model.Reply{}, &JobError{Op: "poll run", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrTimeout, Err: fmt.Errorf("run still %s after %s", status, timeout)}
		}
		if err := sleepCtx(ctx, min(pollInterval, remaining)); err != nil {
			return model.Reply{}, o.stopped(h, err)
		}
	}
}

// collectReply fetches the conversation and extracts the newest assistant
// message. Transient failures get the same bounded retry as polling.
func (o *Orchestrator) collectReply(ctx context.Context, h JobHandle, pollInterval time.Duration) (model.Reply, error) {
	var (
		messages []model.Message
		err      error
	)
	for attempt := 0; ; attempt++ {
		messages, err = h.client.ListMessages(ctx, h.ConversationID)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return model.Reply{}, o.stopped(h, ctx.Err())
		}
		if !errors.Is(err, driven.ErrTransient) || attempt >= o.maxRetries {
			return model.Reply{}, &JobError{Op: "list messages", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrTransport, Err: err}
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return model.Reply{}, o.stopped(h, err)
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != model.RoleAssistant {
			continue
		}
		text := messages[i].Content.Text()
		if text == "" {
			return model.Reply{}, &JobError{Op: "extract reply", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrProtocol, Err: fmt.Errorf("assistant message %s has no text", messages[i].ID)}
		}

		slog.Debug("job completed", "conversation", h.ConversationID, "run", h.RunID, "chars", len(text))

		return model.Reply{
			Text:              text,
			Formatted:         AlignTables(text),
			ContinuationToken: h.ConversationID,
		}, nil
	}

	return model.Reply{}, &JobError{Op: "extract reply", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrProtocol, Err: errors.New("no assistant message in conversation")}
}

// stopped reports that the caller stopped waiting. The run is not cancelled.
func (o *Orchestrator) stopped(h JobHandle, cause error) error {
	return &JobError{Op: "poll run", ConversationID: h.ConversationID, RunID: h.RunID, Kind: ErrTimeout, Err: cause}
}

// callKind classifies an error returned by a setup call.
func callKind(err error) error {
	if errors.Is(err, driven.ErrConversationNotFound) {
		return driven.ErrConversationNotFound
	}
	return ErrTransport
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
