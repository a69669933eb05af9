package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/docanalyst/internal/application"
	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

const (
	testPoll    = 5 * time.Millisecond
	testTimeout = 2 * time.Second
)

var testCreds = model.Credentials{APIKey: "sk-test", AssistantID: "asst_test"}

func newTestOrchestrator(client *mockAssistantClient) *application.Orchestrator {
	provider := application.NewAssistantClientProvider(func(string) driven.AssistantClient {
		return client
	})
	return application.NewOrchestrator(provider)
}

func doc(name string) model.Document {
	return model.Document{Name: name, Data: []byte("%PDF-1.7 " + name)}
}

func assistantSays(text string) model.Message {
	return model.Message{ID: "msg-" + text, Role: model.RoleAssistant, Content: model.PlainText(text)}
}

func userSays(text string) model.Message {
	return model.Message{ID: "msg-" + text, Role: model.RoleUser, Content: model.PlainText(text)}
}

func transient() error {
	return fmt.Errorf("GET run: connection reset: %w", driven.ErrTransient)
}

func TestOrchestrator_BatchAnalysisLifecycle(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusQueued, model.RunStatusRunning, model.RunStatusCompleted},
		messages: []model.Message{
			userSays("analyze"),
			assistantSays("earlier reply"),
			userSays("again"),
			assistantSays("final reply"),
		},
	}
	orch := newTestOrchestrator(client)

	job := orch.Start(context.Background(), model.BatchAnalysis{Documents: []model.Document{doc("docA"), doc("docB")}}, testCreds, testPoll, testTimeout)

	reply, err := job.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"docA", "docB"}, client.uploads)
	require.Len(t, client.posts, 1)
	assert.Equal(t, []string{"file-docA", "file-docB"}, client.posts[0].DocumentIDs)
	assert.Contains(t, client.posts[0].Text, "multiple PDF files")
	assert.Equal(t, []string{"asst_test"}, client.runs)

	assert.Equal(t, "final reply", reply.Text)
	assert.Equal(t, "thread-1", reply.ContinuationToken)
	assert.Equal(t, []model.JobState{model.JobStateCreated, model.JobStateRunning, model.JobStateCompleted}, job.History())
	assert.Equal(t, model.JobStateCompleted, job.State())
	assert.Equal(t, 3, client.polls())
}

func TestOrchestrator_SingleDocumentUsesSinglePrompt(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		messages: []model.Message{assistantSays("ok")},
	}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.SingleDocumentAnalysis{Document: doc("q3")}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", h.ConversationID)
	assert.Equal(t, "run-thread-1", h.RunID)

	require.Len(t, client.posts, 1)
	assert.Equal(t, []string{"file-q3"}, client.posts[0].DocumentIDs)
	assert.Contains(t, client.posts[0].Text, "From the attached PDF")
	assert.Zero(t, client.polls(), "submit must not poll")
}

func TestOrchestrator_ConversationTurnsShareConversation(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		messages: []model.Message{userSays("hi"), assistantSays("hello")},
	}
	orch := newTestOrchestrator(client)
	ctx := context.Background()

	h1, err := orch.Submit(ctx, model.ConversationTurn{Message: "hi"}, testCreds)
	require.NoError(t, err)
	reply, err := orch.AwaitResult(ctx, h1, testPoll, testTimeout)
	require.NoError(t, err)

	h2, err := orch.Submit(ctx, model.ConversationTurn{Message: "and then?", ContinuationToken: reply.ContinuationToken}, testCreds)
	require.NoError(t, err)

	assert.Equal(t, 1, client.created, "follow-up must not open a new conversation")
	assert.Equal(t, []string{reply.ContinuationToken}, client.retrieved)
	require.Len(t, client.posts, 2)
	assert.Equal(t, client.posts[0].ConversationID, client.posts[1].ConversationID)
	assert.Equal(t, h1.ConversationID, h2.ConversationID)
	assert.Equal(t, "and then?", client.posts[1].Text)
	assert.Nil(t, client.posts[0].DocumentIDs)
	assert.Nil(t, client.posts[1].DocumentIDs)
	assert.Empty(t, client.uploads)
}

func TestOrchestrator_UnknownContinuationToken(t *testing.T) {
	client := &mockAssistantClient{retrieveErr: fmt.Errorf("thread gone: %w", driven.ErrConversationNotFound)}
	orch := newTestOrchestrator(client)

	_, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "hi", ContinuationToken: "thread-old"}, testCreds)
	require.ErrorIs(t, err, driven.ErrConversationNotFound)

	var jobErr *application.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "thread-old", jobErr.ConversationID)
	assert.Empty(t, client.posts)
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	orch := newTestOrchestrator(&mockAssistantClient{})
	ctx := context.Background()

	_, err := orch.Submit(ctx, model.ConversationTurn{Message: "hi"}, model.Credentials{APIKey: "sk"})
	assert.ErrorIs(t, err, application.ErrMissingCredentials)

	_, err = orch.Submit(ctx, model.BatchAnalysis{}, testCreds)
	assert.ErrorIs(t, err, application.ErrInvalidRequest)

	_, err = orch.Submit(ctx, model.ConversationTurn{Message: "   "}, testCreds)
	assert.ErrorIs(t, err, application.ErrInvalidRequest)

	_, err = orch.Submit(ctx, model.SingleDocumentAnalysis{Document: model.Document{Name: "empty.pdf"}}, testCreds)
	assert.ErrorIs(t, err, application.ErrInvalidRequest)

	_, err = orch.Submit(ctx, nil, testCreds)
	assert.ErrorIs(t, err, application.ErrInvalidRequest)
}

func TestOrchestrator_UploadFailureIsTransportError(t *testing.T) {
	client := &mockAssistantClient{uploadErr: transient()}
	orch := newTestOrchestrator(client)

	job := orch.Start(context.Background(), model.SingleDocumentAnalysis{Document: doc("a")}, testCreds, testPoll, testTimeout)
	_, err := job.Wait(context.Background())

	assert.ErrorIs(t, err, application.ErrTransport)
	assert.ErrorIs(t, err, driven.ErrTransient)
	assert.Equal(t, []model.JobState{model.JobStateCreated, model.JobStateFailed}, job.History())
	assert.Empty(t, job.Handle().RunID)
}

func TestAwaitResult_TimeoutBoundsPolls(t *testing.T) {
	client := &mockAssistantClient{statuses: []model.RunStatus{model.RunStatusRunning}}
	orch := newTestOrchestrator(client)
	ctx := context.Background()

	h, err := orch.Submit(ctx, model.ConversationTurn{Message: "slow"}, testCreds)
	require.NoError(t, err)

	poll, timeout := 10*time.Millisecond, 50*time.Millisecond
	start := time.Now()
	_, err = orch.AwaitResult(ctx, h, poll, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, application.ErrTimeout)
	var jobErr *application.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, h.ConversationID, jobErr.ConversationID)
	assert.Equal(t, h.RunID, jobErr.RunID)

	assert.GreaterOrEqual(t, elapsed, timeout)
	maxPolls := int(timeout/poll) + 1 + application.MaxTransportRetries
	assert.LessOrEqual(t, client.polls(), maxPolls)
	assert.GreaterOrEqual(t, client.polls(), 2)

	// The run was left alone; polling again with the same handle picks it up.
	client.mu.Lock()
	client.statuses = []model.RunStatus{model.RunStatusCompleted}
	client.messages = []model.Message{assistantSays("late but done")}
	client.mu.Unlock()

	reply, err := orch.AwaitResult(ctx, h, poll, timeout)
	require.NoError(t, err)
	assert.Equal(t, "late but done", reply.Text)
}

func TestAwaitResult_HungStatusCallStopsNearTimeout(t *testing.T) {
	client := &mockAssistantClient{hangStatus: true}
	orch := newTestOrchestrator(client)
	ctx := context.Background()

	h, err := orch.Submit(ctx, model.ConversationTurn{Message: "hang"}, testCreds)
	require.NoError(t, err)

	poll, timeout := 10*time.Millisecond, 30*time.Millisecond
	start := time.Now()
	_, err = orch.AwaitResult(ctx, h, poll, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, application.ErrTimeout)
	assert.NotErrorIs(t, err, application.ErrTransport)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, client.polls(), "a call cut off at the deadline is not retried")
}

func TestAwaitResult_TimeoutKeepsJobRunning(t *testing.T) {
	client := &mockAssistantClient{statuses: []model.RunStatus{model.RunStatusQueued}}
	orch := newTestOrchestrator(client)

	job := orch.Start(context.Background(), model.ConversationTurn{Message: "x"}, testCreds, testPoll, 20*time.Millisecond)
	_, err := job.Wait(context.Background())

	require.ErrorIs(t, err, application.ErrTimeout)
	assert.Equal(t, model.JobStateRunning, job.State())
	assert.NotEmpty(t, job.Handle().RunID)
}

func TestAwaitResult_RemoteFailureNotRetried(t *testing.T) {
	client := &mockAssistantClient{statuses: []model.RunStatus{model.RunStatusRunning, model.RunStatusFailed}}
	orch := newTestOrchestrator(client)

	job := orch.Start(context.Background(), model.ConversationTurn{Message: "x"}, testCreds, testPoll, testTimeout)
	_, err := job.Wait(context.Background())

	require.ErrorIs(t, err, application.ErrRemoteJob)
	assert.Equal(t, 2, client.polls())
	assert.Equal(t, model.JobStateFailed, job.State())
}

func TestAwaitResult_RetriesTransientPollFailures(t *testing.T) {
	client := &mockAssistantClient{
		statusErr: []error{transient(), transient(), transient()},
		statuses:  []model.RunStatus{model.RunStatusCompleted},
		messages:  []model.Message{assistantSays("recovered")},
	}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "x"}, testCreds)
	require.NoError(t, err)

	reply, err := orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Text)
	assert.Equal(t, 4, client.polls())
}

func TestAwaitResult_TransientFailuresExhausted(t *testing.T) {
	errs := make([]error, application.MaxTransportRetries+1)
	for i := range errs {
		errs[i] = transient()
	}
	client := &mockAssistantClient{statusErr: errs, statuses: []model.RunStatus{model.RunStatusCompleted}}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "x"}, testCreds)
	require.NoError(t, err)

	_, err = orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	require.ErrorIs(t, err, application.ErrTransport)
	assert.ErrorIs(t, err, driven.ErrTransient)
	assert.Equal(t, application.MaxTransportRetries+1, client.polls())
}

func TestAwaitResult_PermanentPollFailureNotRetried(t *testing.T) {
	client := &mockAssistantClient{statusErr: []error{errors.New("401 unauthorized")}}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "x"}, testCreds)
	require.NoError(t, err)

	_, err = orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	require.ErrorIs(t, err, application.ErrTransport)
	assert.Equal(t, 1, client.polls())
}

func TestAwaitResult_NoAssistantMessageIsProtocolError(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		messages: []model.Message{userSays("hello?")},
	}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "hello?"}, testCreds)
	require.NoError(t, err)

	_, err = orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	assert.ErrorIs(t, err, application.ErrProtocol)
}

func TestAwaitResult_UnknownStatusIsProtocolError(t *testing.T) {
	client := &mockAssistantClient{statuses: []model.RunStatus{"paused"}}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "x"}, testCreds)
	require.NoError(t, err)

	_, err = orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	assert.ErrorIs(t, err, application.ErrProtocol)
}

func TestAwaitResult_ListMessagesRetriesTransient(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		listErr:  []error{transient()},
		messages: []model.Message{assistantSays("after retry")},
	}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "x"}, testCreds)
	require.NoError(t, err)

	reply, err := orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "after retry", reply.Text)
}

func TestAwaitResult_NormalizesSegmentsAndAlignsTables(t *testing.T) {
	table := "```\n|Metric|Q1|\n|---|---|\n|Revenue|100|\n```"
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		messages: []model.Message{{
			ID:   "msg-1",
			Role: model.RoleAssistant,
			Content: model.Segments(
				model.ContentSegment{Type: "text", Text: "Summary"},
				model.ContentSegment{Type: "image_file"},
				model.ContentSegment{Type: "text", Text: table},
			),
		}},
	}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.SingleDocumentAnalysis{Document: doc("r")}, testCreds)
	require.NoError(t, err)

	reply, err := orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "Summary\n"+table, reply.Text)
	assert.Equal(t, application.AlignTables(reply.Text), reply.Formatted)
	assert.Contains(t, reply.Formatted, "| Revenue | 100 |")
}

func TestAwaitResult_ContextCancelStopsWaiting(t *testing.T) {
	client := &mockAssistantClient{statuses: []model.RunStatus{model.RunStatusRunning}}
	orch := newTestOrchestrator(client)

	h, err := orch.Submit(context.Background(), model.ConversationTurn{Message: "x"}, testCreds)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = orch.AwaitResult(ctx, h, testPoll, time.Hour)
	require.ErrorIs(t, err, application.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitResult_RejectsForeignHandle(t *testing.T) {
	orch := newTestOrchestrator(&mockAssistantClient{})

	_, err := orch.AwaitResult(context.Background(), application.JobHandle{ConversationID: "c", RunID: "r"}, testPoll, testTimeout)
	assert.ErrorIs(t, err, application.ErrInvalidRequest)
}

func TestOrchestrator_ResumePollsByIDs(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		messages: []model.Message{assistantSays("resumed")},
	}
	orch := newTestOrchestrator(client)

	h := orch.Resume(testCreds, "thread-9", "run-9")
	reply, err := orch.AwaitResult(context.Background(), h, testPoll, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "resumed", reply.Text)
	assert.Equal(t, "thread-9", reply.ContinuationToken)
}

func TestOrchestrator_ConcurrentRuns(t *testing.T) {
	client := &mockAssistantClient{
		statuses: []model.RunStatus{model.RunStatusCompleted},
		messages: []model.Message{assistantSays("done")},
	}
	orch := newTestOrchestrator(client)

	const runs = 20
	var wg sync.WaitGroup
	wg.Add(runs)
	for i := range runs {
		go func() {
			defer wg.Done()
			job := orch.Start(context.Background(), model.SingleDocumentAnalysis{Document: doc(fmt.Sprintf("d%d", i))}, testCreds, testPoll, testTimeout)
			reply, err := job.Wait(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "done", reply.Text)
		}()
	}
	wg.Wait()

	assert.Len(t, client.uploads, runs)
	assert.Equal(t, runs, client.created)
}

func TestJob_WaitHonorsContext(t *testing.T) {
	client := &mockAssistantClient{statuses: []model.RunStatus{model.RunStatusRunning}}
	orch := newTestOrchestrator(client)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	job := orch.Start(runCtx, model.ConversationTurn{Message: "x"}, testCreds, testPoll, time.Hour)

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := job.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-job.Done():
		t.Fatal("job should still be polling")
	default:
	}

	stop()
	<-job.Done()
	_, err = job.Wait(context.Background())
	assert.ErrorIs(t, err, application.ErrTimeout)
}
