package application

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
)

// Job is a run executing on its own goroutine. It is the future returned by
// Orchestrator.Start; callers block on Wait or select on Done.
type Job struct {
	mu      sync.Mutex
	history []model.JobState
	handle  JobHandle
	reply   model.Reply
	err     error
	done    chan struct{}
}

func newJob() *Job {
	return &Job{
		history: []model.JobState{model.JobStateCreated},
		done:    make(chan struct{}),
	}
}

// Start submits req and awaits its result on a new goroutine. ctx bounds
// both steps; cancelling it stops waiting but leaves the remote run alone.
func (o *Orchestrator) Start(ctx context.Context, req model.JobRequest, creds model.Credentials, pollInterval, timeout time.Duration) *Job {
	job := newJob()

	go func() {
		defer close(job.done)

		handle, err := o.Submit(ctx, req, creds)
		if err != nil {
			job.finish(model.Reply{}, err)
			return
		}
		job.started(handle)

		reply, err := o.AwaitResult(ctx, handle, pollInterval, timeout)
		job.finish(reply, err)
	}()

	return job
}

// Done is closed once the job has a result or an error.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (model.Reply, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return model.Reply{}, ctx.Err()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reply, j.err
}

// State returns the current lifecycle state. A job whose wait timed out
// stays running: the remote run may still complete.
func (j *Job) State() model.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.history[len(j.history)-1]
}

// History returns every state the job has been in, oldest first.
func (j *Job) History() []model.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.history)
}

// Handle returns the run handle; it is the zero value until submission
// succeeds.
func (j *Job) Handle() JobHandle {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.handle
}

func (j *Job) started(h JobHandle) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.handle = h
	j.transitionLocked(model.JobStateRunning)
}

func (j *Job) finish(reply model.Reply, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.reply, j.err = reply, err
	switch {
	case err == nil:
		j.transitionLocked(model.JobStateCompleted)
	case errors.Is(err, ErrTimeout):
	default:
		j.transitionLocked(model.JobStateFailed)
	}
}

func (j *Job) transitionLocked(next model.JobState) {
	current := j.history[len(j.history)-1]
	if !current.CanTransitionTo(next) {
		slog.Warn("ignoring illegal job transition", "from", current, "to", next)
		return
	}
	j.history = append(j.history, next)
	slog.Debug("job state changed",
		"conversation", j.handle.ConversationID,
		"run", j.handle.RunID,
		"from", current,
		"to", next,
	)
}
