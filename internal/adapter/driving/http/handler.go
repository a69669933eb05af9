// Package httphandler serves the loopback JSON API over the vault, the
// session and the job orchestrator.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/docanalyst/internal/application"
	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// maxBodyBytes bounds JSON request bodies; inline documents count toward it.
const maxBodyBytes = 64 << 20

// ReplyRenderer turns reply text into display HTML.
type ReplyRenderer func(text string) string

// Options configures job timing and document fetching for a Handler.
type Options struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
	// DownloadDir is used when the vault has no default download directory.
	DownloadDir string
	Render      ReplyRenderer
}

// Handler is the HTTP driving adapter that serves the JSON API.
type Handler struct {
	vault   *application.Vault
	session *application.Session
	orch    *application.Orchestrator
	docs    driven.DocumentSource
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	vault *application.Vault,
	session *application.Session,
	orch *application.Orchestrator,
	docs driven.DocumentSource,
	opts Options,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		vault:   vault,
		session: session,
		orch:    orch,
		docs:    docs,
		opts:    opts,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request-id, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/secrets", h.ListSecrets)
	mux.HandleFunc("POST /api/v1/secrets", h.RegisterSecret)
	mux.HandleFunc("DELETE /api/v1/secrets/{name}", h.DeleteSecret)
	mux.HandleFunc("POST /api/v1/secrets/{name}/unlock", h.UnlockSecret)
	mux.HandleFunc("POST /api/v1/session/lock", h.LockSession)
	mux.HandleFunc("GET /api/v1/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/v1/settings", h.UpdateSettings)
	mux.HandleFunc("POST /api/v1/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/v1/conversations/{conversation}/runs/{run}", h.PollRun)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListSecrets returns saved secret names; plaintext is never exposed.
func (h *Handler) ListSecrets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SecretListResponse{
		Names:  h.vault.ListNames(),
		Active: h.session.Active(),
	})
}

// RegisterSecret encrypts and saves an API key under a PIN.
func (h *Handler) RegisterSecret(w http.ResponseWriter, r *http.Request) {
	var req RegisterSecretRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if err := application.ValidatePin(req.Pin); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.vault.RegisterSecret(r.Context(), req.Name, req.APIKey, req.Pin); err != nil {
		h.writeAppError(w, r, "register secret", err)
		return
	}

	writeJSON(w, http.StatusCreated, SecretListResponse{Names: h.vault.ListNames(), Active: h.session.Active()})
}

// DeleteSecret removes a saved secret. Deleting the active secret locks the
// session.
func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.vault.DeleteSecret(r.Context(), name); err != nil {
		h.writeAppError(w, r, "delete secret", err)
		return
	}
	h.session.LockIfActive(name)

	w.WriteHeader(http.StatusNoContent)
}

// UnlockSecret makes a saved secret the session's active key.
func (h *Handler) UnlockSecret(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.session.Unlock(r.Context(), r.PathValue("name"), req.Pin); err != nil {
		h.writeAppError(w, r, "unlock secret", err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Active: h.session.Active()})
}

// LockSession clears the active key.
func (h *Handler) LockSession(w http.ResponseWriter, _ *http.Request) {
	h.session.Lock()
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the vault-wide settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsBody(h.vault.Settings()))
}

// UpdateSettings replaces the vault-wide settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsBody
	if !decodeBody(w, r, &req) {
		return
	}

	settings := model.VaultSettings{
		DefaultDownloadDir: strings.TrimSpace(req.DefaultDownloadDir),
		AssistantID:        strings.TrimSpace(req.AssistantID),
	}
	if err := h.vault.UpdateSettings(r.Context(), settings); err != nil {
		h.writeAppError(w, r, "update settings", err)
		return
	}

	writeJSON(w, http.StatusOK, toSettingsBody(h.vault.Settings()))
}

// SubmitJob resolves the documents, starts the run and waits for it up to the
// configured job timeout. A run still going at the deadline is reported with
// 202 and the ids needed to poll it.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	jobReq, err := h.buildJobRequest(r.Context(), req)
	if err != nil {
		h.writeAppError(w, r, "build job", err)
		return
	}

	job := h.orch.Start(r.Context(), jobReq, h.session.Credentials(), h.opts.PollInterval, h.opts.JobTimeout)
	reply, err := job.Wait(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrTimeout) {
			handle := job.Handle()
			writeJSON(w, http.StatusAccepted, pendingResponse(handle.ConversationID, handle.RunID))
			return
		}
		h.writeAppError(w, r, "run job", err)
		return
	}

	writeJSON(w, http.StatusOK, h.toReplyResponse(reply))
}

// PollRun checks a run started earlier. The optional "wait" query parameter
// (a Go duration, capped at the job timeout) keeps polling up to that long.
func (h *Handler) PollRun(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation")
	runID := r.PathValue("run")

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid wait duration")
			return
		}
		wait = min(d, h.opts.JobTimeout)
	}

	creds := h.session.Credentials()
	if creds.APIKey == "" || creds.AssistantID == "" {
		h.writeAppError(w, r, "poll run", application.ErrMissingCredentials)
		return
	}

	handle := h.orch.Resume(creds, conversationID, runID)
	reply, err := h.orch.AwaitResult(r.Context(), handle, h.opts.PollInterval, wait)
	if err != nil {
		if errors.Is(err, application.ErrTimeout) {
			writeJSON(w, http.StatusAccepted, pendingResponse(conversationID, runID))
			return
		}
		h.writeAppError(w, r, "poll run", err)
		return
	}

	writeJSON(w, http.StatusOK, h.toReplyResponse(reply))
}

func (h *Handler) buildJobRequest(ctx context.Context, req JobRequest) (model.JobRequest, error) {
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case JobKindSingle:
		if len(req.Documents) != 1 {
			return nil, fmt.Errorf("%w: single analysis takes exactly one document", application.ErrInvalidRequest)
		}
		docs, err := h.resolveDocuments(ctx, req.Documents)
		if err != nil {
			return nil, err
		}
		return model.SingleDocumentAnalysis{Document: docs[0]}, nil

	case JobKindBatch:
		if len(req.Documents) == 0 {
			return nil, fmt.Errorf("%w: batch analysis needs at least one document", application.ErrInvalidRequest)
		}
		docs, err := h.resolveDocuments(ctx, req.Documents)
		if err != nil {
			return nil, err
		}
		return model.BatchAnalysis{Documents: docs}, nil

	case JobKindChat:
		return model.ConversationTurn{Message: req.Message, ContinuationToken: req.ContinuationToken}, nil

	default:
		return nil, fmt.Errorf("%w: kind must be %q, %q or %q", application.ErrInvalidRequest, JobKindSingle, JobKindBatch, JobKindChat)
	}
}

// resolveDocuments keeps inline documents as given and fetches the rest, in
// request order.
func (h *Handler) resolveDocuments(ctx context.Context, refs []DocumentRef) ([]model.Document, error) {
	destDir := h.vault.Settings().DefaultDownloadDir
	if destDir == "" {
		destDir = h.opts.DownloadDir
	}

	docs := make([]model.Document, 0, len(refs))
	for i, ref := range refs {
		if len(ref.Data) > 0 {
			name := ref.Name
			if name == "" {
				name = fmt.Sprintf("document-%d.pdf", i+1)
			}
			docs = append(docs, model.Document{Name: name, Data: ref.Data})
			continue
		}

		doc, err := h.docs.Fetch(ctx, model.CatalogEntry{Category: ref.Category, Name: ref.Name, Locator: ref.Locator}, destDir)
		if err != nil {
			return nil, &documentError{index: i, err: err}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// documentError marks a failure to load one of the request's documents.
type documentError struct {
	index int
	err   error
}

func (e *documentError) Error() string {
	return fmt.Sprintf("document %d: %v", e.index, e.err)
}

func (e *documentError) Unwrap() error { return e.err }

func (h *Handler) toReplyResponse(reply model.Reply) ReplyResponse {
	resp := ReplyResponse{
		Text:              reply.Text,
		Formatted:         reply.Formatted,
		ContinuationToken: reply.ContinuationToken,
	}
	if h.opts.Render != nil {
		resp.HTML = h.opts.Render(reply.Text)
	}
	return resp
}

func pendingResponse(conversationID, runID string) PendingResponse {
	return PendingResponse{
		ConversationID: conversationID,
		RunID:          runID,
		Status:         string(model.JobStateRunning),
		PollURL:        "/api/v1/conversations/" + url.PathEscape(conversationID) + "/runs/" + url.PathEscape(runID),
	}
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 on failure.
// Bodies not declared as application/json get 415, so a cross-site form or
// text/plain post cannot drive the API without a CORS preflight.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps application and port errors onto HTTP status codes.
func statusFor(err error) int {
	var docErr *documentError
	switch {
	case errors.As(err, &docErr):
		if errors.Is(err, driven.ErrTransient) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	case errors.Is(err, application.ErrInvalidName),
		errors.Is(err, application.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrInvalidPin),
		errors.Is(err, application.ErrAuthentication),
		errors.Is(err, application.ErrMissingCredentials):
		return http.StatusForbidden
	case errors.Is(err, application.ErrSecretNotFound),
		errors.Is(err, driven.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, application.ErrRemoteJob),
		errors.Is(err, application.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, application.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError logs err and writes the mapped status. Internal errors get a
// generic message; everything else reports err.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "request_id", RequestID(r.Context()), "status", status, "error", err)
	} else {
		h.logger.Debug(op+" rejected", "request_id", RequestID(r.Context()), "status", status, "error", err)
	}

	if errors.Is(err, application.ErrFlush) {
		writeError(w, status, "change applied but the vault could not be saved")
		return
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
