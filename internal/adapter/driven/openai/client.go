// Package openai implements the AssistantClient port against the OpenAI
// Assistants v2 REST API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AssistantClient = (*Client)(nil)

// messagesPageSize is the largest page the messages endpoint accepts.
const messagesPageSize = 100

// Client implements driven.AssistantClient over plain HTTP. It is safe for
// concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClientWithHTTPClient creates a Client that sends requests for apiKey to
// baseURL (for example "https://api.openai.com/v1") through httpClient.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, apiKey string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parsing base URL: unsupported scheme %q", u.Scheme)
	}

	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(u.String(), "/"),
		apiKey:  apiKey,
	}, nil
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("openai: HTTP %d: %s", e.StatusCode, e.Message)
}

// idResponse is the minimal shape of every create/retrieve response.
type idResponse struct {
	ID string `json:"id"`
}

// UploadDocument uploads doc with purpose "assistants" and returns its file id.
func (c *Client) UploadDocument(ctx context.Context, doc model.Document) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("building upload for %s: %w", doc.Name, err)
	}
	part, err := mw.CreateFormFile("file", doc.Name)
	if err != nil {
		return "", fmt.Errorf("building upload for %s: %w", doc.Name, err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return "", fmt.Errorf("building upload for %s: %w", doc.Name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload for %s: %w", doc.Name, err)
	}

	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &body, &resp); err != nil {
		return "", fmt.Errorf("uploading %s: %w", doc.Name, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("uploading %s: response has no file id", doc.Name)
	}
	return resp.ID, nil
}

// CreateConversation creates an empty thread.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	var resp idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/threads", struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("creating thread: response has no thread id")
	}
	return resp.ID, nil
}

// RetrieveConversation confirms that thread id still exists.
func (c *Client) RetrieveConversation(ctx context.Context, id string) (string, error) {
	var resp idResponse
	err := c.doJSON(ctx, http.MethodGet, "/threads/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("retrieving thread %s: %w: %w", id, driven.ErrConversationNotFound, err)
		}
		return "", fmt.Errorf("retrieving thread %s: %w", id, err)
	}
	return resp.ID, nil
}

type attachmentTool struct {
	Type string `json:"type"`
}

type attachment struct {
	FileID string           `json:"file_id"`
	Tools  []attachmentTool `json:"tools"`
}

type createMessageRequest struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// PostMessage appends a user message to the thread. Each document id is
// attached with the file_search tool.
func (c *Client) PostMessage(ctx context.Context, conversationID, text string, documentIDs []string) error {
	req := createMessageRequest{Role: string(model.RoleUser), Content: text}
	for _, id := range documentIDs {
		req.Attachments = append(req.Attachments, attachment{
			FileID: id,
			Tools:  []attachmentTool{{Type: "file_search"}},
		})
	}

	path := "/threads/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("posting message to thread %s: %w", conversationID, err)
	}
	return nil
}

// StartRun starts the assistant on the thread.
func (c *Client) StartRun(ctx context.Context, conversationID, assistantID string) (string, error) {
	req := map[string]string{"assistant_id": assistantID}

	var resp idResponse
	path := "/threads/" + url.PathEscape(conversationID) + "/runs"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("starting run on thread %s: %w", conversationID, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("starting run on thread %s: response has no run id", conversationID)
	}
	return resp.ID, nil
}

// GetRunStatus retrieves the run and maps its status onto model.RunStatus.
func (c *Client) GetRunStatus(ctx context.Context, conversationID, runID string) (model.RunStatus, error) {
	var resp struct {
		Status string `json:"status"`
	}
	path := "/threads/" + url.PathEscape(conversationID) + "/runs/" + url.PathEscape(runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("retrieving run %s: %w", runID, err)
	}
	return mapRunStatus(resp.Status), nil
}

// mapRunStatus folds the API's run states into the four the orchestrator
// understands. Unknown states pass through unchanged.
func mapRunStatus(status string) model.RunStatus {
	switch status {
	case "queued":
		return model.RunStatusQueued
	case "in_progress", "cancelling":
		return model.RunStatusRunning
	case "completed":
		return model.RunStatusCompleted
	case "failed", "cancelled", "expired", "incomplete", "requires_action":
		return model.RunStatusFailed
	default:
		return model.RunStatus(status)
	}
}

type messageList struct {
	Data    []messageObject `json:"data"`
	HasMore bool            `json:"has_more"`
	LastID  string          `json:"last_id"`
}

type messageObject struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content messageContent `json:"content"`
}

// ListMessages returns the whole thread, oldest first. It follows the
// has_more cursor until the last page.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	base := "/threads/" + url.PathEscape(conversationID) + "/messages"
	query := url.Values{}
	query.Set("order", "asc")
	query.Set("limit", fmt.Sprint(messagesPageSize))

	var all []model.Message
	for page := 1; ; page++ {
		var list messageList
		if err := c.doJSON(ctx, http.MethodGet, base+"?"+query.Encode(), nil, &list); err != nil {
			return nil, fmt.Errorf("listing messages for thread %s (page %d): %w", conversationID, page, err)
		}

		for _, m := range list.Data {
			all = append(all, model.Message{
				ID:      m.ID,
				Role:    model.Role(m.Role),
				Content: m.Content.toModel(),
			})
		}

		if !list.HasMore || list.LastID == "" {
			break
		}
		query.Set("after", list.LastID)
	}

	if all == nil {
		all = []model.Message{}
	}
	return all, nil
}

// messageContent decodes either a bare JSON string or the segment array the
// API normally returns.
type messageContent struct {
	plain    *string
	segments []model.ContentSegment
}

type contentSegment struct {
	Type string          `json:"type"`
	Text json.RawMessage `json:"text"`
}

func (m *messageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		m.plain = &s
		return nil
	}

	var raw []contentSegment
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("decoding message content: %w", err)
	}
	m.segments = make([]model.ContentSegment, 0, len(raw))
	for _, seg := range raw {
		m.segments = append(m.segments, model.ContentSegment{Type: seg.Type, Text: segmentText(seg.Text)})
	}
	return nil
}

// segmentText accepts both {"value": "..."} and a bare string.
func segmentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (m messageContent) toModel() model.MessageContent {
	if m.plain != nil {
		return model.PlainText(*m.plain)
	}
	return model.Segments(m.segments...)
}

// doJSON sends in (when non-nil) as a JSON body and decodes the response into
// out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

// do performs one API call. Network failures, 429 and 5xx responses wrap
// driven.ErrTransient; other non-2xx responses are returned as *StatusError.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, driven.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			slog.Debug("openai: transient response", "method", method, "path", path, "status", resp.StatusCode)
			return fmt.Errorf("%s %s: %w: %w", method, path, driven.ErrTransient, se)
		}
		return fmt.Errorf("%s %s: %w", method, path, se)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts error.message from an API error body, if present.
func errorMessage(r io.Reader) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(b) == 0 {
		return ""
	}
	if json.Unmarshal(b, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(b))
}
