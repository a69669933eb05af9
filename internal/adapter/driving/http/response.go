package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// SecretListResponse lists saved secret names in registration order.
type SecretListResponse struct {
	Names  []string `json:"names"`
	Active string   `json:"active,omitempty"`
}

// RegisterSecretRequest saves a new API key under a PIN.
type RegisterSecretRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
	Pin    string `json:"pin"`
}

// UnlockRequest carries the PIN of the secret to activate.
type UnlockRequest struct {
	Pin string `json:"pin"`
}

// SessionResponse reports the active secret.
type SessionResponse struct {
	Active string `json:"active"`
}

// SettingsBody is both the request and response of the settings endpoints.
type SettingsBody struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	AssistantID        string `json:"assistant_id"`
}

func toSettingsBody(s model.VaultSettings) SettingsBody {
	return SettingsBody{DefaultDownloadDir: s.DefaultDownloadDir, AssistantID: s.AssistantID}
}

// Job kinds accepted by the jobs endpoint.
const (
	JobKindSingle = "single"
	JobKindBatch  = "batch"
	JobKindChat   = "chat"
)

// DocumentRef names a document to analyze: either a catalog locator to fetch
// or inline data.
type DocumentRef struct {
	Category string `json:"category,omitempty"`
	Name     string `json:"name,omitempty"`
	Locator  string `json:"locator,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// JobRequest is the body of POST /api/v1/jobs.
type JobRequest struct {
	Kind              string        `json:"kind"`
	Documents         []DocumentRef `json:"documents,omitempty"`
	Message           string        `json:"message,omitempty"`
	ContinuationToken string        `json:"continuation_token,omitempty"`
}

// ReplyResponse is a completed job.
type ReplyResponse struct {
	Text              string `json:"text"`
	Formatted         string `json:"formatted"`
	HTML              string `json:"html,omitempty"`
	ContinuationToken string `json:"continuation_token"`
}

// PendingResponse is returned with 202 when the wait timed out; the run keeps
// going and can be polled with the ids.
type PendingResponse struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	PollURL        string `json:"poll_url"`
}
