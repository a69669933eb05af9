package model

// JobRequest is one of SingleDocumentAnalysis, BatchAnalysis or
// ConversationTurn.
type JobRequest interface {
	jobRequest()
}

// SingleDocumentAnalysis analyzes one document on a fresh conversation.
type SingleDocumentAnalysis struct {
	Document Document
}

// BatchAnalysis compares several documents on a fresh conversation. Upload
// order follows Documents.
type BatchAnalysis struct {
	Documents []Document
}

// ConversationTurn sends a plain message. An empty ContinuationToken starts a
// new conversation; otherwise the turn continues the identified one.
type ConversationTurn struct {
	Message           string
	ContinuationToken string
}

func (SingleDocumentAnalysis) jobRequest() {}
func (BatchAnalysis) jobRequest()          {}
func (ConversationTurn) jobRequest()       {}

// Reply is the outcome of a completed job. Formatted is Text with its
// embedded tables aligned; ContinuationToken lets a follow-up turn reuse the
// conversation.
type Reply struct {
	Text              string
	Formatted         string
	ContinuationToken string
}
