// Package backend holds the HTTP contract between the agent and the proxy
// and the client the agent uses to call it.
package backend

import (
	"encoding/json"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages    []llm.Message   `json:"messages"`
	PageContent string          `json:"page_content"`
	Elements    json.RawMessage `json:"elements,omitempty"`
	URL         string          `json:"url"`
	Title       string          `json:"title"`
	Model       string          `json:"model,omitempty"`
}

// ChatResponse is the body returned by POST /chat, on success and on the
// 500 fallback alike.
type ChatResponse struct {
	Action    llm.ActionKind `json:"action"`
	ElementID int            `json:"elementId,omitempty"`
	Direction string         `json:"direction,omitempty"`
	Text      string         `json:"text,omitempty"`
	URL       string         `json:"url,omitempty"`
	Language  string         `json:"language,omitempty"`
}

func NewChatResponse(a llm.Action) ChatResponse {
	kind := a.Kind
	if kind == "" {
		kind = llm.ActionAnswer
	}
	return ChatResponse{
		Action:    kind,
		ElementID: a.ElementID,
		Direction: a.Direction,
		Text:      a.Text,
		URL:       a.URL,
		Language:  a.Language,
	}
}

// TranslateRequest is the body of POST /translate.
type TranslateRequest struct {
	Texts          []string `json:"texts"`
	TargetLanguage string   `json:"targetLanguage,omitempty"`
}

// TranslateResponse is the body returned by POST /translate.
type TranslateResponse struct {
	TranslatedTexts []string `json:"translated_texts"`
}

// ErrorResponse is the body of 4xx replies.
type ErrorResponse struct {
	Error string `json:"error"`
}
