package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Conversation roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	noGoalMessage    = "No explicit goal provided."
	noContextMessage = "No context provided"
	promptPageLimit  = 2000
)

// Message is one conversation turn as sent by the extension.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Image is an optional data URL attached to the turn.
	Image string `json:"image,omitempty"`
}

// BrowserContext is the page snapshot that accompanies a chat request.
type BrowserContext struct {
	PageContent string
	Elements    json.RawMessage
	URL         string
	Title       string
}

// ChatRequest is what a provider needs to produce the next action.
type ChatRequest struct {
	Messages []Message
	Context  BrowserContext
}

// withGoal copies msgs, guaranteeing at least one user message.
func withGoal(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	if len(out) == 0 {
		out = append(out, Message{Role: RoleUser, Content: noGoalMessage})
	}
	return out
}

func lastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// MergeConsecutive folds runs of same-role messages into one, joined by a
// newline. Some providers reject non-alternating histories.
func MergeConsecutive(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := []Message{msgs[0]}
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if m.Role == last.Role {
			last.Content += "\n" + m.Content
			if last.Image == "" {
				last.Image = m.Image
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

func elementsJSON(raw json.RawMessage) string {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "{}"
	}
	return string(raw)
}

func pageExcerpt(content string) string {
	if content == "" {
		return noContextMessage
	}
	return truncateRunes(content, promptPageLimit)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// contextBlock renders the browser context wrapped around the latest
// command, in the format the inline-prompt providers expect.
func contextBlock(ctx BrowserContext, command string) string {
	return fmt.Sprintf(`[CURRENT BROWSER CONTEXT]
URL: %s
TITLE: %s

WEBPAGE CONTENT:
%s

AVAILABLE INTERACTABLE ELEMENTS (map of unique IDs to elements):
%s
[END CONTEXT]

LATEST COMMAND:
%s`, ctx.URL, ctx.Title, pageExcerpt(ctx.PageContent), elementsJSON(ctx.Elements), command)
}

// stateBlock is the Gemini flavour: it tells the model to ignore the page
// for general-knowledge questions.
func stateBlock(ctx BrowserContext, command string) string {
	return fmt.Sprintf(`[BROWSER STATE START] (IGNORE THIS if the user's COMMAND is a general question or search query. Only use this if they refer to "this page" or need browser automation)
URL: %s
TITLE: %s

CONTENT:
%s

ELEMENTS:
%s
[BROWSER STATE END]

COMMAND: %s

CRITICAL INSTRUCTION: If the COMMAND above is a general knowledge question, ignore the BROWSER STATE completely and answer it directly. Output a JSON ANSWER.`,
		ctx.URL, ctx.Title, pageExcerpt(ctx.PageContent), elementsJSON(ctx.Elements), command)
}

// ShapeInline prepares a history for providers without a system role: the
// system prompt goes into the first user message and the browser context
// into the latest one.
func ShapeInline(req ChatRequest, systemPrompt string) []Message {
	msgs := withGoal(req.Messages)

	if last := lastUserIndex(msgs); last >= 0 {
		msgs[last].Content = contextBlock(req.Context, msgs[last].Content)
	}
	if msgs[0].Role == RoleUser {
		msgs[0].Content = systemPrompt + "\n\nUSER GOAL (History):\n" + msgs[0].Content
	}
	return MergeConsecutive(msgs)
}

// ShapeWithSystem prepares a history for providers that take the system
// prompt separately; only the latest user message carries the context.
func ShapeWithSystem(req ChatRequest, gemini bool) []Message {
	msgs := withGoal(req.Messages)

	if last := lastUserIndex(msgs); last >= 0 {
		if gemini {
			msgs[last].Content = stateBlock(req.Context, msgs[last].Content)
		} else {
			msgs[last].Content = contextBlock(req.Context, msgs[last].Content)
		}
	}
	return MergeConsecutive(msgs)
}
