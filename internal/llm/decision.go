package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("model returned empty content")
	ErrMalformed     = errors.New("model returned malformed action")
)

// Fallback texts returned to the extension instead of an error.
const (
	FallbackConfused = "I'm having trouble understanding right now. Please try again or provide more details."
	FallbackGeneric  = "Page Pilot may be incorrect. Please verify important information."
)

var (
	fencePattern  = regexp.MustCompile("(?i)```(?:json)?")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseAction turns raw model output into an Action. Code fences are
// stripped and, when the text does not start with an object, the first
// brace-delimited block is used.
func ParseAction(content string) (Action, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Action{}, ErrEmptyResponse
	}

	content = strings.TrimSpace(fencePattern.ReplaceAllString(content, ""))
	if !strings.HasPrefix(content, "{") {
		if m := objectPattern.FindString(content); m != "" {
			content = m
		}
	}

	var a Action
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if a.Kind == "" {
		a.Kind = ActionAnswer
	}
	return a, nil
}

// Decide asks the provider for the next action. The returned action is
// always safe to send to the extension: on a transport error it is the
// generic fallback answer and err is the provider error; on unusable
// output it is a fallback answer and err wraps ErrEmptyResponse or
// ErrMalformed.
func Decide(ctx context.Context, p Provider, req ChatRequest) (Action, error) {
	content, err := p.Complete(ctx, req)
	if err != nil {
		return Answer(FallbackGeneric), fmt.Errorf("%s provider: %w", p.Name(), err)
	}

	action, err := ParseAction(content)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return Answer(FallbackConfused), err
		}
		return Answer(FallbackGeneric), err
	}
	return action, nil
}
