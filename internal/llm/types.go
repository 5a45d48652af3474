package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ActionKind string

const (
	ActionClick     ActionKind = "CLICK"
	ActionScroll    ActionKind = "SCROLL"
	ActionTypeInput ActionKind = "TYPE"
	ActionNavigate  ActionKind = "NAVIGATE"
	ActionTranslate ActionKind = "TRANSLATE"
	ActionAnswer    ActionKind = "ANSWER"
)

// Scroll directions.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// Action is one model decision, tagged on Kind. Only the fields of the
// kind's variant are meaningful.
type Action struct {
	Kind      ActionKind `json:"action"`
	ElementID int        `json:"elementId,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Text      string     `json:"text,omitempty"`
	URL       string     `json:"url,omitempty"`
	Language  string     `json:"language,omitempty"`
}

// Answer builds a terminal ANSWER action.
func Answer(text string) Action {
	return Action{Kind: ActionAnswer, Text: text}
}

// Known reports whether Kind is one of the closed action set.
func (a Action) Known() bool {
	switch a.Kind {
	case ActionClick, ActionScroll, ActionTypeInput, ActionNavigate, ActionTranslate, ActionAnswer:
		return true
	}
	return false
}

// Terminal reports whether the action ends the agent loop: ANSWER, or
// anything outside the known set.
func (a Action) Terminal() bool {
	return a.Kind == ActionAnswer || !a.Known()
}

// Missing names the first required field the variant lacks, or "" when
// the action is complete. SCROLL has no required field (DOWN by default).
func (a Action) Missing() string {
	switch a.Kind {
	case ActionClick:
		if a.ElementID <= 0 {
			return "elementId"
		}
	case ActionTypeInput:
		if a.ElementID <= 0 {
			return "elementId"
		}
		if a.Text == "" {
			return "text"
		}
	case ActionNavigate:
		if a.URL == "" {
			return "url"
		}
	case ActionTranslate:
		if a.Language == "" {
			return "language"
		}
	}
	return ""
}

// ScrollDirection returns UP or DOWN.
func (a Action) ScrollDirection() string {
	if strings.EqualFold(strings.TrimSpace(a.Direction), DirectionUp) {
		return DirectionUp
	}
	return DirectionDown
}

// String is the compact JSON form used as the assistant turn.
func (a Action) String() string {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf(`{"action":%q}`, a.Kind)
	}
	return string(b)
}

// UnmarshalJSON accepts the loose shapes models produce: any casing of the
// tag, numeric strings or floats for elementId, and a nested "action"
// object carrying a "type" field.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if nested, ok := raw["action"]; ok && bytes.HasPrefix(bytes.TrimSpace(nested), []byte("{")) {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			if t, ok := inner["type"]; ok {
				inner["action"] = t
			}
			raw = inner
		}
	}

	*a = Action{
		Kind:      ActionKind(strings.ToUpper(strings.TrimSpace(looseString(raw["action"])))),
		ElementID: looseInt(firstOf(raw, "elementId", "element_id", "target_id")),
		Direction: strings.ToUpper(strings.TrimSpace(looseString(raw["direction"]))),
		Text:      looseString(raw["text"]),
		URL:       strings.TrimSpace(looseString(raw["url"])),
		Language:  strings.TrimSpace(looseString(raw["language"])),
	}
	return nil
}

func firstOf(raw map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v
		}
	}
	return nil
}

func looseString(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func looseInt(v json.RawMessage) int {
	s := strings.TrimSpace(looseString(v))
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f)
	}
	return 0
}
