package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConsecutive(t *testing.T) {
	in := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b", Image: "data:image/png;base64,AA=="},
		{Role: RoleAssistant, Content: "c"},
		{Role: RoleAssistant, Content: "d"},
		{Role: RoleUser, Content: "e"},
	}
	out := MergeConsecutive(in)
	require.Len(t, out, 3)
	assert.Equal(t, "a\nb", out[0].Content)
	assert.Equal(t, "data:image/png;base64,AA==", out[0].Image)
	assert.Equal(t, "c\nd", out[1].Content)
	assert.Equal(t, "e", out[2].Content)
	assert.Equal(t, "a", in[0].Content, "input must not be mutated")
}

func TestShapeInline(t *testing.T) {
	req := ChatRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "open the login page"},
			{Role: RoleAssistant, Content: `{"action":"CLICK","elementId":1}`},
			{Role: RoleUser, Content: "continue"},
		},
		Context: BrowserContext{
			URL:         "https://example.com",
			Title:       "Example",
			PageContent: strings.Repeat("x", 2500),
			Elements:    json.RawMessage(`{"1":{"text":"Login","tag":"button"}}`),
		},
	}

	out := ShapeInline(req, "SYSTEM")
	require.Len(t, out, 3)
	assert.True(t, strings.HasPrefix(out[0].Content, "SYSTEM\n\nUSER GOAL (History):\nopen the login page"))
	assert.NotContains(t, out[0].Content, "[CURRENT BROWSER CONTEXT]")

	last := out[2].Content
	assert.Contains(t, last, "URL: https://example.com")
	assert.Contains(t, last, `{"1":{"text":"Login","tag":"button"}}`)
	assert.True(t, strings.HasSuffix(last, "LATEST COMMAND:\ncontinue"))
	assert.Contains(t, last, strings.Repeat("x", 2000))
	assert.NotContains(t, last, strings.Repeat("x", 2001))

	assert.Equal(t, "continue", req.Messages[2].Content, "request must not be mutated")
}

func TestShapeInline_EmptyHistory(t *testing.T) {
	out := ShapeInline(ChatRequest{}, "SYSTEM")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "No explicit goal provided.")
	assert.Contains(t, out[0].Content, "No context provided")
	assert.Contains(t, out[0].Content, "{}")
}

func TestShapeWithSystem_Gemini(t *testing.T) {
	req := ChatRequest{Messages: []Message{{Role: RoleUser, Content: "who wrote Hamlet?"}}}
	out := ShapeWithSystem(req, true)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "[BROWSER STATE START]")
	assert.Contains(t, out[0].Content, "COMMAND: who wrote Hamlet?")
}

func TestDecodeDataURL(t *testing.T) {
	mime, data, ok := decodeDataURL("data:image/png;base64,aGk=")
	require.True(t, ok)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte("hi"), data)

	_, _, ok = decodeDataURL("https://example.com/a.png")
	assert.False(t, ok)
}
