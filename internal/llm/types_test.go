package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_UnmarshalLooseShapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Action
	}{
		{
			name: "canonical click",
			in:   `{"action":"CLICK","elementId":15}`,
			want: Action{Kind: ActionClick, ElementID: 15},
		},
		{
			name: "lowercase tag and string id",
			in:   `{"action":"click","elementId":"7"}`,
			want: Action{Kind: ActionClick, ElementID: 7},
		},
		{
			name: "snake case id as float",
			in:   `{"action":"type","element_id":3.0,"text":"hello"}`,
			want: Action{Kind: ActionTypeInput, ElementID: 3, Text: "hello"},
		},
		{
			name: "nested action object",
			in:   `{"action":{"type":"navigate","url":" https://example.com "}}`,
			want: Action{Kind: ActionNavigate, URL: "https://example.com"},
		},
		{
			name: "scroll direction normalised",
			in:   `{"action":"SCROLL","direction":"up"}`,
			want: Action{Kind: ActionScroll, Direction: DirectionUp},
		},
		{
			name: "non integral id ignored",
			in:   `{"action":"CLICK","elementId":2.5}`,
			want: Action{Kind: ActionClick},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Action
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAction_Missing(t *testing.T) {
	assert.Equal(t, "elementId", Action{Kind: ActionClick}.Missing())
	assert.Equal(t, "text", Action{Kind: ActionTypeInput, ElementID: 4}.Missing())
	assert.Equal(t, "url", Action{Kind: ActionNavigate}.Missing())
	assert.Equal(t, "language", Action{Kind: ActionTranslate}.Missing())
	assert.Empty(t, Action{Kind: ActionScroll}.Missing())
	assert.Empty(t, Action{Kind: ActionClick, ElementID: 1}.Missing())
}

func TestAction_Terminal(t *testing.T) {
	assert.True(t, Answer("done").Terminal())
	assert.True(t, Action{Kind: "DANCE"}.Terminal())
	assert.False(t, Action{Kind: ActionScroll}.Terminal())
	assert.Equal(t, DirectionDown, Action{Kind: ActionScroll}.ScrollDirection())
}

func TestAction_StringOmitsEmptyFields(t *testing.T) {
	assert.Equal(t, `{"action":"CLICK","elementId":5}`, Action{Kind: ActionClick, ElementID: 5}.String())
}
