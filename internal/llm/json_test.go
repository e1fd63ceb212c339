package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `  {"a": 1}  `, `{"a": 1}`},
		{"trailing fence only", "{\"a\": 1}\n```", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "fenced block inside prose",
			input: "Here is the result:\n```json\n{\"target_table\": \"x\"}\n```\nDone.",
			want:  `{"target_table": "x"}`,
		},
		{
			name:  "bare object inside prose",
			input: `The answer is {"a": {"b": 2}} as requested.`,
			want:  `{"a": {"b": 2}}`,
		},
		{
			name:    "no object",
			input:   "I cannot help with that.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromptHash(t *testing.T) {
	assert.Equal(t, PromptHash("a"), PromptHash("a"))
	assert.NotEqual(t, PromptHash("a"), PromptHash("b"))
}
