package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{
			name:  "bare object",
			input: `{"job_type":"leak"}`,
			want:  `{"job_type":"leak"}`,
			found: true,
		},
		{
			name:  "empty object",
			input: `{}`,
			want:  `{}`,
			found: true,
		},
		{
			name:  "prose and markdown fence around object",
			input: "Sure, here is the extraction:\n```json\n{\"a\": {\"b\": 2}}\n```\nLet me know if you need anything else.",
			want:  `{"a": {"b": 2}}`,
			found: true,
		},
		{
			name:  "braces inside string literal",
			input: `{"address_text": "unit {4} on Main St"}`,
			want:  `{"address_text": "unit {4} on Main St"}`,
			found: true,
		},
		{
			name:  "escaped quote inside string",
			input: `{"note": "she said \"it's flooding\" twice}"}`,
			want:  `{"note": "she said \"it's flooding\" twice}"}`,
			found: true,
		},
		{
			name:  "stray closing brace before object",
			input: `} oops {"ok": true}`,
			want:  `{"ok": true}`,
			found: true,
		},
		{
			name:  "two objects returns the first",
			input: `{"first": 1} {"second": 2}`,
			want:  `{"first": 1}`,
			found: true,
		},
		{
			name:  "no object at all",
			input: "I could not read that message.",
			found: false,
		},
		{
			name:  "unterminated object",
			input: `{"job_type": "leak"`,
			found: false,
		},
		{
			name:  "empty input",
			input: "",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FirstJSONObject(tt.input)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
