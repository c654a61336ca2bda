// internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", ` {"a":1} `, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no tag", "```\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
		{"prose", `Sure, here you go: {"a":1}. Done.`, `{"a":1}`},
		{"no object", `nothing here`, `nothing here`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractObject(tt.in))
		})
	}
}

func TestParseObject(t *testing.T) {
	got, err := ParseObject[map[string]any]("```json\n{\"selector\":\"#go\",\"by\":\"css\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "#go", (*got)["selector"])

	_, err = ParseObject[map[string]any](`{"selector":`)
	assert.ErrorContains(t, err, "failed to decode model JSON")
}
