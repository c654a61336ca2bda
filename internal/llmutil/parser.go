// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedObjectRegex pulls a JSON object out of a markdown code fence.
// \x60 is a backtick; raw strings cannot hold one.
var fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

// ExtractObject returns the JSON object embedded in a model reply. Replies
// are sometimes wrapped in a code fence or surrounded by prose.
func ExtractObject(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "{") {
		return response
	}
	if strings.HasPrefix(response, "```") {
		if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
	}
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last > first {
		return response[first : last+1]
	}
	return response
}

// ParseObject decodes the JSON object in a model reply into T.
func ParseObject[T any](response string) (*T, error) {
	raw := ExtractObject(response)
	var result T
	if err := json.UnmarshalFromString(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode model JSON (%d bytes): %w", len(raw), err)
	}
	return &result, nil
}
