package llm

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/hashing"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// StripCodeFences removes a leading ```json (or bare ```) fence and a
// trailing ``` fence from a model answer.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the JSON object embedded in text. A fenced block
// wins; otherwise the span from the first '{' to the last '}' is used.
func ExtractJSONObject(text string) (string, error) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") {
			return body, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// PromptHash fingerprints a rendered prompt for run metadata.
func PromptHash(prompt string) string {
	return hashing.String(prompt)
}
