package proxy

import (
	"github.com/tidwall/gjson"
)

// usagePaths are the JSON fields that carry a cumulative output-token count,
// tried in order.
var usagePaths = []string{
	// Anthropic messages and message_delta events.
	"usage.output_tokens",
	// Anthropic message_start event.
	"message.usage.output_tokens",
	// OpenAI responses API, response.completed event.
	"response.usage.output_tokens",
	// OpenAI chat completions.
	"usage.completion_tokens",
	// Gemini generateContent.
	"usageMetadata.candidatesTokenCount",
}

// outputTokens extracts the output-token count from one JSON document.
// A top-level array (Gemini's non-SSE stream) yields the largest count found
// in its elements.
func outputTokens(doc []byte) (uint64, bool) {
	if !gjson.ValidBytes(doc) {
		return 0, false
	}
	root := gjson.ParseBytes(doc)
	if root.IsArray() {
		var best uint64
		var found bool
		root.ForEach(func(_, v gjson.Result) bool {
			if n, ok := fromResult(v); ok {
				found = true
				best = max(best, n)
			}
			return true
		})
		return best, found
	}
	return fromResult(root)
}

func fromResult(v gjson.Result) (uint64, bool) {
	for _, p := range usagePaths {
		if r := v.Get(p); r.Exists() {
			return r.Uint(), true
		}
	}
	return 0, false
}
