package orchestrator

import (
	"fmt"
	"strings"
)

// DefaultFallbackMessage is spoken when every dispatched agent failed.
const DefaultFallbackMessage = "Sorry, I couldn't complete that request right now."

// Aggregator merges multi-agent responses into a single reply.
type Aggregator struct {
	fallbackMessage string
}

// NewAggregator creates an aggregator. An empty fallback message uses
// the default.
func NewAggregator(fallbackMessage string) *Aggregator {
	if fallbackMessage == "" {
		fallbackMessage = DefaultFallbackMessage
	}
	return &Aggregator{fallbackMessage: fallbackMessage}
}

// Aggregate renders the dispatch responses as one reply, preserving
// declaration order. Successful contents are joined as sentences;
// failures are summarized after them. When nothing succeeded the
// configured fallback message is returned.
func (a *Aggregator) Aggregate(responses []AgentResponse) string {
	var parts []string
	var failed []AgentResponse

	for _, resp := range responses {
		if resp.Success {
			if text := strings.TrimSpace(resp.Content); text != "" {
				parts = append(parts, ensureTerminated(text))
			}
			continue
		}
		failed = append(failed, resp)
	}

	if len(parts) == 0 {
		return a.fallbackMessage
	}

	out := strings.Join(parts, " ")
	if len(failed) > 0 {
		out += " " + ensureTerminated(failureNote(failed))
	}
	return strings.TrimSuffix(out, " ")
}

// failureNote explains each failed response using its error field,
// e.g. "(music-agent failed: connection refused)".
func failureNote(failed []AgentResponse) string {
	parts := make([]string, 0, len(failed))
	for _, resp := range failed {
		if resp.Error == "" {
			parts = append(parts, resp.AgentID+" did not respond")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed: %s", resp.AgentID, resp.Error))
	}
	return "(" + strings.Join(parts, "; ") + ")"
}

// ensureTerminated appends a period unless the text already ends with
// sentence punctuation, so joined replies read naturally.
func ensureTerminated(text string) string {
	switch text[len(text)-1] {
	case '.', '!', '?', ':', ')':
		return text
	default:
		return text + "."
	}
}
