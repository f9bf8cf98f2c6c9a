package store

import (
	"strings"

	"github.com/google/uuid"

	"chatd/pkg/types"
)

// DefaultTitle is the placeholder until the first user message names the
// conversation.
const DefaultTitle = "New Chat"

// titleWords caps how many leading words of the first user message become the
// derived title.
const titleWords = 6

// SuggestTitle derives a conversation title from user text: the first few
// whitespace-delimited words. Empty or whitespace-only text keeps the
// placeholder.
func SuggestTitle(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	return strings.Join(words, " ")
}

// OutdatedAfter returns the ids of every message strictly after id in the
// ordered snapshot. Empty when id is the last message or absent. Pure, so the
// invalidation rule is testable without a live store; the store applies the
// result inside its own transaction.
func OutdatedAfter(msgs []types.Message, id uuid.UUID) []uuid.UUID {
	idx := -1
	for i, m := range msgs {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var out []uuid.UUID
	for _, m := range msgs[idx+1:] {
		out = append(out, m.ID)
	}
	return out
}
