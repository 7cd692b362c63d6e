// Package session manages the per-user conversation lifecycle: rolling
// history, periodic summarization, quota enforcement, and turn-by-turn
// persistence.
package session

import "github.com/veloria-ai/veloria/internal/provider"

// NoSummary is the sentinel summary for a conversation that has never been
// compacted.
const NoSummary = "No summary yet."

// Turn is one exchange unit in the conversation history.
type Turn struct {
	Role provider.Role `json:"role"`
	Text string        `json:"text"`
}

// ConversationState holds everything remembered about one user's conversation.
// History is append-only: entries are never reordered or removed from the
// durable record; context windows are views, not truncations.
type ConversationState struct {
	Summary string `json:"summary"`
	History []Turn `json:"history"`

	// SessionTurns counts turns since the last summarization and is reset to
	// zero whenever the summary is rebuilt.
	SessionTurns int `json:"session_turns"`
}

// NewConversationState returns a fresh state with the no-summary sentinel.
func NewConversationState() *ConversationState {
	return &ConversationState{Summary: NoSummary}
}

// Append adds one turn to the end of the history.
func (c *ConversationState) Append(t Turn) {
	c.History = append(c.History, t)
}

// RecentWindow returns the last n turns in original order, or the whole
// history when it is shorter. The returned slice is a copy; mutating it never
// touches the stored history.
func (c *ConversationState) RecentWindow(n int) []Turn {
	if n <= 0 {
		return nil
	}
	start := len(c.History) - n
	if start < 0 {
		start = 0
	}
	window := make([]Turn, len(c.History)-start)
	copy(window, c.History[start:])
	return window
}
