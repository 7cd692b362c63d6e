package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloria-ai/veloria/internal/provider"
)

// Responder generates the persona's reply to a new user message.
// Like Summarizer, implementations absorb provider failures: a single
// generation failure must not crash the session or block further turns.
type Responder interface {
	Reply(ctx context.Context, summary string, history []Turn, input string) string
}

// ReplyFallback is the in-character apology returned when generation fails.
const ReplyFallback = "I'm sorry, I'm having a little trouble thinking right now. Ask me something else?"

// replyTemperature favors engaging variety over determinism.
const replyTemperature = 0.7

// LLMResponder builds the persona prompt and calls the LLM.
type LLMResponder struct {
	Provider provider.Provider
	Persona  string // static persona instruction text
	Model    string // empty = provider default
	Logger   *slog.Logger
}

// Reply combines the persona, the current summary, the recent history window,
// and the new input into one chat request. It only computes a string; the
// caller appends the result to history.
func (r *LLMResponder) Reply(ctx context.Context, summary string, history []Turn, input string) string {
	system := fmt.Sprintf("%s\n\nPREVIOUS CONVERSATION SUMMARY:\n%s", r.Persona, summary)

	msgs := make([]provider.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, provider.Message{Role: t.Role, Text: t.Text})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Text: input})

	req := &provider.ChatRequest{
		Model:        r.Model,
		Messages:     msgs,
		SystemPrompt: system,
		Temperature:  replyTemperature,
	}

	reply, err := r.Provider.Complete(ctx, req)
	if err != nil {
		r.logger().Warn("reply generation failed", "provider", r.Provider.Name(), "error", err)
		return ReplyFallback
	}
	return reply
}

func (r *LLMResponder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
