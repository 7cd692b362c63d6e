package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veloria-ai/veloria/internal/provider"
)

// Summarizer compresses a window of conversation turns into a short digest.
// Implementations absorb provider failures: a summarization failure must never
// abort a turn, so Summarize always returns usable text.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) string
}

// SummaryFallback replaces the summary when the provider call fails.
// Note this discards the previous summary; the original system behaved the
// same way and downstream consumers rely on the wholesale-replace contract.
const SummaryFallback = "Could not generate a new summary."

// DefaultSummaryPrompt is the digest instruction template. The %s verb
// receives the formatted transcript.
const DefaultSummaryPrompt = `Concisely summarize the key points, user interests, and emotional tone of the following conversation.
This summary will be used to provide context for a future conversation.
Do not include any personally identifiable information.
Focus on what was discussed (e.g., "user is interested in travel, mentioned liking dogs") and the overall vibe (e.g., "playful, getting to know each other").

Conversation to summarize:
%s`

// summaryTemperature favors determinism and conciseness over creativity.
const summaryTemperature = 0.5

// LLMSummarizer calls an LLM to generate conversation digests.
type LLMSummarizer struct {
	Provider provider.Provider
	Model    string // optional: use a cheaper model. Empty = provider default.
	Prompt   string // instruction template; empty = DefaultSummaryPrompt
	Logger   *slog.Logger
}

// Summarize formats the turns as "role: text" lines, embeds them into the
// digest template, and sends a single-message, low-temperature request.
// On any failure it logs for operators and returns SummaryFallback.
func (s *LLMSummarizer) Summarize(ctx context.Context, turns []Turn) string {
	tmpl := s.Prompt
	if tmpl == "" {
		tmpl = DefaultSummaryPrompt
	}

	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = fmt.Sprintf("%s: %s", t.Role, t.Text)
	}
	prompt := fmt.Sprintf(tmpl, strings.Join(lines, "\n"))

	req := &provider.ChatRequest{
		Model:       s.Model,
		Messages:    []provider.Message{{Role: provider.RoleUser, Text: prompt}},
		Temperature: summaryTemperature,
	}

	summary, err := s.Provider.Complete(ctx, req)
	if err != nil {
		s.logger().Warn("summary generation failed", "provider", s.Provider.Name(), "error", err)
		return SummaryFallback
	}
	return summary
}

func (s *LLMSummarizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
