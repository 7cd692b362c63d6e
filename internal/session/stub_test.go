package session

import (
	"context"

	"github.com/veloria-ai/veloria/internal/provider"
)

// stubProvider is a canned Provider for tests. It records the last request so
// tests can assert on prompt assembly.
type stubProvider struct {
	reply   string
	err     error
	calls   int
	lastReq *provider.ChatRequest
}

func (s *stubProvider) Complete(ctx context.Context, req *provider.ChatRequest) (string, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) DefaultModel() string { return "stub-model" }

// scriptResponder returns a fixed reply and records what it saw.
type scriptResponder struct {
	reply       string
	calls       int
	lastSummary string
	lastHistory []Turn
	lastInput   string
}

func (r *scriptResponder) Reply(ctx context.Context, summary string, history []Turn, input string) string {
	r.calls++
	r.lastSummary = summary
	r.lastHistory = history
	r.lastInput = input
	return r.reply
}

// scriptSummarizer returns a fixed digest and records its input window.
type scriptSummarizer struct {
	out       string
	calls     int
	lastTurns []Turn
}

func (s *scriptSummarizer) Summarize(ctx context.Context, turns []Turn) string {
	s.calls++
	s.lastTurns = turns
	return s.out
}
