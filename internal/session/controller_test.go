package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/veloria-ai/veloria/internal/provider"
	"github.com/veloria-ai/veloria/internal/quota"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedStore builds a MemoryStore holding one user and optional state.
func seedStore(t *testing.T, u quota.User, conv *ConversationState) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveUser(ctx, &u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if conv != nil {
		if err := store.SaveTurn(ctx, &u, conv); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}
	return store
}

func startController(t *testing.T, store Store, r Responder, s Summarizer, userID string) *Controller {
	t.Helper()
	c := NewController(store, r, s, DefaultWindows(), "", quietLogger())
	if err := c.Start(context.Background(), userID); err != nil {
		t.Fatalf("Start(%s): %v", userID, err)
	}
	return c
}

func TestStartUnknownUser(t *testing.T) {
	store := NewMemoryStore()
	c := NewController(store, &scriptResponder{}, &scriptSummarizer{}, DefaultWindows(), "", quietLogger())

	err := c.Start(context.Background(), "nobody")
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("Start unknown user err = %v, want ErrUnknownUser", err)
	}

	// Rejection happens before any state is touched.
	users, _ := store.ListUsers(context.Background())
	if len(users) != 0 {
		t.Errorf("store gained %d users from a rejected session", len(users))
	}
}

func TestStartRejectsBadWindows(t *testing.T) {
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree}, nil)
	c := NewController(store, &scriptResponder{}, &scriptSummarizer{}, Windows{}, "", quietLogger())
	if err := c.Start(context.Background(), "u1"); err == nil {
		t.Fatal("expected error for zero window sizes")
	}
}

func TestTurnAdvancesState(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree, MessageCount: 0}, nil)
	r := &scriptResponder{reply: "hello back"}
	c := startController(t, store, r, &scriptSummarizer{out: "digest"}, "u1")

	res, err := c.Turn(ctx, "hello")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Kind != TurnReply || res.Reply != "hello back" {
		t.Fatalf("result = %+v", res)
	}

	// History grows by exactly two turns, user first.
	conv := c.State()
	if len(conv.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(conv.History))
	}
	if conv.History[0].Role != provider.RoleUser || conv.History[0].Text != "hello" {
		t.Errorf("first turn = %+v, want the user input", conv.History[0])
	}
	if conv.History[1].Role != provider.RoleAssistant || conv.History[1].Text != "hello back" {
		t.Errorf("second turn = %+v, want the reply", conv.History[1])
	}
	if c.User().MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", c.User().MessageCount)
	}
	if conv.SessionTurns != 1 {
		t.Errorf("SessionTurns = %d, want 1", conv.SessionTurns)
	}

	// The turn is durable before the next input.
	saved, err := store.User(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if saved.MessageCount != 1 {
		t.Errorf("persisted MessageCount = %d, want 1", saved.MessageCount)
	}
	savedConv, _ := store.Conversation(ctx, "u1")
	if len(savedConv.History) != 2 {
		t.Errorf("persisted history len = %d, want 2", len(savedConv.History))
	}
}

func TestReplySeesHistoryBeforeThisTurn(t *testing.T) {
	ctx := context.Background()
	conv := &ConversationState{Summary: "old summary", History: []Turn{
		{Role: provider.RoleUser, Text: "earlier"},
		{Role: provider.RoleAssistant, Text: "indeed"},
	}}
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierVIP}, conv)
	r := &scriptResponder{reply: "ok"}
	c := startController(t, store, r, &scriptSummarizer{}, "u1")

	if _, err := c.Turn(ctx, "new message"); err != nil {
		t.Fatal(err)
	}

	if r.lastSummary != "old summary" {
		t.Errorf("responder summary = %q", r.lastSummary)
	}
	if len(r.lastHistory) != 2 {
		t.Errorf("responder saw %d history turns, want 2 (pre-turn window)", len(r.lastHistory))
	}
	if r.lastInput != "new message" {
		t.Errorf("responder input = %q", r.lastInput)
	}
}

func TestQuotaBoundary(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree, MessageCount: 9}, nil)
	c := startController(t, store, &scriptResponder{reply: "ok"}, &scriptSummarizer{}, "u1")

	// Count 9, limit 10: one more turn goes through.
	res, err := c.Turn(ctx, "last one")
	if err != nil || res.Kind != TurnReply {
		t.Fatalf("turn at count 9: res=%+v err=%v", res, err)
	}
	if c.User().MessageCount != 10 {
		t.Fatalf("MessageCount = %d, want 10", c.User().MessageCount)
	}

	// Next turn is denied before the input is consumed; session ends.
	res, err = c.Turn(ctx, "one too many")
	if err != nil {
		t.Fatalf("denied turn err = %v", err)
	}
	if res.Kind != TurnDenied || res.Limit != 10 {
		t.Fatalf("result = %+v, want Denied(10)", res)
	}
	if len(c.State().History) != 2 {
		t.Errorf("denied turn consumed input: history len = %d", len(c.State().History))
	}
	if !c.Ended() {
		t.Error("session should have ended on denial")
	}
	if _, err := c.Turn(ctx, "still there?"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("turn after end err = %v, want ErrSessionEnded", err)
	}
}

func TestVIPNeverDenied(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, quota.User{ID: "vip", Tier: quota.TierVIP, MessageCount: 12345}, nil)
	c := startController(t, store, &scriptResponder{reply: "of course"}, &scriptSummarizer{}, "vip")

	res, err := c.Turn(ctx, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != TurnReply {
		t.Fatalf("VIP turn = %+v, want a reply", res)
	}
}

func TestEndSignal(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree}, nil)
	r := &scriptResponder{reply: "bye"}
	c := startController(t, store, r, &scriptSummarizer{}, "u1")

	res, err := c.Turn(ctx, "quit")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != TurnEnded {
		t.Fatalf("result = %+v, want Ended", res)
	}
	if r.calls != 0 {
		t.Error("end signal must not reach the responder")
	}
	if len(c.State().History) != 0 || c.User().MessageCount != 0 {
		t.Error("end signal must not mutate state")
	}
	if !c.Ended() {
		t.Error("session should be ended")
	}
}

func TestCustomEndSignal(t *testing.T) {
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree}, nil)
	c := NewController(store, &scriptResponder{reply: "ok"}, &scriptSummarizer{}, DefaultWindows(), "/bye", quietLogger())
	if err := c.Start(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	// The default signal is just input now.
	res, err := c.Turn(context.Background(), "quit")
	if err != nil || res.Kind != TurnReply {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	res, err = c.Turn(context.Background(), "/bye")
	if err != nil || res.Kind != TurnEnded {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestSummarizationTrigger(t *testing.T) {
	ctx := context.Background()
	conv := &ConversationState{Summary: NoSummary, SessionTurns: 9}
	for i := 0; i < 30; i++ {
		conv.Append(Turn{Role: provider.RoleUser, Text: fmt.Sprintf("old %d", i)})
	}
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierVIP}, conv)
	sum := &scriptSummarizer{out: "fresh digest"}
	c := startController(t, store, &scriptResponder{reply: "reply"}, sum, "u1")

	res, err := c.Turn(ctx, "tenth message")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != TurnReply {
		t.Fatalf("result = %+v", res)
	}

	if sum.calls != 1 {
		t.Fatalf("summarizer calls = %d, want exactly 1", sum.calls)
	}
	// Input window is the last 20 turns as of the trigger, including this
	// turn's freshly appended pair.
	if len(sum.lastTurns) != 20 {
		t.Fatalf("summarizer window = %d turns, want 20", len(sum.lastTurns))
	}
	if sum.lastTurns[19].Text != "reply" || sum.lastTurns[18].Text != "tenth message" {
		t.Error("summarizer window should end with this turn's pair")
	}

	if c.State().Summary != "fresh digest" {
		t.Errorf("Summary = %q, want wholesale replacement", c.State().Summary)
	}
	if c.State().SessionTurns != 0 {
		t.Errorf("SessionTurns = %d, want reset to 0", c.State().SessionTurns)
	}

	// Replacement and reset are durable.
	saved, _ := store.Conversation(ctx, "u1")
	if saved.Summary != "fresh digest" || saved.SessionTurns != 0 {
		t.Errorf("persisted summary/turns = %q/%d", saved.Summary, saved.SessionTurns)
	}
}

func TestSummarizationShortHistory(t *testing.T) {
	ctx := context.Background()
	conv := &ConversationState{Summary: NoSummary, SessionTurns: 9, History: []Turn{
		{Role: provider.RoleUser, Text: "only"},
		{Role: provider.RoleAssistant, Text: "four"},
	}}
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierVIP}, conv)
	sum := &scriptSummarizer{out: "short digest"}
	c := startController(t, store, &scriptResponder{reply: "r"}, sum, "u1")

	if _, err := c.Turn(ctx, "m"); err != nil {
		t.Fatal(err)
	}
	if len(sum.lastTurns) != 4 {
		t.Errorf("summarizer window = %d turns, want all 4 available", len(sum.lastTurns))
	}
}

func TestNoSummarizationBeforeTrigger(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierVIP}, nil)
	sum := &scriptSummarizer{out: "digest"}
	c := startController(t, store, &scriptResponder{reply: "r"}, sum, "u1")

	for i := 0; i < 9; i++ {
		if _, err := c.Turn(ctx, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer fired after %d calls with SessionTurns 9", sum.calls)
	}
	if _, err := c.Turn(ctx, "msg 9"); err != nil {
		t.Fatal(err)
	}
	if sum.calls != 1 {
		t.Fatalf("summarizer calls = %d after tenth turn, want 1", sum.calls)
	}
}

func TestGenerationFailureStillCommits(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree}, nil)
	failing := &LLMResponder{
		Provider: &stubProvider{err: errors.New("provider error")},
		Persona:  "persona",
		Logger:   quietLogger(),
	}
	c := startController(t, store, failing, &scriptSummarizer{}, "u1")

	res, err := c.Turn(ctx, "hello?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reply != ReplyFallback {
		t.Errorf("Reply = %q, want fallback", res.Reply)
	}

	// Fallback reply still lands in history and the count still advances.
	if len(c.State().History) != 2 {
		t.Errorf("history len = %d, want 2", len(c.State().History))
	}
	if c.State().History[1].Text != ReplyFallback {
		t.Errorf("assistant turn = %q, want fallback", c.State().History[1].Text)
	}
	saved, _ := store.User(ctx, "u1")
	if saved.MessageCount != 1 {
		t.Errorf("persisted MessageCount = %d, want 1", saved.MessageCount)
	}
}

func TestSummaryFailureReplacesSummary(t *testing.T) {
	ctx := context.Background()
	conv := &ConversationState{Summary: "previous digest", SessionTurns: 9}
	store := seedStore(t, quota.User{ID: "u1", Tier: quota.TierVIP}, conv)
	failing := &LLMSummarizer{
		Provider: &stubProvider{err: errors.New("provider error")},
		Logger:   quietLogger(),
	}
	c := startController(t, store, &scriptResponder{reply: "r"}, failing, "u1")

	res, err := c.Turn(ctx, "hello")
	if err != nil {
		t.Fatalf("summary failure aborted the turn: %v", err)
	}
	if res.Kind != TurnReply {
		t.Fatalf("result = %+v", res)
	}
	// Replaces rather than preserves the old digest.
	if c.State().Summary != SummaryFallback {
		t.Errorf("Summary = %q, want %q", c.State().Summary, SummaryFallback)
	}
	if c.State().SessionTurns != 0 {
		t.Errorf("SessionTurns = %d, want 0", c.State().SessionTurns)
	}
}

// failingStore wraps MemoryStore and fails every SaveTurn.
type failingStore struct {
	*MemoryStore
}

func (f *failingStore) SaveTurn(ctx context.Context, u *quota.User, conv *ConversationState) error {
	return errors.New("disk full")
}

func TestPersistenceFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{seedStore(t, quota.User{ID: "u1", Tier: quota.TierFree}, nil)}
	c := startController(t, store, &scriptResponder{reply: "ok"}, &scriptSummarizer{}, "u1")

	_, err := c.Turn(ctx, "hello")
	if err == nil {
		t.Fatal("expected hard error from persistence failure")
	}
	if !c.Ended() {
		t.Error("session must not continue after a failed commit")
	}
	// Nothing was durably committed.
	saved, _ := store.MemoryStore.User(ctx, "u1")
	if saved.MessageCount != 0 {
		t.Errorf("persisted MessageCount = %d, want 0", saved.MessageCount)
	}
}
