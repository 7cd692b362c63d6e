package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veloria-ai/veloria/internal/provider"
	"github.com/veloria-ai/veloria/internal/quota"
)

// Windows holds the static context-window sizes for a session.
type Windows struct {
	// Generation is how many recent turns accompany each reply request.
	Generation int
	// SummaryTrigger is the turn count at which summarization fires.
	SummaryTrigger int
	// SummaryInput is how many recent turns feed the summarizer.
	SummaryInput int
}

// DefaultWindows returns the standard window sizes.
func DefaultWindows() Windows {
	return Windows{Generation: 12, SummaryTrigger: 10, SummaryInput: 20}
}

// Validate rejects non-positive window sizes.
func (w Windows) Validate() error {
	if w.Generation <= 0 || w.SummaryTrigger <= 0 || w.SummaryInput <= 0 {
		return fmt.Errorf("window sizes must be positive: %+v", w)
	}
	return nil
}

// TurnKind discriminates the outcomes of one turn.
type TurnKind int

const (
	// TurnReply carries the assistant's reply text.
	TurnReply TurnKind = iota
	// TurnDenied means the quota check failed; the session is over.
	TurnDenied
	// TurnEnded means the end-of-session signal was received.
	TurnEnded
)

// TurnResult is the value reported to the caller after each turn.
type TurnResult struct {
	Kind  TurnKind
	Reply string // TurnReply
	Limit int    // TurnDenied: the tier limit that was hit
}

// ErrSessionEnded is returned by Turn once the session reached a terminal state.
var ErrSessionEnded = errors.New("session has ended")

// DefaultEndSignal ends the session when received as input.
const DefaultEndSignal = "quit"

// Controller drives the per-turn protocol for a single user's session:
// quota check, reply generation, history/count updates, conditional
// summarization, and a synchronous persistence commit. One Controller serves
// one user and is not safe for concurrent use; sessions for different users
// are independent.
type Controller struct {
	store      Store
	ledger     quota.Ledger
	responder  Responder
	summarizer Summarizer
	windows    Windows
	endSignal  string
	logger     *slog.Logger

	traceID string
	user    *quota.User
	conv    *ConversationState
	ended   bool
}

// NewController wires a controller. endSignal may be empty to use
// DefaultEndSignal; logger may be nil to use slog.Default.
func NewController(store Store, responder Responder, summarizer Summarizer, windows Windows, endSignal string, logger *slog.Logger) *Controller {
	if endSignal == "" {
		endSignal = DefaultEndSignal
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:      store,
		responder:  responder,
		summarizer: summarizer,
		windows:    windows,
		endSignal:  endSignal,
		logger:     logger,
	}
}

// Start loads the user record and conversation state. The user must already
// exist; an unknown user id is rejected before any state is touched. The
// conversation state is created lazily on first reference.
func (c *Controller) Start(ctx context.Context, userID string) error {
	if err := c.windows.Validate(); err != nil {
		return err
	}

	user, err := c.store.User(ctx, userID)
	if err != nil {
		return err
	}
	conv, err := c.store.Conversation(ctx, userID)
	if err != nil {
		return fmt.Errorf("load conversation for %s: %w", userID, err)
	}

	c.user = user
	c.conv = conv
	c.traceID = uuid.New().String()[:8]
	c.logger.Info("session started",
		"trace", c.traceID, "user", user.ID, "tier", user.Tier, "messages", user.MessageCount)
	return nil
}

// User returns the loaded user record. Valid after Start.
func (c *Controller) User() *quota.User { return c.user }

// State returns the loaded conversation state. Valid after Start.
func (c *Controller) State() *ConversationState { return c.conv }

// Ended reports whether the session reached a terminal state.
func (c *Controller) Ended() bool { return c.ended }

// CheckQuota runs the read-only quota check without consuming a turn.
// Callers may use it speculatively, e.g. before prompting for input.
func (c *Controller) CheckQuota() quota.Decision {
	return c.ledger.Check(c.user)
}

// Turn processes one exchange. The quota check runs before the input is
// consumed: a denied check aborts the turn and ends the session. The end
// signal ends the session without mutating any state. Otherwise the turn
// always completes — generation failures degrade to fallback text — unless
// persistence fails, in which case the turn is not committed and the session
// must not continue.
func (c *Controller) Turn(ctx context.Context, input string) (TurnResult, error) {
	if c.ended {
		return TurnResult{}, ErrSessionEnded
	}

	if d := c.ledger.Check(c.user); !d.Allowed {
		c.ended = true
		c.logger.Info("quota exceeded", "trace", c.traceID, "user", c.user.ID, "limit", d.Limit)
		return TurnResult{Kind: TurnDenied, Limit: d.Limit}, nil
	}

	if input == c.endSignal {
		c.ended = true
		c.logger.Info("session ended", "trace", c.traceID, "user", c.user.ID)
		return TurnResult{Kind: TurnEnded}, nil
	}

	// The reply sees the history as it was before this turn; the new input
	// rides along as the final user message.
	reply := c.responder.Reply(ctx, c.conv.Summary, c.conv.RecentWindow(c.windows.Generation), input)

	// User turn first, then assistant turn. Ordering matters for windowing.
	c.conv.Append(Turn{Role: provider.RoleUser, Text: input})
	c.conv.Append(Turn{Role: provider.RoleAssistant, Text: reply})
	c.user.MessageCount++
	c.conv.SessionTurns++

	if c.conv.SessionTurns >= c.windows.SummaryTrigger {
		c.conv.Summary = c.summarizer.Summarize(ctx, c.conv.RecentWindow(c.windows.SummaryInput))
		c.conv.SessionTurns = 0
		c.logger.Info("summary rebuilt", "trace", c.traceID, "user", c.user.ID)
	}

	// Commit before the next input is accepted. Fail closed: if this errors,
	// the in-memory mutations are not durable and the session must stop.
	if err := c.store.SaveTurn(ctx, c.user, c.conv); err != nil {
		c.ended = true
		return TurnResult{}, fmt.Errorf("persist turn for %s: %w", c.user.ID, err)
	}

	return TurnResult{Kind: TurnReply, Reply: reply}, nil
}
