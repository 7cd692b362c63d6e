package session

import (
	"context"
	"errors"

	"github.com/veloria-ai/veloria/internal/quota"
)

// ErrUnknownUser is returned when a session is started for a user id that has
// no record. Users are looked up, not created, by the session entry point.
var ErrUnknownUser = errors.New("unknown user")

// Store abstracts persistence of user records and conversation state
// (SQLite, Redis, in-memory). Implementations must make SaveTurn an atomic
// whole-record overwrite per user: readers never observe a partially written
// turn.
type Store interface {
	// User looks up an existing user record. Returns ErrUnknownUser (wrapped)
	// when no record exists.
	User(ctx context.Context, id string) (*quota.User, error)

	// SaveUser overwrites the user record.
	SaveUser(ctx context.Context, u *quota.User) error

	// Conversation returns the user's conversation state, creating a fresh
	// one on first reference.
	Conversation(ctx context.Context, userID string) (*ConversationState, error)

	// SaveTurn durably commits both records in one atomic write. Called at
	// the end of every turn, before the next input is accepted.
	SaveTurn(ctx context.Context, u *quota.User, conv *ConversationState) error

	// ListUsers returns all user records, ordered by id.
	ListUsers(ctx context.Context) ([]quota.User, error)

	// Seed populates the store with the demo snapshot when it is empty.
	// A convenience default for first runs, not a production contract.
	Seed(ctx context.Context) error

	Close() error
}
