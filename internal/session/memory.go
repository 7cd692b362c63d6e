package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/veloria-ai/veloria/internal/quota"
)

// MemoryStore implements Store with in-process maps. Used by tests and for
// throwaway demo runs; state is lost on exit.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]quota.User
	convs map[string]ConversationState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]quota.User),
		convs: make(map[string]ConversationState),
	}
}

func (s *MemoryStore) User(ctx context.Context, id string) (*quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrUnknownUser)
	}
	return &u, nil
}

func (s *MemoryStore) SaveUser(ctx context.Context, u *quota.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) Conversation(ctx context.Context, userID string) (*ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[userID]
	if !ok {
		return NewConversationState(), nil
	}
	// Deep-copy the history so callers never alias the stored slice.
	out := conv
	out.History = append([]Turn(nil), conv.History...)
	return &out, nil
}

func (s *MemoryStore) SaveTurn(ctx context.Context, u *quota.User, conv *ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *conv
	stored.History = append([]Turn(nil), conv.History...)
	s.users[u.ID] = *u
	s.convs[u.ID] = stored
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]quota.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) Seed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.users) > 0 {
		return nil
	}
	for _, seed := range DefaultSeed() {
		s.users[seed.User.ID] = seed.User
		conv := seed.Conv
		conv.History = append([]Turn(nil), seed.Conv.History...)
		s.convs[seed.User.ID] = conv
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
