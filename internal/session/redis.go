package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/veloria-ai/veloria/internal/quota"
)

const (
	userKeyPrefix = "veloria:user:"
	convKeyPrefix = "veloria:conv:"
)

// RedisStore implements Store on Redis. Both records for a user are written
// in one MULTI/EXEC pipeline, so a reader sees either the previous turn or
// the new one, never a mix.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) User(ctx context.Context, id string) (*quota.User, error) {
	val, err := s.client.Get(ctx, userKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("user %s: %w", id, ErrUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}

	var u quota.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", id, err)
	}
	if _, err := quota.ParseTier(string(u.Tier)); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &u, nil
}

func (s *RedisStore) SaveUser(ctx context.Context, u *quota.User) error {
	val, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", u.ID, err)
	}
	if err := s.client.Set(ctx, userKeyPrefix+u.ID, val, 0).Err(); err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *RedisStore) Conversation(ctx context.Context, userID string) (*ConversationState, error) {
	val, err := s.client.Get(ctx, convKeyPrefix+userID).Result()
	if err == redis.Nil {
		return NewConversationState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", userID, err)
	}

	var conv ConversationState
	if err := json.Unmarshal([]byte(val), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", userID, err)
	}
	return &conv, nil
}

func (s *RedisStore) SaveTurn(ctx context.Context, u *quota.User, conv *ConversationState) error {
	userVal, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", u.ID, err)
	}
	convVal, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", u.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKeyPrefix+u.ID, userVal, 0)
		pipe.Set(ctx, convKeyPrefix+u.ID, convVal, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit turn %s: %w", u.ID, err)
	}
	return nil
}

func (s *RedisStore) ListUsers(ctx context.Context) ([]quota.User, error) {
	var users []quota.User
	iter := s.client.Scan(ctx, 0, userKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", iter.Val(), err)
		}
		var u quota.User
		if err := json.Unmarshal([]byte(val), &u); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", iter.Val(), err)
		}
		users = append(users, u)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *RedisStore) Seed(ctx context.Context) error {
	existing, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for _, seed := range DefaultSeed() {
		conv := seed.Conv
		if err := s.SaveTurn(ctx, &seed.User, &conv); err != nil {
			return fmt.Errorf("seed %s: %w", seed.User.ID, err)
		}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
