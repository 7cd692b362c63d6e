package session

import "github.com/veloria-ai/veloria/internal/quota"

// SeedUser pairs a demo user record with its starting conversation state.
type SeedUser struct {
	User quota.User
	Conv ConversationState
}

// DefaultSeed is the demo snapshot applied to an empty store on first run:
// one fresh free user, one free user already at the limit, one basic user a
// message away from summarization, and one long-time VIP.
func DefaultSeed() []SeedUser {
	return []SeedUser{
		{
			User: quota.User{ID: "user_free_1", Tier: quota.TierFree, MessageCount: 0},
			Conv: ConversationState{Summary: NoSummary},
		},
		{
			User: quota.User{ID: "user_at_limit", Tier: quota.TierFree, MessageCount: 10},
			Conv: ConversationState{Summary: NoSummary},
		},
		{
			User: quota.User{ID: "user_basic_1", Tier: quota.TierBasic, MessageCount: 498},
			Conv: ConversationState{Summary: "User seems interested in music.", SessionTurns: 9},
		},
		{
			User: quota.User{ID: "user_vip_1", Tier: quota.TierVIP, MessageCount: 12345},
			Conv: ConversationState{Summary: "User is a long-time chatter."},
		},
	}
}
