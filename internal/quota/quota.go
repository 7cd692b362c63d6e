// Package quota enforces per-user lifetime message limits by subscription tier.
package quota

import "fmt"

// Tier is a named quota class bounding a user's lifetime message count.
type Tier string

const (
	TierFree    Tier = "Free"
	TierBasic   Tier = "Basic"
	TierPremium Tier = "Premium"
	TierVIP     Tier = "VIP"
)

// Unlimited marks a tier with no message ceiling.
const Unlimited = -1

// tierLimits is the static tier table. Immutable at runtime.
var tierLimits = map[Tier]int{
	TierFree:    10,
	TierBasic:   500,
	TierPremium: 2000,
	TierVIP:     Unlimited,
}

// ParseTier validates a tier name. Unrecognized names are a load-time error,
// not a silent zero-limit fallback.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierLimits[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Limit returns the lifetime message limit for the tier, or Unlimited.
// A Tier value that bypassed ParseTier resolves to 0: fully denied (fail closed).
func (t Tier) Limit() int {
	limit, ok := tierLimits[t]
	if !ok {
		return 0
	}
	return limit
}

// User is one account tracked by the ledger. MessageCount is the lifetime
// total and only ever grows.
type User struct {
	ID           string `json:"id"`
	Tier         Tier   `json:"tier"`
	MessageCount int    `json:"message_count"`
}

// Remaining returns how many messages the user may still send, or Unlimited.
func (u *User) Remaining() int {
	limit := u.Tier.Limit()
	if limit == Unlimited {
		return Unlimited
	}
	if r := limit - u.MessageCount; r > 0 {
		return r
	}
	return 0
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Limit   int // the tier limit that denied the turn; meaningless when Allowed
}

// Ledger answers whether a user may send another message. Checks are read-only
// and side-effect-free; the caller increments MessageCount only after a reply
// was actually produced.
type Ledger struct{}

// Check resolves the user's tier limit and compares it against the lifetime
// count. VIP (Unlimited) is never denied.
func (Ledger) Check(u *User) Decision {
	limit := u.Tier.Limit()
	if limit == Unlimited {
		return Decision{Allowed: true}
	}
	if u.MessageCount >= limit {
		return Decision{Allowed: false, Limit: limit}
	}
	return Decision{Allowed: true}
}
