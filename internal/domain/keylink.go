package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the subscription level attached to an API key. Rate limits and
// quotas for a tier are enforced by the ZodForge API, not by the dashboard.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalizes a tier string, defaulting empty input to free.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree, "":
		return TierFree, nil
	case TierPro:
		return TierPro, nil
	case TierEnterprise:
		return TierEnterprise, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Valid reports whether the tier belongs to the closed set.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// KeyLink associates an Identity with one remotely issued API key,
// referenced by its kid. The raw key material is never stored here.
// Links are deactivated on rotation, never deleted; the oldest active
// link is the canonical one for session purposes.
type KeyLink struct {
	ID         int64
	IdentityID int64
	KID        string
	Tier       Tier
	Name       string
	Active     bool
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
}
