package service

import (
	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
)

// Login is the result of a successful login on either path.
type Login struct {
	Token     string
	TokenType string
	ExpiresIn int64
	Session   domain.Session
}

// OAuthStart returns the prepared authorization URL and its state handle.
type OAuthStart struct {
	AuthorizationURL string
	State            string
}

// OAuthCallback captures the provider callback query parameters.
type OAuthCallback struct {
	Code  string
	State string
}

// Rotation is the one-time result of a key rotation. RawKey is shown to
// the user exactly once; Token is the reissued session bound to the new key.
type Rotation struct {
	KID       string
	RawKey    string
	Token     string
	ExpiresIn int64
}

// KeyOverview is the dashboard view of the session's canonical key.
// Api-key sessions carry full backend metadata and usage; GitHub sessions
// without raw key material degrade to the stored link metadata.
type KeyOverview struct {
	KID             string
	Name            string
	Tier            domain.Tier
	RawKeyAvailable bool
	Key             *zodforge.KeyInfo
	Usage           *zodforge.Usage
	Link            *domain.KeyLink
}
