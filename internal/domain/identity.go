package domain

import "time"

// Identity is the locally stored principal record, one per end user.
// The ID is assigned on first sign-in and never changes; profile fields
// track whatever the OAuth provider last asserted.
type Identity struct {
	ID        int64
	GitHubID  string
	Email     string
	Name      string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OAuthProfile carries the claims asserted by the external identity
// provider during the authorization-code flow.
type OAuthProfile struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}
