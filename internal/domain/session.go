package domain

import "time"

// LoginMethod identifies which credential established a session. It
// determines which session fields are populated: api-key logins carry the
// raw key material, GitHub logins may not (the backend never returns raw
// keys after initial creation).
type LoginMethod string

const (
	LoginMethodAPIKey LoginMethod = "apikey"
	LoginMethodGitHub LoginMethod = "github"
)

// Session is the decoded, signature-verified content of a session token.
// It travels with the client; the server keeps no session table.
type Session struct {
	// IdentityID is zero for pure api-key logins, which have no local
	// identity record.
	IdentityID int64
	KID        string
	Tier       Tier
	Method     LoginMethod
	Name       string
	Email      string
	// RawKey is the bearer credential for calls to the ZodForge API.
	// Empty for returning GitHub users.
	RawKey    string
	ExpiresAt time.Time
}

// LoginState is the state/PKCE tuple persisted between the authorization
// redirect and the provider callback.
type LoginState struct {
	State        string
	CodeVerifier string
	RedirectURI  string
	CreatedAt    time.Time
}

// SigningKey is an HMAC secret used to sign session tokens.
type SigningKey struct {
	ID        int64
	KID       string
	Secret    []byte
	Algorithm string
	IsActive  bool
	CreatedAt time.Time
	RotatedAt *time.Time
}
