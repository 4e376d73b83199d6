package domain

import "errors"

var (
	// ErrInvalidCredential signals a bad, expired, or unverifiable API key.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	// ErrIdentityResolution indicates the user store was unreachable or the
	// identity write conflicted.
	ErrIdentityResolution = errors.New("auth: identity resolution failed")
	// ErrProvision indicates the remote key-creation call failed.
	ErrProvision = errors.New("auth: key provisioning failed")
	// ErrStore indicates a local persistence failure, possibly after a
	// remote side effect already succeeded.
	ErrStore = errors.New("auth: store write failed")
	// ErrUpstreamUnavailable covers network failures and timeouts to any
	// remote dependency.
	ErrUpstreamUnavailable = errors.New("auth: upstream unavailable")
	// ErrInvalidState indicates a missing or mismatched OAuth login state.
	ErrInvalidState = errors.New("auth: invalid login state")
	// ErrSessionInvalid indicates a malformed, tampered, or expired
	// session token.
	ErrSessionInvalid = errors.New("auth: session token invalid")
	// ErrRawKeyUnavailable means the session has no raw key material, so
	// operations that must authenticate against the backend with the
	// user's own key cannot proceed.
	ErrRawKeyUnavailable = errors.New("auth: raw key not available for this session")
	// ErrDuplicateKeyLink signals a uniqueness conflict on key-link insert,
	// the store-side backstop for concurrent first logins.
	ErrDuplicateKeyLink = errors.New("store: duplicate key link")
)
