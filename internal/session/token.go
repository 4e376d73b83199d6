package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
)

// Codec signs and validates session tokens. Sessions are stateless: every
// field a request needs travels inside the token, and validation is a pure
// signature-plus-expiry check with no session table behind it.
type Codec struct {
	keys   *KeyManager
	issuer string
	ttl    time.Duration
}

// NewCodec constructs a session token codec.
func NewCodec(keys *KeyManager, issuer string, ttl time.Duration) *Codec {
	return &Codec{keys: keys, issuer: issuer, ttl: ttl}
}

// TTL reports the configured session lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// tokenClaims is the custom JWT payload for dashboard sessions.
type tokenClaims struct {
	KID    string `json:"kid"`
	Tier   string `json:"tier"`
	Method string `json:"method"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	// RawKey is present only when the login path had the key material in
	// hand: api-key logins and freshly provisioned GitHub logins.
	RawKey string `json:"raw_key,omitempty"`
}

// Issue produces a signed session token for the given session fields.
func (c *Codec) Issue(ctx context.Context, sess domain.Session) (string, error) {
	key, err := c.keys.EnsureSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("ensure signing key: %w", err)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Issuer:    c.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(c.ttl)),
	}
	if sess.IdentityID != 0 {
		std.Subject = strconv.FormatInt(sess.IdentityID, 10)
	}

	custom := tokenClaims{
		KID:    sess.KID,
		Tier:   string(sess.Tier),
		Method: string(sess.Method),
		Name:   sess.Name,
		Email:  sess.Email,
		RawKey: sess.RawKey,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize session token: %w", err)
	}
	return token, nil
}

// Decode verifies the token signature and expiry and returns the session.
// All failure modes collapse to domain.ErrSessionInvalid.
func (c *Codec) Decode(ctx context.Context, token string) (domain.Session, error) {
	key, err := c.keys.ActiveKey(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load signing key: %w", err)
	}

	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)}
	parsed, err := gojwt.ParseSigned(token, allowed)
	if err != nil {
		return domain.Session{}, domain.ErrSessionInvalid
	}

	var std gojwt.Claims
	var custom tokenClaims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return domain.Session{}, domain.ErrSessionInvalid
	}
	if err := std.Validate(gojwt.Expected{Issuer: c.issuer, Time: time.Now().UTC()}); err != nil {
		return domain.Session{}, domain.ErrSessionInvalid
	}

	tier, err := domain.ParseTier(custom.Tier)
	if err != nil {
		return domain.Session{}, domain.ErrSessionInvalid
	}

	sess := domain.Session{
		KID:    custom.KID,
		Tier:   tier,
		Method: domain.LoginMethod(custom.Method),
		Name:   custom.Name,
		Email:  custom.Email,
		RawKey: custom.RawKey,
	}
	if std.Subject != "" {
		id, err := strconv.ParseInt(std.Subject, 10, 64)
		if err != nil {
			return domain.Session{}, domain.ErrSessionInvalid
		}
		sess.IdentityID = id
	}
	if std.Expiry != nil {
		sess.ExpiresAt = std.Expiry.Time()
	}
	return sess, nil
}
