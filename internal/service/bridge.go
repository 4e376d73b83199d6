package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/github"
	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/metrics"
	"github.com/MerlijnW70/zodforge-dashboard/internal/repository"
	"github.com/MerlijnW70/zodforge-dashboard/internal/session"
)

// Bridge is the login orchestration layer. It reconciles the two login
// methods (a bearer API key and GitHub OAuth) into one session
// representation and guarantees every authenticated user ends up with
// exactly one linked API key.
type Bridge interface {
	// LoginWithKey verifies a raw API key and issues a session for it.
	LoginWithKey(ctx context.Context, rawKey string) (*Login, error)
	// StartOAuth prepares the GitHub authorization URL and persists the
	// state/PKCE tuple for the callback.
	StartOAuth(ctx context.Context) (*OAuthStart, error)
	// CompleteOAuth consumes the provider callback, resolves the asserted
	// profile, and delegates to LoginWithOAuth.
	CompleteOAuth(ctx context.Context, in OAuthCallback) (*Login, error)
	// LoginWithOAuth resolves an OAuth profile to a session, provisioning
	// an API key when the identity has none. Idempotent: a returning
	// identity reuses its canonical link and never gets a second key.
	LoginWithOAuth(ctx context.Context, profile domain.OAuthProfile) (*Login, error)
	// Rotate exchanges the session's key for fresh material and reissues
	// the session. The new raw key is returned exactly once.
	Rotate(ctx context.Context, sess domain.Session) (*Rotation, error)
	// Describe returns key metadata and usage for the session's key.
	Describe(ctx context.Context, sess domain.Session) (*KeyOverview, error)
}

type bridge struct {
	api         zodforge.API
	provider    github.IdentityProvider
	identities  repository.IdentityRepository
	links       repository.KeyLinkRepository
	states      repository.LoginStateStore
	provisioner *Provisioner
	codec       *session.Codec
	logger      *zap.Logger
}

// NewBridge wires the session bridge.
func NewBridge(
	api zodforge.API,
	provider github.IdentityProvider,
	identities repository.IdentityRepository,
	links repository.KeyLinkRepository,
	states repository.LoginStateStore,
	provisioner *Provisioner,
	codec *session.Codec,
	logger *zap.Logger,
) Bridge {
	if logger == nil {
		logger = zap.L()
	}
	return &bridge{
		api:         api,
		provider:    provider,
		identities:  identities,
		links:       links,
		states:      states,
		provisioner: provisioner,
		codec:       codec,
		logger:      logger,
	}
}

const (
	statePrefix = "login:state:"
	stateTTL    = 5 * time.Minute
)

func (b *bridge) LoginWithKey(ctx context.Context, rawKey string) (*Login, error) {
	verified, err := b.api.VerifyKey(ctx, rawKey)
	if err != nil {
		metrics.ObserveLogin(string(domain.LoginMethodAPIKey), "rejected")
		return nil, domain.ErrInvalidCredential
	}

	// The API key itself is the bearer credential for backend calls, so
	// it rides along inside the session token unmodified.
	sess := domain.Session{
		KID:    verified.Key.KID,
		Tier:   verified.Key.Tier,
		Method: domain.LoginMethodAPIKey,
		Name:   verified.Key.Name,
		Email:  verified.Key.CustomerID,
		RawKey: rawKey,
	}

	login, err := b.issue(ctx, sess)
	if err != nil {
		metrics.ObserveLogin(string(domain.LoginMethodAPIKey), "error")
		return nil, err
	}

	b.touchLastUsed(ctx, verified.Key.KID)
	metrics.ObserveLogin(string(domain.LoginMethodAPIKey), "success")
	return login, nil
}

func (b *bridge) StartOAuth(ctx context.Context) (*OAuthStart, error) {
	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier, err := secureRandomString(64)
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}

	payload := domain.LoginState{
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.states.Save(ctx, stateKey(state), payload, stateTTL); err != nil {
		return nil, fmt.Errorf("persist login state: %w", err)
	}

	return &OAuthStart{
		AuthorizationURL: b.provider.AuthCodeURL(state, pkceChallenge(verifier)),
		State:            state,
	}, nil
}

func (b *bridge) CompleteOAuth(ctx context.Context, in OAuthCallback) (*Login, error) {
	if in.Code == "" || in.State == "" {
		return nil, domain.ErrInvalidState
	}

	key := stateKey(in.State)
	state, err := b.states.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load login state: %w", err)
	}
	if state == nil {
		return nil, domain.ErrInvalidState
	}
	defer func() {
		if err := b.states.Delete(ctx, key); err != nil {
			b.logger.Warn("failed to delete login state", zap.Error(err))
		}
	}()

	profile, err := b.provider.Authenticate(ctx, in.Code, state.CodeVerifier)
	if err != nil {
		metrics.ObserveLogin(string(domain.LoginMethodGitHub), "rejected")
		b.logger.Warn("github authentication failed", zap.Error(err))
		return nil, domain.ErrInvalidCredential
	}

	return b.LoginWithOAuth(ctx, profile)
}

func (b *bridge) LoginWithOAuth(ctx context.Context, profile domain.OAuthProfile) (*Login, error) {
	identity, err := b.identities.FindOrCreate(ctx, profile)
	if err != nil {
		metrics.ObserveLogin(string(domain.LoginMethodGitHub), "error")
		b.logger.Error("identity resolution failed", zap.String("github_id", profile.ID), zap.Error(err))
		return nil, domain.ErrIdentityResolution
	}

	links, err := b.links.ListActive(ctx, identity.ID)
	if err != nil {
		metrics.ObserveLogin(string(domain.LoginMethodGitHub), "error")
		return nil, fmt.Errorf("%w: %w", domain.ErrIdentityResolution, err)
	}

	var rawKey string
	var canonical domain.KeyLink
	if len(links) > 0 {
		// Oldest active link is canonical. The raw key is not re-derivable
		// from the link, so returning users get a session without it.
		canonical = links[0]
	} else {
		canonical, rawKey, err = b.provisioner.Provision(ctx, identity, domain.TierFree)
		if errors.Is(err, domain.ErrDuplicateKeyLink) {
			// A concurrent first login won the insert race; adopt its link.
			canonical, err = b.survivingLink(ctx, identity.ID)
			rawKey = ""
		}
		if err != nil {
			metrics.ObserveLogin(string(domain.LoginMethodGitHub), "error")
			return nil, err
		}
	}

	sess := domain.Session{
		IdentityID: identity.ID,
		KID:        canonical.KID,
		Tier:       canonical.Tier,
		Method:     domain.LoginMethodGitHub,
		Name:       identity.Name,
		Email:      identity.Email,
		RawKey:     rawKey,
	}

	login, err := b.issue(ctx, sess)
	if err != nil {
		metrics.ObserveLogin(string(domain.LoginMethodGitHub), "error")
		return nil, err
	}

	b.touchLastUsed(ctx, canonical.KID)
	metrics.ObserveLogin(string(domain.LoginMethodGitHub), "success")
	return login, nil
}

func (b *bridge) Rotate(ctx context.Context, sess domain.Session) (*Rotation, error) {
	if sess.RawKey == "" {
		// Returning GitHub sessions have no raw key to authorize the
		// rotation with; the backend never re-issues key material.
		metrics.ObserveRotation("unavailable")
		return nil, domain.ErrRawKeyUnavailable
	}

	rotated, err := b.api.RotateKey(ctx, sess.KID, sess.RawKey)
	if err != nil {
		metrics.ObserveRotation("error")
		return nil, err
	}

	newKID := rotated.KID
	if newKID == "" {
		newKID = sess.KID
	}

	if sess.IdentityID != 0 && newKID != sess.KID {
		if err := b.links.Deactivate(ctx, sess.KID); err != nil {
			b.logger.Error("reconciliation candidate: rotated key link not deactivated",
				zap.String("kid", sess.KID), zap.Error(err))
		}
		if _, err := b.links.Create(ctx, domain.KeyLink{
			IdentityID: sess.IdentityID,
			KID:        newKID,
			Tier:       sess.Tier,
			Name:       sess.Name,
			Active:     true,
		}); err != nil {
			metrics.ObserveReconciliationCandidate()
			b.logger.Error("reconciliation candidate: rotated key has no local link",
				zap.Int64("identity_id", sess.IdentityID),
				zap.String("kid", newKID),
				zap.Error(err),
			)
		}
	}

	next := sess
	next.KID = newKID
	next.RawKey = rotated.RawKey
	token, err := b.codec.Issue(ctx, next)
	if err != nil {
		metrics.ObserveRotation("error")
		return nil, fmt.Errorf("reissue session: %w", err)
	}

	metrics.ObserveRotation("success")
	b.logger.Info("api key rotated", zap.String("old_kid", sess.KID), zap.String("kid", newKID))
	return &Rotation{
		KID:       newKID,
		RawKey:    rotated.RawKey,
		Token:     token,
		ExpiresIn: int64(b.codec.TTL().Seconds()),
	}, nil
}

func (b *bridge) Describe(ctx context.Context, sess domain.Session) (*KeyOverview, error) {
	if sess.RawKey != "" {
		verified, err := b.api.VerifyKey(ctx, sess.RawKey)
		if err != nil {
			// The embedded key stopped verifying, usually after a rotation
			// from another session.
			return nil, err
		}
		b.touchLastUsed(ctx, verified.Key.KID)
		return &KeyOverview{
			KID:             verified.Key.KID,
			Name:            verified.Key.Name,
			Tier:            verified.Key.Tier,
			RawKeyAvailable: true,
			Key:             &verified.Key,
			Usage:           &verified.Usage,
		}, nil
	}

	if sess.IdentityID == 0 {
		return nil, domain.ErrRawKeyUnavailable
	}

	link, err := b.links.GetByKID(ctx, sess.KID)
	if err != nil {
		return nil, fmt.Errorf("describe key: %w", err)
	}
	return &KeyOverview{
		KID:             link.KID,
		Name:            link.Name,
		Tier:            link.Tier,
		RawKeyAvailable: false,
		Link:            &link,
	}, nil
}

func (b *bridge) issue(ctx context.Context, sess domain.Session) (*Login, error) {
	token, err := b.codec.Issue(ctx, sess)
	if err != nil {
		b.logger.Error("session issuance failed", zap.Error(err))
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &Login{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(b.codec.TTL().Seconds()),
		Session:   sess,
	}, nil
}

func (b *bridge) touchLastUsed(ctx context.Context, kid string) {
	if err := b.links.TouchLastUsed(ctx, kid); err != nil {
		b.logger.Debug("touch last used failed", zap.String("kid", kid), zap.Error(err))
	}
}

// survivingLink re-reads the canonical link after a provisioning race.
func (b *bridge) survivingLink(ctx context.Context, identityID int64) (domain.KeyLink, error) {
	links, err := b.links.ListActive(ctx, identityID)
	if err != nil {
		return domain.KeyLink{}, fmt.Errorf("%w: %w", domain.ErrIdentityResolution, err)
	}
	if len(links) == 0 {
		return domain.KeyLink{}, domain.ErrIdentityResolution
	}
	return links[0], nil
}

func stateKey(state string) string {
	return statePrefix + state
}

func secureRandomString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
