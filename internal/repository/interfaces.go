package repository

import (
	"context"
	"time"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
)

// IdentityRepository exposes persistence for dashboard identities.
type IdentityRepository interface {
	// FindOrCreate resolves the identity for an external OAuth profile,
	// inserting a new record when none exists. The operation is atomic:
	// concurrent first logins for the same external id converge on one row.
	FindOrCreate(ctx context.Context, profile domain.OAuthProfile) (domain.Identity, error)
	GetByID(ctx context.Context, id int64) (domain.Identity, error)
}

// KeyLinkRepository manages the association between identities and
// remotely issued API keys.
type KeyLinkRepository interface {
	// ListActive returns active links oldest-first. The first element is
	// the canonical key for session purposes; callers rely on this order.
	ListActive(ctx context.Context, identityID int64) ([]domain.KeyLink, error)
	// Create inserts a new active link. A kid or per-identity uniqueness
	// conflict is reported as domain.ErrDuplicateKeyLink.
	Create(ctx context.Context, link domain.KeyLink) (domain.KeyLink, error)
	// Deactivate marks the link for kid inactive. Links are never deleted.
	Deactivate(ctx context.Context, kid string) error
	// TouchLastUsed is a best-effort timestamp update. Callers must treat
	// failures as non-fatal.
	TouchLastUsed(ctx context.Context, kid string) error
	GetByKID(ctx context.Context, kid string) (domain.KeyLink, error)
}

// SigningKeyRepository stores session-token signing keys.
type SigningKeyRepository interface {
	GetActive(ctx context.Context) (domain.SigningKey, error)
	Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}

// LoginStateStore persists the OAuth state/PKCE tuple between the
// authorization redirect and the callback.
type LoginStateStore interface {
	Save(ctx context.Context, key string, state domain.LoginState, ttl time.Duration) error
	Get(ctx context.Context, key string) (*domain.LoginState, error)
	Delete(ctx context.Context, key string) error
}
