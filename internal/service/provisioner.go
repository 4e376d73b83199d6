package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/metrics"
	"github.com/MerlijnW70/zodforge-dashboard/internal/repository"
)

// Provisioner mints a new API key for a freshly onboarded identity and
// persists the local link. Key creation uses the admin credential held by
// the server process; the raw key material is returned to the caller once
// and never persisted here.
type Provisioner struct {
	api    zodforge.API
	links  repository.KeyLinkRepository
	logger *zap.Logger
}

// NewProvisioner wires the provisioner.
func NewProvisioner(api zodforge.API, links repository.KeyLinkRepository, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.L()
	}
	return &Provisioner{api: api, links: links, logger: logger}
}

// Provision creates a remote key for the identity and records the link.
// When the link insert hits the store's uniqueness backstop (a concurrent
// first login won the race) the minted key is revoked and
// domain.ErrDuplicateKeyLink is returned so the caller can fall back to
// the surviving canonical link.
func (p *Provisioner) Provision(ctx context.Context, identity domain.Identity, tier domain.Tier) (domain.KeyLink, string, error) {
	if !tier.Valid() {
		tier = domain.TierFree
	}

	owner := strings.TrimSpace(identity.Name)
	if owner == "" {
		owner = identity.Email
	}

	minted, err := p.api.CreateKey(ctx, strconv.FormatInt(identity.ID, 10), owner+"'s Key", tier)
	if err != nil {
		return domain.KeyLink{}, "", fmt.Errorf("provision key: %w", err)
	}

	linkTier := minted.Tier
	if !linkTier.Valid() {
		linkTier = tier
	}
	link, err := p.links.Create(ctx, domain.KeyLink{
		IdentityID: identity.ID,
		KID:        minted.KID,
		Tier:       linkTier,
		Name:       minted.Name,
		Active:     true,
	})
	if err != nil {
		p.compensate(ctx, identity.ID, minted.KID, err)
		return domain.KeyLink{}, "", err
	}

	metrics.ObserveProvision()
	p.logger.Info("api key provisioned",
		zap.Int64("identity_id", identity.ID),
		zap.String("kid", minted.KID),
		zap.String("tier", string(linkTier)),
	)
	return link, minted.RawKey, nil
}

// compensate revokes a remote key whose local link could not be persisted.
// If the revocation itself fails the key is orphaned remotely; that state
// is logged at elevated severity as a reconciliation candidate.
func (p *Provisioner) compensate(ctx context.Context, identityID int64, kid string, cause error) {
	if deleteErr := p.api.DeleteKey(ctx, kid); deleteErr != nil {
		metrics.ObserveReconciliationCandidate()
		p.logger.Error("reconciliation candidate: remote key exists without local link",
			zap.Int64("identity_id", identityID),
			zap.String("kid", kid),
			zap.NamedError("store_error", cause),
			zap.NamedError("revoke_error", deleteErr),
		)
		return
	}

	if errors.Is(cause, domain.ErrDuplicateKeyLink) {
		p.logger.Info("concurrent provisioning race resolved, minted key revoked",
			zap.Int64("identity_id", identityID),
			zap.String("kid", kid),
		)
		return
	}
	p.logger.Warn("link persistence failed, minted key revoked",
		zap.Int64("identity_id", identityID),
		zap.String("kid", kid),
		zap.Error(cause),
	)
}
