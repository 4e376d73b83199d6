package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/repository"
)

// KeyManager ensures the dashboard always has an active session-signing key.
type KeyManager struct {
	repo repository.SigningKeyRepository
}

// NewKeyManager creates a KeyManager.
func NewKeyManager(repo repository.SigningKeyRepository) *KeyManager {
	return &KeyManager{repo: repo}
}

// EnsureSigningKey returns the active key or creates a new one if missing.
func (m *KeyManager) EnsureSigningKey(ctx context.Context) (domain.SigningKey, error) {
	key, err := m.repo.GetActive(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.SigningKey{}, fmt.Errorf("ensure signing key: %w", err)
	}

	secret := make([]byte, 64)
	if _, randErr := rand.Read(secret); randErr != nil {
		return domain.SigningKey{}, fmt.Errorf("generate secret: %w", randErr)
	}

	key = domain.SigningKey{
		KID:       uuid.NewString(),
		Secret:    secret,
		Algorithm: string(jose.HS256),
		IsActive:  true,
	}

	created, err := m.repo.Create(ctx, key)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}
	return created, nil
}

// ActiveKey retrieves the current signing key without creating one.
func (m *KeyManager) ActiveKey(ctx context.Context) (domain.SigningKey, error) {
	key, err := m.repo.GetActive(ctx)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("active key: %w", err)
	}
	return key, nil
}
