package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
)

// Compile-time interface assertions.
var (
	_ IdentityRepository   = (*PostgresIdentityRepo)(nil)
	_ KeyLinkRepository    = (*PostgresKeyLinkRepo)(nil)
	_ SigningKeyRepository = (*PostgresSigningKeyRepo)(nil)
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresIdentityRepo implements IdentityRepository.
type PostgresIdentityRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresIdentityRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: pool, node: node}
}

// The upsert keys on github_id so two concurrent first logins for the same
// external id resolve to a single row. Profile fields are refreshed with
// whatever the provider asserted last; the id is immutable.
const upsertIdentitySQL = `INSERT INTO identities (id, github_id, email, name, avatar_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (github_id) DO UPDATE
SET email = EXCLUDED.email, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url, updated_at = now()
RETURNING id, github_id, email, name, avatar_url, created_at, updated_at`

func (r *PostgresIdentityRepo) FindOrCreate(ctx context.Context, profile domain.OAuthProfile) (domain.Identity, error) {
	row := r.db.QueryRow(ctx, upsertIdentitySQL,
		r.node.Generate().Int64(),
		profile.ID,
		profile.Email,
		profile.Name,
		profile.AvatarURL,
	)

	var identity domain.Identity
	if err := row.Scan(
		&identity.ID,
		&identity.GitHubID,
		&identity.Email,
		&identity.Name,
		&identity.AvatarURL,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: upsert identity: %w", domain.ErrIdentityResolution, err)
	}
	return identity, nil
}

const getIdentitySQL = `SELECT id, github_id, email, name, avatar_url, created_at, updated_at
FROM identities WHERE id = $1`

func (r *PostgresIdentityRepo) GetByID(ctx context.Context, id int64) (domain.Identity, error) {
	row := r.db.QueryRow(ctx, getIdentitySQL, id)

	var identity domain.Identity
	if err := row.Scan(
		&identity.ID,
		&identity.GitHubID,
		&identity.Email,
		&identity.Name,
		&identity.AvatarURL,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// PostgresKeyLinkRepo implements KeyLinkRepository.
type PostgresKeyLinkRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresKeyLinkRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresKeyLinkRepo {
	return &PostgresKeyLinkRepo{db: pool, node: node}
}

// Oldest-first so the first row is the canonical key. The kid tiebreak
// keeps the order stable when two links share a creation timestamp.
const listActiveLinksSQL = `SELECT id, identity_id, kid, tier, name, is_active, created_at, expires_at, last_used_at
FROM key_links
WHERE identity_id = $1 AND is_active
ORDER BY created_at ASC, kid ASC`

func (r *PostgresKeyLinkRepo) ListActive(ctx context.Context, identityID int64) ([]domain.KeyLink, error) {
	rows, err := r.db.Query(ctx, listActiveLinksSQL, identityID)
	if err != nil {
		return nil, fmt.Errorf("list key links: %w", err)
	}
	defer rows.Close()

	var links []domain.KeyLink
	for rows.Next() {
		link, err := scanKeyLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list key links: %w", err)
	}
	return links, nil
}

const insertKeyLinkSQL = `INSERT INTO key_links (id, identity_id, kid, tier, name, is_active, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, identity_id, kid, tier, name, is_active, created_at, expires_at, last_used_at`

func (r *PostgresKeyLinkRepo) Create(ctx context.Context, link domain.KeyLink) (domain.KeyLink, error) {
	id := link.ID
	if id == 0 {
		id = r.node.Generate().Int64()
	}
	row := r.db.QueryRow(ctx, insertKeyLinkSQL,
		id,
		link.IdentityID,
		link.KID,
		string(link.Tier),
		link.Name,
		link.Active,
		link.ExpiresAt,
	)

	created, err := scanKeyLink(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return domain.KeyLink{}, fmt.Errorf("%w: kid %s", domain.ErrDuplicateKeyLink, link.KID)
			case pgForeignKeyViolation:
				return domain.KeyLink{}, fmt.Errorf("%w: identity %d missing", domain.ErrStore, link.IdentityID)
			}
		}
		return domain.KeyLink{}, fmt.Errorf("%w: insert key link: %w", domain.ErrStore, err)
	}
	return created, nil
}

const deactivateKeyLinkSQL = `UPDATE key_links SET is_active = false WHERE kid = $1`

func (r *PostgresKeyLinkRepo) Deactivate(ctx context.Context, kid string) error {
	if _, err := r.db.Exec(ctx, deactivateKeyLinkSQL, kid); err != nil {
		return fmt.Errorf("%w: deactivate key link: %w", domain.ErrStore, err)
	}
	return nil
}

const touchKeyLinkSQL = `UPDATE key_links SET last_used_at = now() WHERE kid = $1`

func (r *PostgresKeyLinkRepo) TouchLastUsed(ctx context.Context, kid string) error {
	if _, err := r.db.Exec(ctx, touchKeyLinkSQL, kid); err != nil {
		return fmt.Errorf("touch key link: %w", err)
	}
	return nil
}

const getKeyLinkSQL = `SELECT id, identity_id, kid, tier, name, is_active, created_at, expires_at, last_used_at
FROM key_links WHERE kid = $1 AND is_active`

func (r *PostgresKeyLinkRepo) GetByKID(ctx context.Context, kid string) (domain.KeyLink, error) {
	link, err := scanKeyLink(r.db.QueryRow(ctx, getKeyLinkSQL, kid))
	if err != nil {
		return domain.KeyLink{}, fmt.Errorf("get key link: %w", err)
	}
	return link, nil
}

func scanKeyLink(row pgx.Row) (domain.KeyLink, error) {
	var (
		link domain.KeyLink
		tier string
	)
	if err := row.Scan(
		&link.ID,
		&link.IdentityID,
		&link.KID,
		&tier,
		&link.Name,
		&link.Active,
		&link.CreatedAt,
		&link.ExpiresAt,
		&link.LastUsedAt,
	); err != nil {
		return domain.KeyLink{}, err
	}
	parsed, err := domain.ParseTier(tier)
	if err != nil {
		return domain.KeyLink{}, err
	}
	link.Tier = parsed
	return link, nil
}

// PostgresSigningKeyRepo implements SigningKeyRepository.
type PostgresSigningKeyRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresSigningKeyRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresSigningKeyRepo {
	return &PostgresSigningKeyRepo{db: pool, node: node}
}

const getActiveSigningKeySQL = `SELECT id, kid, secret, algorithm, is_active, created_at, rotated_at
FROM session_signing_keys WHERE is_active ORDER BY created_at DESC LIMIT 1`

func (r *PostgresSigningKeyRepo) GetActive(ctx context.Context) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx, getActiveSigningKeySQL)

	var key domain.SigningKey
	if err := row.Scan(
		&key.ID,
		&key.KID,
		&key.Secret,
		&key.Algorithm,
		&key.IsActive,
		&key.CreatedAt,
		&key.RotatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SigningKey{}, err
		}
		return domain.SigningKey{}, fmt.Errorf("get signing key: %w", err)
	}
	return key, nil
}

const insertSigningKeySQL = `INSERT INTO session_signing_keys (id, kid, secret, algorithm, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, kid, secret, algorithm, is_active, created_at, rotated_at`

func (r *PostgresSigningKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx, insertSigningKeySQL,
		r.node.Generate().Int64(),
		key.KID,
		key.Secret,
		key.Algorithm,
		key.IsActive,
	)

	var created domain.SigningKey
	if err := row.Scan(
		&created.ID,
		&created.KID,
		&created.Secret,
		&created.Algorithm,
		&created.IsActive,
		&created.CreatedAt,
		&created.RotatedAt,
	); err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert signing key: %w", err)
	}
	return created, nil
}
