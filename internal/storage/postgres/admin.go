package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/auth"
	"github.com/xenking/store-core/internal/domain/settings"
)

const (
	listSettingsSQL = `SELECT key, value FROM settings`
	setSettingSQL   = `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	insertAuditSQL = `INSERT INTO audit_logs (actor_id, action, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	listAuditSQL = `SELECT id, actor_id, action, target_type, target_id, details, created_at
		FROM audit_logs ORDER BY id DESC LIMIT $1`

	getAPIKeyByHashSQL = `SELECT id, name, key_hash, actor_id, scopes, created_at FROM api_keys WHERE key_hash = $1`
	insertAPIKeySQL    = `INSERT INTO api_keys (name, key_hash, actor_id, scopes)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
)

var _ settings.Store = (*SettingsRepository)(nil)

// SettingsRepository implements settings.Store backed by PostgreSQL.
type SettingsRepository struct {
	db *DB
}

func (r *SettingsRepository) Values(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.q(ctx).Query(ctx, listSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return values, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	if _, err := r.db.q(ctx).Exec(ctx, setSettingSQL, key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

var _ audit.Repository = (*AuditRepository)(nil)

// AuditRepository implements audit.Repository backed by PostgreSQL.
type AuditRepository struct {
	db *DB
}

func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	err := r.db.q(ctx).QueryRow(ctx, insertAuditSQL,
		rec.ActorID, rec.Action, rec.TargetType, rec.TargetID, rec.Details, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, limit int) ([]audit.Record, error) {
	rows, err := r.db.q(ctx).Query(ctx, listAuditSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit records: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[audit.Record])
}

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	db *DB
}

// FindByHash looks up an API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	rows, err := r.db.q(ctx).Query(ctx, getAPIKeyByHashSQL, hash)
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	k, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[auth.APIKey])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &k, nil
}

func (r *APIKeyRepository) Create(ctx context.Context, k *auth.APIKey) error {
	err := r.db.q(ctx).QueryRow(ctx, insertAPIKeySQL, k.Name, k.KeyHash, k.ActorID, k.Scopes).
		Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting api key %q: %w", k.Name, err)
	}
	return nil
}
