package postgres

import (
	"context"
	"database/sql"

	"golang.org/x/crypto/bcrypt"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// keyPrefixLen is how many leading characters of an API key are stored in
// clear for the index lookup; the rest is verified against a bcrypt hash.
const keyPrefixLen = 12

// KeyRepo resolves API keys to projects. Secrets are stored bcrypt-hashed,
// so a leaked table does not leak usable keys.
type KeyRepo struct {
	db *sql.DB
}

func NewKeyRepo(db *sql.DB) *KeyRepo {
	return &KeyRepo{db: db}
}

// Lookup resolves apiKey to its owning project. Returns storage.ErrUnknownKey
// for no match and storage.ErrRevokedKey when the key exists but is disabled.
func (r *KeyRepo) Lookup(ctx context.Context, apiKey string) (*storage.Project, error) {
	if len(apiKey) < keyPrefixLen {
		return nil, storage.ErrUnknownKey
	}
	prefix := apiKey[:keyPrefixLen]

	// The prefix is not unique by contract, so every candidate is verified.
	rows, err := r.db.QueryContext(ctx, `SELECT
		k.key_hash, k.revoked, p.id, p.name, COALESCE(p.rate_per_min, 0)
		FROM api_keys k JOIN projects p ON p.id = k.project_id
		WHERE k.key_prefix = $1`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash []byte
		var proj storage.Project
		if err := rows.Scan(&hash, &proj.Revoked, &proj.ID, &proj.Name, &proj.RatePerMin); err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) == nil {
			if proj.Revoked {
				return nil, storage.ErrRevokedKey
			}
			return &proj, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, storage.ErrUnknownKey
}
