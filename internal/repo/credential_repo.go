package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/marketagent/internal/token"
)

// CredentialRepo — хранилище credentials агента в PostgreSQL (реализует token.Store).
//
// Каждый ключ (access_token, refresh_token, user_data) — отдельная строка agent_credentials.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepo создаёт новый CredentialRepo.
func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

var credentialKeys = []string{token.KeyAccessToken, token.KeyRefreshToken, token.KeyUserData}

// Load читает сохранённые credentials.
func (r *CredentialRepo) Load(ctx context.Context) (token.Credentials, error) {
	query := `SELECT key, value FROM agent_credentials WHERE key = ANY($1)`

	rows, err := r.pool.Query(ctx, query, credentialKeys)
	if err != nil {
		return token.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	var creds token.Credentials
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return token.Credentials{}, fmt.Errorf("scan credential: %w", err)
		}
		switch key {
		case token.KeyAccessToken:
			creds.AccessToken = value
		case token.KeyRefreshToken:
			creds.RefreshToken = value
		case token.KeyUserData:
			creds.User = json.RawMessage(value)
		}
	}
	if err := rows.Err(); err != nil {
		return token.Credentials{}, fmt.Errorf("iterate credentials: %w", err)
	}

	if creds.IsEmpty() {
		return token.Credentials{}, token.ErrNoCredentials
	}
	return creds, nil
}

// Save атомарно заменяет все ключи. Пустые значения удаляются.
func (r *CredentialRepo) Save(ctx context.Context, creds token.Credentials) error {
	values := map[string]string{
		token.KeyAccessToken:  creds.AccessToken,
		token.KeyRefreshToken: creds.RefreshToken,
		token.KeyUserData:     string(creds.User),
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, key := range credentialKeys {
			value := values[key]
			if value == "" {
				if _, err := tx.Exec(ctx, `DELETE FROM agent_credentials WHERE key = $1`, key); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
				continue
			}

			query := `
				INSERT INTO agent_credentials (key, value, updated_at)
				VALUES ($1, $2, now())
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			`
			if _, err := tx.Exec(ctx, query, key, value); err != nil {
				return fmt.Errorf("upsert %s: %w", key, err)
			}
		}
		return nil
	})
}

// Clear удаляет все ключи.
func (r *CredentialRepo) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM agent_credentials WHERE key = ANY($1)`, credentialKeys); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

var _ token.Store = (*CredentialRepo)(nil)
