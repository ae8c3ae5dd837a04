package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore persists token metadata in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed token metadata store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tokens table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tokens (
			address    VARCHAR(42) PRIMARY KEY,
			symbol     VARCHAR(64) NOT NULL,
			decimals   INT NOT NULL DEFAULT 18,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, address string) (*Metadata, error) {
	var meta Metadata
	err := s.db.QueryRowContext(ctx, `
		SELECT address, symbol, decimals
		FROM tokens
		WHERE address = $1
	`, strings.ToLower(address)).Scan(&meta.Address, &meta.Symbol, &meta.Decimals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return &meta, nil
}

func (s *PostgresStore) Put(ctx context.Context, meta *Metadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (address, symbol, decimals, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (address) DO UPDATE SET
			symbol     = EXCLUDED.symbol,
			decimals   = EXCLUDED.decimals,
			updated_at = NOW()
	`, strings.ToLower(meta.Address), meta.Symbol, meta.Decimals)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}
