package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ssogate/pkg/platform/sentinel"
)

// Schema creates the users table. Applied at startup; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash BYTEA NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	profile       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const uniqueViolation = "23505"

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, email, password_hash, display_name, profile, created_at FROM users`

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.findOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, selectUser+` WHERE email = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var (
		u       User
		profile []byte
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &profile, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, fmt.Errorf("decode user profile: %w", err)
		}
	}
	return &u, nil
}

func (s *PostgresStore) Save(ctx context.Context, user *User) error {
	profile := user.Profile
	if profile == nil {
		profile = map[string]any{}
	}
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode user profile: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, profile, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			display_name = EXCLUDED.display_name,
			profile = EXCLUDED.profile`,
		user.ID, NormalizeEmail(user.Email), user.PasswordHash, user.DisplayName, profileJSON, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrInvalidState
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}
