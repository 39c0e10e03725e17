// Package repository implements PostgreSQL persistence for users, payouts and
// the audit log.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Proton-105/globalization/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Upsert(ctx context.Context, user *domain.User) error
}

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}

	return &userRepository{
		db:  db,
		log: log,
	}
}

// FindByID retrieves a user by id. Unknown ids yield ErrNotFound.
func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `
		SELECT id, name, email, language, timezone, region, push_channels, payment_channels
		FROM users
		WHERE id = $1
	`

	var user domain.User
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Language,
		&user.Timezone,
		&user.Region,
		pq.Array(&user.PushChannels),
		pq.Array(&user.PaymentChannels),
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		r.log.Error("failed to fetch user", slog.String("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("select user: %w", err)
	}

	return &user, nil
}

// Upsert inserts the user or replaces every profile field of an existing row.
func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	const query = `
		INSERT INTO users (id, name, email, language, timezone, region, push_channels, payment_channels)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			language = EXCLUDED.language,
			timezone = EXCLUDED.timezone,
			region = EXCLUDED.region,
			push_channels = EXCLUDED.push_channels,
			payment_channels = EXCLUDED.payment_channels,
			updated_at = NOW()
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.Language,
		user.Timezone,
		user.Region,
		pq.Array(nonNil(user.PushChannels)),
		pq.Array(nonNil(user.PaymentChannels)),
	); err != nil {
		r.log.Error("failed to upsert user", slog.String("user_id", user.ID), slog.Any("error", err))
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
