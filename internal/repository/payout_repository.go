package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/payment"
)

// PayoutRepository stores payouts in PostgreSQL and implements payment.Store.
type PayoutRepository struct {
	db  *sql.DB
	log *slog.Logger
}

var _ payment.Store = (*PayoutRepository)(nil)

// NewPayoutRepository creates a PayoutRepository.
func NewPayoutRepository(db *sql.DB, log *slog.Logger) *PayoutRepository {
	if log == nil {
		log = slog.Default()
	}

	return &PayoutRepository{db: db, log: log}
}

// Create inserts a new payout.
func (r *PayoutRepository) Create(ctx context.Context, payout *domain.Payout) error {
	const query = `
		INSERT INTO payouts (id, user_id, amount, currency, channel, reference, status, idempotency_key, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		payout.ID,
		payout.UserID,
		payout.Amount,
		payout.Currency,
		payout.Channel,
		payout.Reference,
		string(payout.Status),
		payout.IdempotencyKey,
		payout.Error,
		payout.CreatedAt,
		payout.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewStateError("payout " + payout.ID + " already exists")
		}

		r.log.Error("failed to insert payout", slog.String("payout_id", payout.ID), slog.Any("error", err))
		return apperrors.NewDatabaseError(err)
	}

	return nil
}

// UpdateStatus moves the payout to update.Status when the stored status allows it.
func (r *PayoutRepository) UpdateStatus(ctx context.Context, id string, update payment.StatusUpdate) error {
	const query = `
		UPDATE payouts SET
			status = $2,
			channel = CASE WHEN $3::text = '' THEN channel ELSE $3::text END,
			reference = CASE WHEN $4::text = '' THEN reference ELSE $4::text END,
			error = $5,
			updated_at = $6
		WHERE id = $1 AND status = ANY($7::text[])
	`

	sources := domain.SourcesOf(update.Status)
	allowed := make([]string, len(sources))
	for i, s := range sources {
		allowed[i] = string(s)
	}

	res, err := r.db.ExecContext(
		ctx,
		query,
		id,
		string(update.Status),
		update.Channel,
		update.Reference,
		update.Error,
		time.Now().UTC(),
		pq.Array(allowed),
	)
	if err != nil {
		r.log.Error("failed to update payout", slog.String("payout_id", id), slog.Any("error", err))
		return apperrors.NewDatabaseError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	return apperrors.NewStateError(fmt.Sprintf("invalid payout transition from %s to %s", current.Status, update.Status))
}

// Get loads a payout by id.
func (r *PayoutRepository) Get(ctx context.Context, id string) (*domain.Payout, error) {
	const query = `
		SELECT id, user_id, amount, currency, channel, reference, status, idempotency_key, error, created_at, updated_at
		FROM payouts
		WHERE id = $1
	`

	var (
		payout domain.Payout
		status string
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&payout.ID,
		&payout.UserID,
		&payout.Amount,
		&payout.Currency,
		&payout.Channel,
		&payout.Reference,
		&status,
		&payout.IdempotencyKey,
		&payout.Error,
		&payout.CreatedAt,
		&payout.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("payout")
		}
		return nil, apperrors.NewDatabaseError(err)
	}
	payout.Status = domain.PayoutStatus(status)

	return &payout, nil
}
