package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/globalization/internal/audit"
)

// AuditRepository stores the audit chain in the audit_log table. It is both an
// audit.Sink and an audit.ChainSource.
type AuditRepository struct {
	db  *sql.DB
	log *slog.Logger
}

var (
	_ audit.Sink        = (*AuditRepository)(nil)
	_ audit.ChainSource = (*AuditRepository)(nil)
)

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *sql.DB, log *slog.Logger) *AuditRepository {
	if log == nil {
		log = slog.Default()
	}

	return &AuditRepository{db: db, log: log}
}

// Name implements audit.Sink.
func (r *AuditRepository) Name() string {
	return "postgres"
}

// Write implements audit.Sink.
func (r *AuditRepository) Write(ctx context.Context, entry audit.Entry) error {
	const query = `
		INSERT INTO audit_log (seq, id, action, user_id, details, correlation_id, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	details := []byte("{}")
	if len(entry.Details) > 0 {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}

	if _, err := r.db.ExecContext(
		ctx,
		query,
		int64(entry.Seq),
		entry.ID,
		entry.Action,
		entry.UserID,
		details,
		entry.CorrelationID,
		entry.Timestamp,
		entry.PrevHash,
		entry.Hash,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("audit seq %d is already stored by another writer", entry.Seq)
		}

		r.log.Error("failed to insert audit entry", slog.Uint64("seq", entry.Seq), slog.Any("error", err))
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

const auditColumns = `seq, id, action, user_id, details, correlation_id, created_at, prev_hash, hash`

// Last implements audit.ChainSource.
func (r *AuditRepository) Last(ctx context.Context) (*audit.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log ORDER BY seq DESC LIMIT 1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select last audit entry: %w", err)
	}

	return entry, nil
}

// List implements audit.ChainSource.
func (r *AuditRepository) List(ctx context.Context, afterSeq uint64, limit int) ([]audit.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE seq > $1 ORDER BY seq ASC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		entry   audit.Entry
		seq     int64
		details []byte
	)

	if err := row.Scan(
		&seq,
		&entry.ID,
		&entry.Action,
		&entry.UserID,
		&details,
		&entry.CorrelationID,
		&entry.Timestamp,
		&entry.PrevHash,
		&entry.Hash,
	); err != nil {
		return nil, err
	}

	decoded, err := audit.DecodeDetails(details)
	if err != nil {
		return nil, err
	}

	entry.Seq = uint64(seq)
	entry.Details = decoded
	entry.Timestamp = entry.Timestamp.UTC()

	return &entry, nil
}
