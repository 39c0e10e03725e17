package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/logger"
	"github.com/Proton-105/globalization/pkg/metrics"
)

// Recorder appends hash-chained entries to every configured sink.
type Recorder struct {
	mu       sync.Mutex
	sinks    []Sink
	seq      uint64
	lastHash string
	now      func() time.Time
	log      *slog.Logger
}

// NewRecorder starts a fresh chain written to sinks in order. The first sink
// is the chain of record: it should also be the ChainSource used by Resume
// and Verify.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}

	return &Recorder{
		sinks:    sinks,
		lastHash: GenesisHash,
		now:      time.Now,
		log:      log,
	}
}

// Resume continues the chain after the newest entry in src.
func (r *Recorder) Resume(ctx context.Context, src ChainSource) error {
	last, err := src.Last(ctx)
	if err != nil {
		return fmt.Errorf("load last audit entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if last == nil {
		r.seq, r.lastHash = 0, GenesisHash
		return nil
	}

	r.seq, r.lastHash = last.Seq, last.Hash
	r.log.Info("audit chain resumed", slog.Uint64("seq", last.Seq))
	return nil
}

// Head returns the sequence and hash of the newest entry.
func (r *Recorder) Head() (uint64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq, r.lastHash
}

// LogAudit records action by userID with details. An empty userID is recorded
// as SystemUser. Writes are detached from ctx cancellation.
//
// If the chain of record rejects the entry, nothing else is written, the
// head stays put and (nil, err) is returned. A failing secondary sink still
// lets the entry become the head; the entry is returned with the error.
func (r *Recorder) LogAudit(ctx context.Context, action, userID string, details map[string]any) (*Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return nil, apperrors.NewValidationError("audit action is required")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = SystemUser
	}

	normalized, err := normalizeDetails(Redact(details))
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Entry{
		ID:            uuid.NewString(),
		Seq:           r.seq + 1,
		Action:        action,
		UserID:        userID,
		Details:       normalized,
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Timestamp:     r.now().UTC().Truncate(time.Microsecond),
		PrevHash:      r.lastHash,
	}

	if entry.Hash, err = ComputeHash(entry); err != nil {
		return nil, err
	}

	writeCtx := context.WithoutCancel(ctx)

	var errs []error
	for i, sink := range r.sinks {
		if err := sink.Write(writeCtx, entry); err != nil {
			r.log.Error("audit sink write failed",
				slog.String("sink", sink.Name()),
				slog.Uint64("seq", entry.Seq),
				slog.Any("error", err),
			)
			if i == 0 {
				err = apperrors.NewDatabaseError(fmt.Errorf("audit sink %s: %w", sink.Name(), err))
				metrics.RecordAuditEntry(err)
				return nil, err
			}
			errs = append(errs, fmt.Errorf("audit sink %s: %w", sink.Name(), err))
		}
	}

	r.seq, r.lastHash = entry.Seq, entry.Hash

	err = errors.Join(errs...)
	metrics.RecordAuditEntry(err)

	return &entry, err
}
