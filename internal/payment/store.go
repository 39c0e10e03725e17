package payment

import (
	"context"
	"sync"
	"time"

	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
)

// StatusUpdate moves a payout to a new status. Empty Channel or Reference keep
// the stored value.
type StatusUpdate struct {
	Status    domain.PayoutStatus
	Channel   string
	Reference string
	Error     string
}

// Store persists payouts and enforces their status transitions.
type Store interface {
	Create(ctx context.Context, payout *domain.Payout) error
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	Get(ctx context.Context, id string) (*domain.Payout, error)
}

// MemoryStore keeps payouts in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	payouts map[string]domain.Payout
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payouts: make(map[string]domain.Payout)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, payout *domain.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payouts[payout.ID]; exists {
		return apperrors.NewStateError("payout " + payout.ID + " already exists")
	}

	s.payouts[payout.ID] = *payout
	return nil
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, update StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[id]
	if !ok {
		return apperrors.NewNotFoundError("payout")
	}

	if !domain.CanTransition(payout.Status, update.Status) {
		return apperrors.NewStateError("invalid payout transition from " + string(payout.Status) + " to " + string(update.Status))
	}

	payout.Status = update.Status
	if update.Channel != "" {
		payout.Channel = update.Channel
	}
	if update.Reference != "" {
		payout.Reference = update.Reference
	}
	payout.Error = update.Error
	payout.UpdatedAt = time.Now().UTC()

	s.payouts[id] = payout
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payout, ok := s.payouts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("payout")
	}

	return &payout, nil
}
