package repository

import (
	"context"
	"sync"

	"github.com/Proton-105/globalization/internal/domain"
)

// MemoryUserRepository keeps users in process memory. It backs the service
// when no database is configured.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

var _ UserRepository = (*MemoryUserRepository)(nil)

// NewMemoryUserRepository returns an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]domain.User)}
}

// FindByID implements UserRepository.
func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	user.PushChannels = append([]string(nil), user.PushChannels...)
	user.PaymentChannels = append([]string(nil), user.PaymentChannels...)
	return &user, nil
}

// Upsert implements UserRepository.
func (r *MemoryUserRepository) Upsert(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *user
	stored.PushChannels = append([]string(nil), user.PushChannels...)
	stored.PaymentChannels = append([]string(nil), user.PaymentChannels...)
	r.users[user.ID] = stored
	return nil
}
