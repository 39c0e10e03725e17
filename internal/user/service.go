// Package user provides lookup and maintenance of user profiles.
package user

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/repository"
	"github.com/Proton-105/globalization/internal/usercache"
)

// ErrUserNotFound is returned for unknown user ids.
var ErrUserNotFound = apperrors.NewNotFoundError("user")

// Service provides business operations over users.
type Service struct {
	repo  repository.UserRepository
	cache *usercache.Cache
	log   *slog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(repo repository.UserRepository, cache *usercache.Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{repo: repo, cache: cache, log: log}
}

// Get returns the user, reading through the cache. Unknown ids are
// remembered briefly so repeated lookups skip the database.
func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("user id is required")
	}

	cached, err := s.cache.Get(ctx, id)
	switch {
	case errors.Is(err, usercache.ErrMissing):
		return nil, ErrUserNotFound
	case err != nil:
		s.logError("get.cache", id, err)
	case cached != nil:
		return cached, nil
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if markErr := s.cache.MarkMissing(ctx, id); markErr != nil {
				s.logError("get.mark_missing", id, markErr)
			}
			return nil, ErrUserNotFound
		}
		s.logError("get.find", id, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	if err := s.cache.Set(ctx, user); err != nil {
		s.logError("get.cache_fill", id, err)
	}

	return user, nil
}

// Upsert validates and stores the user, then drops any cached copy.
func (s *Service) Upsert(ctx context.Context, user *domain.User) error {
	if user == nil {
		return apperrors.NewValidationError("user is required")
	}
	if err := user.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	if err := s.repo.Upsert(ctx, user); err != nil {
		s.logError("upsert", user.ID, err)
		return apperrors.NewDatabaseError(err)
	}

	if err := s.cache.Invalidate(ctx, user.ID); err != nil {
		s.logError("upsert.invalidate", user.ID, err)
	}

	return nil
}

func (s *Service) logError(operation, userID string, err error) {
	s.log.Error("user service operation failed",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
}
