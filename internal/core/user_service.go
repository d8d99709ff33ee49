package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/tattoostencil/studio/internal/auth"
	"github.com/tattoostencil/studio/internal/store"
)

type UserService struct {
	dbStore *store.SQLiteStore
}

func NewUserService(db *store.SQLiteStore) *UserService {
	return &UserService{dbStore: db}
}

// EnsureUser mirrors the token profile into the users table, creating the
// account with the starting balance on first sight.
func (s *UserService) EnsureUser(ctx context.Context, claims *auth.Claims) (*store.User, error) {
	user, err := s.dbStore.UpsertUser(ctx, &store.User{
		ID:              claims.Subject,
		Email:           claims.Email,
		FirstName:       claims.FirstName,
		LastName:        claims.LastName,
		ProfileImageURL: claims.ProfileImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync user %s: %w", claims.Subject, err)
	}
	return user, nil
}

// Resolve returns the stored user for the token subject, creating it on the
// first authenticated request.
func (s *UserService) Resolve(ctx context.Context, claims *auth.Claims) (*store.User, error) {
	user, err := s.Get(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return s.EnsureUser(ctx, claims)
	}
	return user, err
}

func (s *UserService) Get(ctx context.Context, userID string) (*store.User, error) {
	return s.dbStore.GetUser(ctx, userID)
}
