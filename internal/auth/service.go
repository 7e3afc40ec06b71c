package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (directory.User, error) {
	user, err := s.repo.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return directory.User{}, shared.ErrInvalidCredentials
	}
	if !user.Active || user.PasswordHash == "" {
		return directory.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return directory.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Identify loads the active user behind a session user ID.
func (s *Service) Identify(ctx context.Context, rawID string) (directory.User, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return directory.User{}, shared.ErrUnauthenticated
	}
	user, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return directory.User{}, shared.ErrUnauthenticated
	}
	if err != nil {
		return directory.User{}, err
	}
	if !user.Active {
		return directory.User{}, shared.ErrUnauthenticated
	}
	return user, nil
}
