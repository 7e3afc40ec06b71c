package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/directory"
)

// Repository is the user lookup needed by login and the identity middleware.
// directory.Repository satisfies it.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (directory.User, error)
	FindUserByUsername(ctx context.Context, username string) (directory.User, error)
}

var _ Repository = (directory.Repository)(nil)
