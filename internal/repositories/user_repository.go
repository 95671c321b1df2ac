package repositories

import (
	"context"
	"errors"

	"github.com/collabset/backend/internal/auth"
	"github.com/collabset/backend/internal/models"
)

// UserRepository defines the data access contract for marketplace parties.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	// UpdateUser applies mutate to the freshly read record and stores the result in one
	// transaction, so concurrent modifications of different fields are never lost.
	UpdateUser(ctx context.Context, id string, mutate func(models.User) (models.User, error)) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
}

// RoleLookup resolves session roles from the user records, so a role switch reaches tokens
// reissued from older refresh sessions.
func RoleLookup(users UserRepository) auth.RoleLookup {
	return func(ctx context.Context, userID string) (models.Role, error) {
		user, err := users.FindByID(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return "", auth.ErrSessionNotFound
		}
		if err != nil {
			return "", err
		}
		return user.Role, nil
	}
}
