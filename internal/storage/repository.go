package storage

import (
	"context"

	"cliptide/internal/auth"
	"cliptide/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the session authority. It is a superset of auth.PrincipalStore so a
// single driver instance backs both.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByIdentifier(identifier string) (models.User, bool)
	ListUsers() []models.User
	UpdateUser(id string, update UserUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)
	SetRefreshToken(id, value string) error
	RotateRefreshToken(id, expected, next string) error
}

var (
	_ Repository          = (*Storage)(nil)
	_ auth.PrincipalStore = Repository(nil)
)
