package users

import "context"

// Repository port for user persistence
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id UserID) (*User, error)
	UpdateProfile(ctx context.Context, id UserID, name, organization string) error
	UpdatePassword(ctx context.Context, id UserID, passwordHash string) error
}
