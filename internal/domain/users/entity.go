package users

import "time"

// UserID identifier type
type UserID string

// Role enum
type Role string

const (
	RoleInvestigator Role = "investigator"
	RoleReviewer     Role = "reviewer"
	RoleAdmin        Role = "admin"
)

// User is an authenticated account. PasswordHash is a bcrypt hash and is
// never serialized.
type User struct {
	ID           UserID    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
