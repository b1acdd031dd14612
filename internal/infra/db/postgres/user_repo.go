package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	domain "github.com/entomolab/casetrace/internal/domain/users"
)

type UserRepository struct{ db *sql.DB }

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	const q = `
INSERT INTO users (id, email, name, organization, role, password_hash, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Email, u.Name, u.Organization, u.Role, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		var pe *pq.Error
		// 23505: unique_violation on the email index
		if errors.As(err, &pe) && pe.Code == "23505" {
			return domain.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `
SELECT id, email, name, organization, role, password_hash, created_at
FROM users WHERE email=$1 LIMIT 1;`
	return r.scanOne(r.db.QueryRowContext(ctx, q, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	const q = `
SELECT id, email, name, organization, role, password_hash, created_at
FROM users WHERE id=$1 LIMIT 1;`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *UserRepository) scanOne(row *sql.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Organization, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id domain.UserID, name, organization string) error {
	const q = `UPDATE users SET name=$1, organization=$2 WHERE id=$3;`
	res, err := r.db.ExecContext(ctx, q, name, organization, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id domain.UserID, passwordHash string) error {
	const q = `UPDATE users SET password_hash=$1 WHERE id=$2;`
	_, err := r.db.ExecContext(ctx, q, passwordHash, id)
	return err
}
