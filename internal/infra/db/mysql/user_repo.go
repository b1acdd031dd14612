package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	domain "github.com/entomolab/casetrace/internal/domain/users"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	const q = `
INSERT INTO users (id, email, name, organization, role, password_hash, created_at)
VALUES (?,?,?,?,?,?,?);
`
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Email, u.Name, u.Organization, u.Role, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		// 1062: duplicate entry on the unique email index
		if errors.As(err, &me) && me.Number == 1062 {
			return domain.ErrEmailTaken
		}
		if strings.Contains(err.Error(), "Duplicate entry") {
			return domain.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `
SELECT id, email, name, organization, role, password_hash, created_at
FROM users WHERE email=? LIMIT 1;
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	const q = `
SELECT id, email, name, organization, role, password_hash, created_at
FROM users WHERE id=? LIMIT 1;
`
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
	const q = `UPDATE users SET name=?, organization=? WHERE id=?;`
	res, err := r.db.ExecContext(ctx, q, name, organization, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// RowsAffected is 0 both for missing rows and no-op updates;
		// distinguish with a lookup
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id domain.UserID, passwordHash string) error {
	const q = `UPDATE users SET password_hash=? WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, passwordHash, id)
	return err
}
