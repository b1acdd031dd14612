package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/entomolab/casetrace/internal/domain/users"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeUserRepo struct {
	byEmail map[string]*domain.User
	byID    map[domain.UserID]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byEmail: map[string]*domain.User{},
		byID:    map[domain.UserID]*domain.User{},
	}
}

func (r *fakeUserRepo) Create(ctx context.Context, u *domain.User) error {
	if _, ok := r.byEmail[u.Email]; ok {
		return domain.ErrEmailTaken
	}
	r.byEmail[u.Email] = u
	r.byID[u.ID] = u
	return nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) UpdateProfile(ctx context.Context, id domain.UserID, name, organization string) error {
	u, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Name = name
	u.Organization = organization
	return nil
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, id domain.UserID, hash string) error {
	u, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func newTestService(now time.Time) (*Service, *fakeUserRepo) {
	repo := newFakeUserRepo()
	svc := &Service{
		Repo:     repo,
		Secret:   []byte("test-secret"),
		TokenTTL: time.Hour,
		Clock:    fixedClock{t: now},
	}
	return svc, repo
}

func TestRegisterAndLogin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	u, err := svc.Register(context.Background(), RegisterCommand{
		Email:    "Reviewer@Lab.example",
		Name:     "A. Reviewer",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "reviewer@lab.example", u.Email)
	assert.Equal(t, domain.RoleInvestigator, u.Role)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	token, logged, err := svc.Login(context.Background(), "reviewer@lab.example", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, logged.ID)
	require.NotEmpty(t, token)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, string(u.ID), claims.Subject)
	assert.Equal(t, "reviewer@lab.example", claims.Email)
	assert.Equal(t, string(domain.RoleInvestigator), claims.Role)
}

func TestRegisterRejectsWeakInput(t *testing.T) {
	svc, _ := newTestService(time.Now())

	_, err := svc.Register(context.Background(), RegisterCommand{Email: "not-an-email", Password: "longenough"})
	assert.Error(t, err)

	_, err = svc.Register(context.Background(), RegisterCommand{Email: "a@b.example", Password: "short"})
	assert.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(time.Now())

	_, err := svc.Register(context.Background(), RegisterCommand{Email: "dup@lab.example", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterCommand{Email: "dup@lab.example", Password: "password2"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(time.Now())

	_, err := svc.Register(context.Background(), RegisterCommand{Email: "x@lab.example", Password: "password1"})
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "x@lab.example", "password2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(context.Background(), "unknown@lab.example", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenExpired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(issued)

	_, err := svc.Register(context.Background(), RegisterCommand{Email: "t@lab.example", Password: "password1"})
	require.NoError(t, err)
	token, _, err := svc.Login(context.Background(), "t@lab.example", "password1")
	require.NoError(t, err)

	// move the clock past the TTL
	svc.Clock = fixedClock{t: issued.Add(2 * time.Hour)}
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenWrongSecret(t *testing.T) {
	now := time.Now()
	svc, _ := newTestService(now)
	_, err := svc.Register(context.Background(), RegisterCommand{Email: "s@lab.example", Password: "password1"})
	require.NoError(t, err)
	token, _, err := svc.Login(context.Background(), "s@lab.example", "password1")
	require.NoError(t, err)

	other, _ := newTestService(now)
	other.Secret = []byte("different-secret")
	_, err = other.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(time.Now())
	u, err := svc.Register(context.Background(), RegisterCommand{Email: "p@lab.example", Password: "password1"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), u.ID, "wrong", "password2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(context.Background(), u.ID, "password1", "password2")
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "p@lab.example", "password2")
	assert.NoError(t, err)
}
