package services

import (
	"context"
	"testing"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/Dosada05/tournament-chat/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUserRepo struct {
	users  map[int]*models.User
	nextID int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[int]*models.User{}, nextID: 1}
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	for _, u := range r.users {
		if u.Email == user.Email {
			return repositories.ErrUserEmailConflict
		}
	}
	user.ID = r.nextID
	r.nextID++
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id int) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	repo := newMemUserRepo()
	svc := NewAuthService(repo, nil)
	ctx := context.Background()
	nick := "ace"

	user, err := svc.Register(ctx, RegisterInput{
		FirstName: " Anna ", LastName: "Lee", Nickname: &nick,
		Email: " Anna@Example.com ", Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Empty(t, user.PasswordHash)
	assert.Equal(t, "anna@example.com", user.Email)
	assert.Equal(t, models.RolePlayer, user.Role)
	assert.NotEqual(t, "correct-horse", repo.users[user.ID].PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "anna@example.com", Password: "another-one"})
	assert.ErrorIs(t, err, ErrUserEmailConflict)

	logged, err := svc.Login(ctx, LoginInput{Email: "ANNA@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.Empty(t, logged.PasswordHash)

	_, err = svc.Login(ctx, LoginInput{Email: "anna@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "whatever1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	id, err := svc.Identity(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: user.ID, DisplayName: "ace", Role: models.RolePlayer}, id)

	_, err = svc.Identity(ctx, 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_ShortPassword(t *testing.T) {
	repo := newMemUserRepo()
	_, err := NewAuthService(repo, nil).Register(context.Background(), RegisterInput{Email: "a@b.c", Password: "short"})
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	assert.Empty(t, repo.users)
}
