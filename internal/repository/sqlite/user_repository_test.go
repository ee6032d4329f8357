package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userhub/internal/domain"
	"userhub/internal/repository"
)

func newTestRepository(t *testing.T) repository.UserRepository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	user := &domain.User{
		Username:     "alice",
		PasswordHash: "hash-1",
		Roles:        []string{"TEACHER", "ADMIN", "TEACHER"},
		Department:   "Computer Science",
	}
	id, err := repo.Create(ctx, user)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, user.ID)

	byName, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	assert.Equal(t, "hash-1", byName.PasswordHash)
	assert.Equal(t, []string{"ADMIN", "TEACHER"}, byName.Roles)
	assert.Equal(t, "Computer Science", byName.Department)
	assert.False(t, byName.CreatedAt.IsZero())

	byID, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Equal(t, byName.Roles, byID.Roles)
}

func TestUserRepository_CreateWithoutRolesOrDepartment(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Create(ctx, &domain.User{Username: "bob", PasswordHash: "hash"})
	require.NoError(t, err)

	user, err := repo.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, user.Roles)
	assert.Empty(t, user.Department)
}

func TestUserRepository_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Create(ctx, &domain.User{Username: "admin", PasswordHash: "a"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.User{Username: "admin", PasswordHash: "b", Roles: []string{"X"}})
	assert.ErrorIs(t, err, repository.ErrUserExists)

	user, err := repo.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "a", user.PasswordHash)
	assert.Empty(t, user.Roles)
}

func TestUserRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.GetByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = repo.GetByID(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	err = repo.Save(ctx, &domain.User{ID: 42, Username: "ghost", PasswordHash: "x"})
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	user := &domain.User{Username: "carol", PasswordHash: "old", Roles: []string{"STAFF"}}
	_, err := repo.Create(ctx, user)
	require.NoError(t, err)

	user.PasswordHash = "new"
	user.Roles = []string{"HEAD", "STAFF"}
	user.Department = "Math"
	require.NoError(t, repo.Save(ctx, user))

	stored, err := repo.GetByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.PasswordHash)
	assert.Equal(t, []string{"HEAD", "STAFF"}, stored.Roles)
	assert.Equal(t, "Math", stored.Department)
}

func TestUserRepository_InitIsRepeatable(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Create(ctx, &domain.User{Username: "dave", PasswordHash: "h"})
	require.NoError(t, err)
	require.NoError(t, repo.Init(ctx))

	_, err = repo.GetByUsername(ctx, "dave")
	assert.NoError(t, err)
}
