package gormstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"userhub/internal/domain"
	"userhub/internal/repository"
)

// newSQLiteRepository runs the gorm store against a pure-Go sqlite dialector
// configured the way Open configures the server databases.
func newSQLiteRepository(t *testing.T) repository.UserRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	user := &domain.User{
		Username:     "admin",
		PasswordHash: "hash-1",
		Roles:        []string{"STAFF", "ADMIN", "STAFF"},
		Department:   "Physics",
	}
	id, err := repo.Create(ctx, user)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, []string{"ADMIN", "STAFF"}, user.Roles)
	assert.False(t, user.CreatedAt.IsZero())

	byName, err := repo.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	assert.Equal(t, "hash-1", byName.PasswordHash)
	assert.Equal(t, []string{"ADMIN", "STAFF"}, byName.Roles)
	assert.Equal(t, "Physics", byName.Department)

	byID, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "admin", byID.Username)
	assert.Equal(t, []string{"ADMIN", "STAFF"}, byID.Roles)
}

func TestUserRepository_CreateWithoutRoles(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	_, err := repo.Create(ctx, &domain.User{Username: "bob", PasswordHash: "h"})
	require.NoError(t, err)

	user, err := repo.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, user.Roles)
	assert.Empty(t, user.Roles)
	assert.Equal(t, "", user.Department)
}

func TestUserRepository_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	_, err := repo.Create(ctx, &domain.User{Username: "admin", PasswordHash: "h", Roles: []string{domain.RoleAdmin}})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.User{Username: "admin", PasswordHash: "other"})
	assert.ErrorIs(t, err, repository.ErrUserExists)

	user, err := repo.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "h", user.PasswordHash)
}

func TestUserRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	_, err := repo.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = repo.GetByID(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	user := &domain.User{Username: "alice", PasswordHash: "old", Roles: []string{"STUDENT"}}
	_, err := repo.Create(ctx, user)
	require.NoError(t, err)

	user.PasswordHash = "new"
	user.Roles = []string{"TEACHER", "ADMIN"}
	user.Department = "Chemistry"
	require.NoError(t, repo.Save(ctx, user))

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.PasswordHash)
	assert.Equal(t, []string{"ADMIN", "TEACHER"}, stored.Roles)
	assert.Equal(t, "Chemistry", stored.Department)
	assert.Equal(t, "alice", stored.Username)

	stored.Roles = nil
	require.NoError(t, repo.Save(ctx, stored))
	stored, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Roles)
}

func TestUserRepository_SaveMissingUser(t *testing.T) {
	repo := newSQLiteRepository(t)

	err := repo.Save(context.Background(), &domain.User{ID: 99, Username: "ghost", PasswordHash: "h", Roles: []string{"X"}})
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}
