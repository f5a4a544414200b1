package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/octahive/octabot/internal/models"
)

func TestUserStore_Create(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewUserStore(NewDatabaseForTesting(sqlDB))
	ctx := context.Background()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", "user", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	user, err := store.Create(ctx, "alice", "alice@example.com", "securepassword", "")

	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, models.RoleUser, user.Role)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("securepassword")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_GetByUsername_NotFound(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewUserStore(NewDatabaseForTesting(sqlDB))

	mock.ExpectQuery("SELECT id, username, email, role, password_hash, created_at, updated_at").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "role", "password_hash", "created_at", "updated_at"}))

	_, err = store.GetByUsername(context.Background(), "ghost")

	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcryptCost)
	require.NoError(t, err)
	user := &models.User{PasswordHash: string(hash)}

	assert.NoError(t, VerifyPassword(user, "correct-horse"))
	assert.Error(t, VerifyPassword(user, "wrong-password"))
}
