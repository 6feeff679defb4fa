package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
)

func TestUserGetByUsername(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, password_hash, created_at, updated_at")).
			WithArgs("charles").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at", "updated_at"}).
				AddRow("1", "charles", "$2a$hash", now, now))

		user, err := repo.GetByUsername(context.Background(), "charles")
		require.NoError(t, err)
		assert.Equal(t, "charles", user.Username)
	})

	t.Run("absent user wraps the not-found sentinel", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, password_hash, created_at, updated_at")).
			WithArgs("nobody").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at", "updated_at"}))

		_, err := repo.GetByUsername(context.Background(), "nobody")
		require.Error(t, err)
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
	})
}

func TestUserCreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("1", "charles", "").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.User{ID: "1", Username: "charles"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrAlreadyExists))
}

func TestUserSetPassword(t *testing.T) {
	t.Run("updates the stored hash", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
			WithArgs("charles", "$2a$newhash", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.SetPassword(context.Background(), "charles", "$2a$newhash"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
			WithArgs("nobody", "$2a$newhash", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SetPassword(context.Background(), "nobody", "$2a$newhash")
		require.Error(t, err)
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
	})
}
