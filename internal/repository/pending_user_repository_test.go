package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/unisubmit-api/internal/models"
)

func TestPendingUserRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPendingUserRepository(db)

	mock.ExpectExec("INSERT INTO pending_users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("WHERE pending_users.email_verified = FALSE").WillReturnResult(sqlmock.NewResult(0, 0))

	otp := "123456"
	expires := time.Now().Add(10 * time.Minute)
	pending := &models.PendingUser{Name: "Ana", Email: "ana@uni.edu", PasswordHash: "hash", Role: models.RoleStudent, Department: "cs", OTP: &otp, OTPExpiresAt: &expires}
	require.NoError(t, repo.Upsert(context.Background(), pending))
	assert.NotEmpty(t, pending.ID)

	err := repo.Upsert(context.Background(), &models.PendingUser{Name: "Ana", Email: "ana@uni.edu"})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingUserRepositoryMarkVerifiedOnce(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPendingUserRepository(db)

	now := time.Now()
	update := regexp.QuoteMeta("UPDATE pending_users SET email_verified = TRUE, otp = NULL, otp_expires_at = NULL")
	mock.ExpectExec(update).WithArgs("ana@uni.edu", "123456", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WithArgs("ana@uni.edu", "123456", now).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkVerified(context.Background(), "ana@uni.edu", "123456", now))
	require.ErrorIs(t, repo.MarkVerified(context.Background(), "ana@uni.edu", "123456", now), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingUserRepositoryPromote(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPendingUserRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (id, name, email, password_hash, role, department, created_at, updated_at)")).
		WithArgs("p-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow("u-1", "Ana", "ana@uni.edu", "hash", "student", "cs", now, now))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pending_users WHERE id = $1")).WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := repo.Promote(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingUserRepositoryPromoteUnverified(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPendingUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").WillReturnRows(sqlmock.NewRows(userColumnNames))
	mock.ExpectRollback()

	_, err := repo.Promote(context.Background(), "p-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingUserRepositoryPromoteRollsBackOnDeleteFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPendingUserRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow("u-1", "Ana", "ana@uni.edu", "hash", "student", "cs", now, now))
	mock.ExpectExec("DELETE FROM pending_users").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := repo.Promote(context.Background(), "p-1")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
