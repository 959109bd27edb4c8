package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/unisubmit-api/internal/models"
)

const pendingUserColumns = `id, name, email, password_hash, role, department, otp, otp_expires_at, email_verified, admin_approved, created_at`

// PendingUserRepository stores signup requests awaiting verification and approval.
type PendingUserRepository struct {
	db *sqlx.DB
}

// NewPendingUserRepository creates a new instance of PendingUserRepository.
func NewPendingUserRepository(db *sqlx.DB) *PendingUserRepository {
	return &PendingUserRepository{db: db}
}

// Upsert creates or refreshes the unverified request for an email. A verified
// request is never overwritten; sql.ErrNoRows reports that case.
func (r *PendingUserRepository) Upsert(ctx context.Context, pending *models.PendingUser) error {
	if pending.ID == "" {
		pending.ID = uuid.NewString()
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	pending.EmailVerified = false
	pending.AdminApproved = false

	const query = `INSERT INTO pending_users (id, name, email, password_hash, role, department, otp, otp_expires_at, email_verified, admin_approved, created_at)
VALUES (:id, :name, :email, :password_hash, :role, :department, :otp, :otp_expires_at, :email_verified, :admin_approved, :created_at)
ON CONFLICT (email)
DO UPDATE SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash, role = EXCLUDED.role,
              department = EXCLUDED.department, otp = EXCLUDED.otp, otp_expires_at = EXCLUDED.otp_expires_at,
              created_at = EXCLUDED.created_at
WHERE pending_users.email_verified = FALSE`
	result, err := r.db.NamedExecContext(ctx, query, pending)
	if err != nil {
		return fmt.Errorf("upsert pending user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check pending user rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByEmail returns the signup request for an email.
func (r *PendingUserRepository) FindByEmail(ctx context.Context, email string) (*models.PendingUser, error) {
	query := `SELECT ` + pendingUserColumns + ` FROM pending_users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var pending models.PendingUser
	if err := r.db.GetContext(ctx, &pending, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find pending user by email: %w", err)
	}
	return &pending, nil
}

// FindByID returns the signup request by identifier.
func (r *PendingUserRepository) FindByID(ctx context.Context, id string) (*models.PendingUser, error) {
	query := `SELECT ` + pendingUserColumns + ` FROM pending_users WHERE id = $1 LIMIT 1`
	var pending models.PendingUser
	if err := r.db.GetContext(ctx, &pending, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find pending user by id: %w", err)
	}
	return &pending, nil
}

// List returns every signup request, oldest first.
func (r *PendingUserRepository) List(ctx context.Context) ([]models.PendingUser, error) {
	query := `SELECT ` + pendingUserColumns + ` FROM pending_users ORDER BY created_at, id`
	pending := make([]models.PendingUser, 0)
	if err := r.db.SelectContext(ctx, &pending, query); err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	return pending, nil
}

// MarkVerified consumes a matching, unexpired code. sql.ErrNoRows means the
// code no longer applies, so a code can only ever be redeemed once.
func (r *PendingUserRepository) MarkVerified(ctx context.Context, email, otp string, now time.Time) error {
	const query = `UPDATE pending_users SET email_verified = TRUE, otp = NULL, otp_expires_at = NULL
WHERE LOWER(email) = LOWER($1) AND email_verified = FALSE AND otp = $2 AND otp_expires_at > $3`
	result, err := r.db.ExecContext(ctx, query, email, otp, now)
	if err != nil {
		return fmt.Errorf("mark pending user verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check verified rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the signup request. sql.ErrNoRows is returned when nothing was deleted.
func (r *PendingUserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM pending_users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete pending user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted pending rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Promote copies a verified request into users and deletes it in one
// transaction. sql.ErrNoRows means the request is absent or unverified.
func (r *PendingUserRepository) Promote(ctx context.Context, id string) (*models.User, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promote tx: %w", err)
	}

	now := time.Now().UTC()
	insert := `INSERT INTO users (id, name, email, password_hash, role, department, created_at, updated_at)
SELECT $2, name, email, password_hash, role, department, $3, $3 FROM pending_users WHERE id = $1 AND email_verified = TRUE
RETURNING ` + userColumns
	var user models.User
	if err := tx.QueryRowxContext(ctx, insert, id, uuid.NewString(), now).StructScan(&user); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("promote pending user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_users WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("delete promoted pending user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promote tx: %w", err)
	}
	return &user, nil
}
