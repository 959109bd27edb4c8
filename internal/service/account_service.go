package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/sanitize"
	"github.com/noah-isme/unisubmit-api/pkg/storage"
)

type accountUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
}

type accountPendingStore interface {
	Upsert(ctx context.Context, pending *models.PendingUser) error
	FindByEmail(ctx context.Context, email string) (*models.PendingUser, error)
	FindByID(ctx context.Context, id string) (*models.PendingUser, error)
	List(ctx context.Context) ([]models.PendingUser, error)
	MarkVerified(ctx context.Context, email, otp string, now time.Time) error
	Delete(ctx context.Context, id string) error
	Promote(ctx context.Context, id string) (*models.User, error)
}

type accountDepartmentStore interface {
	List(ctx context.Context) ([]models.Department, error)
	FindByNameOrSlug(ctx context.Context, name, slug string) (*models.Department, error)
}

type accountAssignmentStore interface {
	ListContentRefsByStudent(ctx context.Context, studentID string) ([]string, error)
	DeleteAllForStudent(ctx context.Context, studentID string) (int64, error)
}

type accountNotifier interface {
	SendSignupOTP(ctx context.Context, name, email, otp string, ttl time.Duration) error
	AccountApproved(name, email string)
	AccountRejected(name, email string)
}

// AccountConfig tunes the signup flow.
type AccountConfig struct {
	OTPTTL time.Duration
}

var userGroupOrder = []models.UserRole{models.RoleStudent, models.RoleProfessor, models.RoleHOD, models.RoleAdmin}

// AccountService manages signup, verification, approval and removal of accounts.
type AccountService struct {
	users       accountUserStore
	pending     accountPendingStore
	departments accountDepartmentStore
	assignments accountAssignmentStore
	content     storage.ContentStore
	notifier    accountNotifier
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         AccountConfig
	now         func() time.Time
	otp         func() (string, error)
}

// NewAccountService constructs an AccountService.
func NewAccountService(
	users accountUserStore,
	pending accountPendingStore,
	departments accountDepartmentStore,
	assignments accountAssignmentStore,
	content storage.ContentStore,
	notifier accountNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AccountConfig,
) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	return &AccountService{
		users:       users,
		pending:     pending,
		departments: departments,
		assignments: assignments,
		content:     content,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		otp:         generateOTP,
	}
}

// Signup records an unverified request and emails a verification code.
func (s *AccountService) Signup(ctx context.Context, req models.SignupRequest) (*models.SignupResult, error) {
	req.Name = sanitize.Text(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	req.Department = strings.TrimSpace(req.Department)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}
	role, ok := models.ParseUserRole(req.Role)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid role")
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	existing, err := s.pending.FindByEmail(ctx, req.Email)
	switch {
	case err == nil && existing.EmailVerified:
		return nil, appErrors.Clone(appErrors.ErrConflict, "signup already pending admin approval")
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch signup request")
	}

	department, err := s.departments.FindByNameOrSlug(ctx, req.Department, models.DepartmentSlug(req.Department))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown department")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve department")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	code, err := s.otp()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate verification code")
	}

	if err := s.notifier.SendSignupOTP(ctx, req.Name, req.Email, code, s.cfg.OTPTTL); err != nil {
		s.logger.Warn("failed to send verification code", zap.String("email", req.Email), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to send verification code")
	}

	expiresAt := s.now().Add(s.cfg.OTPTTL)
	pending := &models.PendingUser{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         role,
		Department:   department.Slug,
		OTP:          &code,
		OTPExpiresAt: &expiresAt,
		CreatedAt:    s.now(),
	}
	if err := s.pending.Upsert(ctx, pending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "signup already pending admin approval")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store signup request")
	}

	s.logger.Info("signup requested", zap.String("email", req.Email), zap.String("role", string(role)))
	return &models.SignupResult{Message: "verification code sent to your email", Email: req.Email}, nil
}

// VerifyOTP redeems the emailed code for a pending signup.
func (s *AccountService) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.SignupResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.OTP = strings.TrimSpace(req.OTP)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	pending, err := s.pending.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no pending signup request")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch signup request")
	}
	if pending.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrValidation, "already verified")
	}
	if pending.OTP == nil || subtle.ConstantTimeCompare([]byte(*pending.OTP), []byte(req.OTP)) != 1 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid OTP")
	}
	now := s.now()
	if pending.OTPExpiresAt == nil || !now.Before(*pending.OTPExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "OTP expired")
	}

	if err := s.pending.MarkVerified(ctx, req.Email, req.OTP, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid OTP")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify signup request")
	}

	s.logger.Info("signup email verified", zap.String("email", req.Email))
	return &models.SignupResult{Message: "verification successful, pending admin approval", Email: req.Email}, nil
}

// ListPending returns every signup request.
func (s *AccountService) ListPending(ctx context.Context) ([]models.PendingUser, error) {
	pending, err := s.pending.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list signup requests")
	}
	return pending, nil
}

// ApprovePending promotes a verified request into an active account.
func (s *AccountService) ApprovePending(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid signup request id")
	}
	pending, err := s.pending.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "signup request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch signup request")
	}
	if !pending.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "email not verified")
	}

	user, err := s.pending.Promote(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "signup request not found")
		case isUniqueViolation(err):
			return nil, appErrors.Clone(appErrors.ErrConflict, "account already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve signup request")
	}

	s.notifier.AccountApproved(user.Name, user.Email)
	s.logger.Info("signup approved", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// RejectPending discards a signup request and tells the applicant.
func (s *AccountService) RejectPending(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid signup request id")
	}
	pending, err := s.pending.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "signup request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch signup request")
	}
	if err := s.pending.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "signup request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject signup request")
	}

	s.notifier.AccountRejected(pending.Name, pending.Email)
	s.logger.Info("signup rejected", zap.String("pending_id", id))
	return nil
}

// ListUsers returns active accounts grouped by role.
func (s *AccountService) ListUsers(ctx context.Context) (*models.UserDirectory, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	departments, err := s.departments.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	names := make(map[string]string, len(departments))
	for _, d := range departments {
		names[d.Slug] = d.Name
	}

	grouped := make(map[models.UserRole][]models.UserView, len(userGroupOrder))
	for _, u := range users {
		name, ok := names[u.Department]
		if !ok {
			name = models.UnknownDepartment
		}
		grouped[u.Role] = append(grouped[u.Role], models.UserView{
			ID:             u.ID,
			Name:           u.Name,
			Email:          u.Email,
			Role:           u.Role,
			Department:     u.Department,
			DepartmentName: name,
			CreatedAt:      u.CreatedAt,
		})
	}

	directory := &models.UserDirectory{Total: len(users), Groups: make([]models.UserGroup, 0, len(userGroupOrder))}
	for _, role := range userGroupOrder {
		views := grouped[role]
		if views == nil {
			views = []models.UserView{}
		}
		directory.Groups = append(directory.Groups, models.UserGroup{Role: role, Count: len(views), Users: views})
	}
	return directory, nil
}

// DeleteUser removes an account together with its submissions and stored files.
func (s *AccountService) DeleteUser(ctx context.Context, actor *models.Principal, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid user id")
	}
	if actor != nil && actor.ID == id {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete your own account")
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	refs, err := s.storedFiles(ctx, user)
	if err != nil {
		return err
	}

	removed, err := s.assignments.DeleteAllForStudent(ctx, user.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignments")
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	// Rows are gone first so no record ever points at deleted content; a
	// leftover file is only logged.
	for _, ref := range refs {
		if err := s.content.Delete(ctx, ref); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to delete stored file", zap.String("user_id", user.ID), zap.String("content_ref", ref), zap.Error(err))
		}
	}

	s.logger.Info("user deleted",
		zap.String("user_id", user.ID),
		zap.Int("files", len(refs)),
		zap.Int64("assignments", removed),
	)
	return nil
}

// storedFiles unions the files referenced by assignments with any content
// tagged with the user's email.
func (s *AccountService) storedFiles(ctx context.Context, user *models.User) ([]string, error) {
	refs, err := s.assignments.ListContentRefsByStudent(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignment files")
	}
	tagged, err := s.content.FindByMetadata(ctx, map[string]string{storage.MetaEmail: strings.ToLower(user.Email)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to list stored files")
	}

	seen := make(map[string]struct{}, len(refs)+len(tagged))
	result := make([]string, 0, len(refs)+len(tagged))
	add := func(ref string) {
		if ref == "" {
			return
		}
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		result = append(result, ref)
	}
	for _, ref := range refs {
		add(ref)
	}
	for _, d := range tagged {
		add(d.ID)
	}
	return result, nil
}

// EnsureAdmin creates the bootstrap administrator when no account uses the
// email yet. It reports whether an account was created.
func (s *AccountService) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, nil
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	name = sanitize.Text(name)
	if name == "" {
		name = "Administrator"
	}
	admin := &models.User{Name: name, Email: email, PasswordHash: string(hash), Role: models.RoleAdmin}
	if err := s.users.Create(ctx, admin); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create admin")
	}
	s.logger.Info("bootstrap admin created", zap.String("email", email))
	return true, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
