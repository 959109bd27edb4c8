package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/storage"
)

type memoryPending struct {
	mu    sync.Mutex
	items map[string]*models.PendingUser
	users *memoryUsers
}

func newMemoryPending(users *memoryUsers) *memoryPending {
	return &memoryPending{items: make(map[string]*models.PendingUser), users: users}
}

func (m *memoryPending) Upsert(ctx context.Context, pending *models.PendingUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if strings.EqualFold(existing.Email, pending.Email) {
			if existing.EmailVerified {
				return sql.ErrNoRows
			}
			pending.ID = existing.ID
		}
	}
	if pending.ID == "" {
		pending.ID = uuid.NewString()
	}
	copied := *pending
	m.items[pending.ID] = &copied
	return nil
}

func (m *memoryPending) FindByEmail(ctx context.Context, email string) (*models.PendingUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if strings.EqualFold(p.Email, email) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryPending) FindByID(ctx context.Context, id string) (*models.PendingUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (m *memoryPending) List(ctx context.Context) ([]models.PendingUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]models.PendingUser, 0, len(m.items))
	for _, p := range m.items {
		result = append(result, *p)
	}
	return result, nil
}

func (m *memoryPending) MarkVerified(ctx context.Context, email, otp string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if strings.EqualFold(p.Email, email) && !p.EmailVerified && p.OTP != nil && *p.OTP == otp && now.Before(*p.OTPExpiresAt) {
			p.EmailVerified = true
			p.OTP = nil
			p.OTPExpiresAt = nil
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryPending) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *memoryPending) Promote(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok || !p.EmailVerified {
		return nil, sql.ErrNoRows
	}
	user := models.User{
		ID:           uuid.NewString(),
		Name:         p.Name,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		Department:   p.Department,
		CreatedAt:    time.Now().UTC(),
	}
	m.users.mu.Lock()
	m.users.users[user.ID] = user
	m.users.mu.Unlock()
	delete(m.items, id)
	return &user, nil
}

func (m *memoryPending) setExpiry(email string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if strings.EqualFold(p.Email, email) {
			p.OTPExpiresAt = &at
		}
	}
}

type accountFixture struct {
	users       *memoryUsers
	pending     *memoryPending
	departments *memoryDepartments
	assignments *memoryAssignments
	content     *storage.LocalStorage
	notifier    *recordingNotifier
	service     *AccountService
}

func newAccountFixture(t *testing.T, users ...models.User) *accountFixture {
	t.Helper()
	content, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	userStore := newMemoryUsers(users...)
	f := &accountFixture{
		users:       userStore,
		pending:     newMemoryPending(userStore),
		departments: &memoryDepartments{items: []models.Department{{ID: uuid.NewString(), Name: "Computer Science", Slug: "computer_science"}}},
		assignments: newMemoryAssignments(),
		content:     content,
		notifier:    newRecordingNotifier(),
	}
	f.service = NewAccountService(f.users, f.pending, f.departments, f.assignments, f.content, f.notifier, nil, nil, AccountConfig{OTPTTL: 10 * time.Minute})
	f.service.otp = func() (string, error) { return "123456", nil }
	return f
}

func signupRequest() models.SignupRequest {
	return models.SignupRequest{
		Name:       "Sara",
		Email:      " Sara@Uni.edu ",
		Password:   "secret1",
		Role:       "student",
		Department: "Computer Science",
	}
}

func TestAccountServiceSignupVerifyApprove(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	result, err := f.service.Signup(ctx, signupRequest())
	require.NoError(t, err)
	assert.Equal(t, "sara@uni.edu", result.Email)
	assert.Equal(t, "123456", f.notifier.otps["sara@uni.edu"])

	pending, err := f.pending.FindByEmail(ctx, "sara@uni.edu")
	require.NoError(t, err)
	assert.Equal(t, "computer_science", pending.Department)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(pending.PasswordHash), []byte("secret1")))

	_, err = f.service.ApprovePending(ctx, pending.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))

	_, err = f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: "sara@uni.edu", OTP: "654321"})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	_, err = f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: "sara@uni.edu", OTP: "123456"})
	require.NoError(t, err)

	_, err = f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: "sara@uni.edu", OTP: "123456"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "already verified")

	_, err = f.service.Signup(ctx, signupRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	user, err := f.service.ApprovePending(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.PasswordHash, user.PasswordHash)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.Equal(t, []recordedNotice{{Kind: NotificationAccountApproved, Email: "sara@uni.edu"}}, f.notifier.notices)

	_, err = f.pending.FindByID(ctx, pending.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = f.service.Signup(ctx, signupRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account already exists")
}

func TestAccountServiceVerifyOTPExpired(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	_, err := f.service.Signup(ctx, signupRequest())
	require.NoError(t, err)
	f.pending.setExpiry("sara@uni.edu", time.Now().Add(-time.Minute))

	_, err = f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: "sara@uni.edu", OTP: "123456"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
	assert.Contains(t, err.Error(), "OTP expired")

	_, err = f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: "nobody@uni.edu", OTP: "123456"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAccountServiceSignupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("otp delivery failure writes nothing", func(t *testing.T) {
		f := newAccountFixture(t)
		f.notifier.otpErr = errors.New("mail down")
		_, err := f.service.Signup(ctx, signupRequest())
		assert.True(t, appErrors.Is(err, appErrors.ErrDependency))
		_, err = f.pending.FindByEmail(ctx, "sara@uni.edu")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("unknown department", func(t *testing.T) {
		f := newAccountFixture(t)
		req := signupRequest()
		req.Department = "Astrology"
		_, err := f.service.Signup(ctx, req)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})

	t.Run("admin role is not self service", func(t *testing.T) {
		f := newAccountFixture(t)
		req := signupRequest()
		req.Role = "admin"
		_, err := f.service.Signup(ctx, req)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})

	t.Run("short password", func(t *testing.T) {
		f := newAccountFixture(t)
		req := signupRequest()
		req.Password = "123"
		_, err := f.service.Signup(ctx, req)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})

	t.Run("resend replaces unverified request", func(t *testing.T) {
		f := newAccountFixture(t)
		_, err := f.service.Signup(ctx, signupRequest())
		require.NoError(t, err)
		f.service.otp = func() (string, error) { return "000111", nil }
		_, err = f.service.Signup(ctx, signupRequest())
		require.NoError(t, err)

		list, err := f.service.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].OTP)
		assert.Equal(t, "000111", *list[0].OTP)
	})
}

func TestAccountServiceRejectPending(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	_, err := f.service.Signup(ctx, signupRequest())
	require.NoError(t, err)
	pending, err := f.pending.FindByEmail(ctx, "sara@uni.edu")
	require.NoError(t, err)

	require.NoError(t, f.service.RejectPending(ctx, pending.ID))
	assert.Equal(t, []recordedNotice{{Kind: NotificationAccountRejected, Email: "sara@uni.edu"}}, f.notifier.notices)

	err = f.service.RejectPending(ctx, pending.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAccountServiceListUsersGroupsByRole(t *testing.T) {
	f := newAccountFixture(t,
		models.User{ID: uuid.NewString(), Name: "Sara", Role: models.RoleStudent, Department: "computer_science"},
		models.User{ID: uuid.NewString(), Name: "Tom", Role: models.RoleStudent, Department: "history"},
		models.User{ID: uuid.NewString(), Name: "Prof", Role: models.RoleProfessor, Department: "computer_science"},
	)

	directory, err := f.service.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, directory.Total)
	require.Len(t, directory.Groups, 4)
	assert.Equal(t, models.RoleStudent, directory.Groups[0].Role)
	assert.Equal(t, 2, directory.Groups[0].Count)
	assert.Equal(t, "Computer Science", directory.Groups[0].Users[0].DepartmentName)
	assert.Equal(t, models.UnknownDepartment, directory.Groups[0].Users[1].DepartmentName)
	assert.Equal(t, 1, directory.Groups[1].Count)
	assert.Equal(t, 0, directory.Groups[3].Count)
	assert.NotNil(t, directory.Groups[3].Users)
}

func TestAccountServiceDeleteUserCascades(t *testing.T) {
	student := models.User{ID: uuid.NewString(), Name: "Sara", Email: "Sara@Uni.edu", Role: models.RoleStudent, Department: "computer_science"}
	admin := models.User{ID: uuid.NewString(), Name: "Admin", Email: "admin@uni.edu", Role: models.RoleAdmin}
	bystander := models.User{ID: uuid.NewString(), Name: "Omar", Email: "omar@uni.edu", Role: models.RoleStudent, Department: "computer_science"}
	f := newAccountFixture(t, student, admin, bystander)
	ctx := context.Background()

	uploads := NewAssignmentService(f.assignments, f.users, f.content, nil, nil, nil, AssignmentServiceConfig{})
	for _, owner := range []models.User{student, student, bystander} {
		_, err := uploads.Upload(ctx, principalFor(owner), UploadRequest{Title: "Lab", Size: int64(len(samplePDF)), Content: bytes.NewReader(samplePDF)})
		require.NoError(t, err)
	}
	orphan, err := f.content.Put(ctx, "orphan.pdf", bytes.NewReader(samplePDF), map[string]string{storage.MetaEmail: "sara@uni.edu"})
	require.NoError(t, err)

	err = f.service.DeleteUser(ctx, principalFor(admin), admin.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	_, err = f.users.FindByID(ctx, admin.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteUser(ctx, principalFor(admin), student.ID))

	_, err = f.users.FindByID(ctx, student.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	refs, err := f.assignments.ListContentRefsByStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
	remaining, err := f.content.FindByMetadata(ctx, map[string]string{storage.MetaEmail: "sara@uni.edu"})
	require.NoError(t, err)
	assert.Empty(t, remaining)
	_, _, err = f.content.Get(ctx, orphan)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	kept, err := f.assignments.ListContentRefsByStudent(ctx, bystander.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	err = f.service.DeleteUser(ctx, principalFor(admin), student.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

type stickyContentStore struct {
	storage.ContentStore
	deletes int
}

func (s *stickyContentStore) Delete(ctx context.Context, id string) error {
	s.deletes++
	return errors.New("store unavailable")
}

func TestAccountServiceDeleteUserRemovesRowsWhenFilesStick(t *testing.T) {
	student := models.User{ID: uuid.NewString(), Name: "Sara", Email: "sara@uni.edu", Role: models.RoleStudent, Department: "computer_science"}
	admin := models.User{ID: uuid.NewString(), Name: "Admin", Email: "admin@uni.edu", Role: models.RoleAdmin}
	f := newAccountFixture(t, student, admin)
	ctx := context.Background()

	uploads := NewAssignmentService(f.assignments, f.users, f.content, nil, nil, nil, AssignmentServiceConfig{})
	_, err := uploads.Upload(ctx, principalFor(student), UploadRequest{Title: "Lab", Size: int64(len(samplePDF)), Content: bytes.NewReader(samplePDF)})
	require.NoError(t, err)

	sticky := &stickyContentStore{ContentStore: f.content}
	svc := NewAccountService(f.users, f.pending, f.departments, f.assignments, sticky, f.notifier, nil, nil, AccountConfig{})

	require.NoError(t, svc.DeleteUser(ctx, principalFor(admin), student.ID))
	assert.Equal(t, 1, sticky.deletes)

	_, err = f.users.FindByID(ctx, student.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	refs, err := f.assignments.ListContentRefsByStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestAccountServiceEnsureAdmin(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	created, err := f.service.EnsureAdmin(ctx, "", "", "")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = f.service.EnsureAdmin(ctx, "<b>Root</b>", " Admin@Uni.edu ", "changeme")
	require.NoError(t, err)
	assert.True(t, created)

	admin, err := f.users.FindByEmail(ctx, "admin@uni.edu")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.Equal(t, "Root", admin.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("changeme")))

	created, err = f.service.EnsureAdmin(ctx, "Root", "admin@uni.edu", "other")
	require.NoError(t, err)
	assert.False(t, created)
}
