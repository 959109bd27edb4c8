package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/pkg/mail"
)

// memoryAssignments evaluates guards under a mutex the way the conditional UPDATE does.
type memoryAssignments struct {
	mu        sync.Mutex
	items     map[string]*models.Assignment
	createErr error
}

func newMemoryAssignments(seed ...models.Assignment) *memoryAssignments {
	store := &memoryAssignments{items: make(map[string]*models.Assignment)}
	for i := range seed {
		a := seed[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		store.items[a.ID] = &a
	}
	return store
}

func (m *memoryAssignments) Create(ctx context.Context, assignment *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	assignment.ID = uuid.NewString()
	assignment.Status = models.AssignmentStatusPending
	assignment.CreatedAt = time.Now().UTC()
	assignment.UpdatedAt = assignment.CreatedAt
	copied := *assignment
	m.items[assignment.ID] = &copied
	return nil
}

func (m *memoryAssignments) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (m *memoryAssignments) FindByContentRef(ctx context.Context, contentRef string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ContentRef == contentRef {
			copied := *a
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryAssignments) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]models.Assignment, 0)
	for _, a := range m.items {
		if filter.Matches(a) {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SubmittedAt.Equal(result[j].SubmittedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].SubmittedAt.After(result[j].SubmittedAt)
	})
	return result, nil
}

func (m *memoryAssignments) FindByStudentEmail(ctx context.Context, email string) ([]models.Assignment, error) {
	return m.List(ctx, models.AssignmentFilter{StudentEmail: email})
}

func (m *memoryAssignments) FindByDepartmentAndStatus(ctx context.Context, department string, statuses ...models.AssignmentStatus) ([]models.Assignment, error) {
	return m.List(ctx, models.AssignmentFilter{Department: department, Statuses: statuses})
}

func (m *memoryAssignments) CountByDepartmentAndStatus(ctx context.Context, department string, status models.AssignmentStatus) (int, error) {
	return m.Count(ctx, models.AssignmentFilter{Department: department, Statuses: []models.AssignmentStatus{status}})
}

func (m *memoryAssignments) Count(ctx context.Context, filter models.AssignmentFilter) (int, error) {
	items, err := m.List(ctx, filter)
	return len(items), err
}

func (m *memoryAssignments) TransitionReviewState(ctx context.Context, id string, guard models.TransitionGuard, patch models.ReviewPatch) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || !guard.Permits(a) {
		return nil, sql.ErrNoRows
	}
	patch.Apply(a)
	a.UpdatedAt = time.Now().UTC()
	copied := *a
	return &copied, nil
}

func (m *memoryAssignments) ListContentRefsByStudent(ctx context.Context, studentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0)
	for _, a := range m.items {
		if a.StudentID == studentID {
			refs = append(refs, a.ContentRef)
		}
	}
	return refs, nil
}

func (m *memoryAssignments) DeleteAllForStudent(ctx context.Context, studentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, a := range m.items {
		if a.StudentID == studentID {
			delete(m.items, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryAssignments) get(id string) models.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newMemoryUsers(users ...models.User) *memoryUsers {
	m := &memoryUsers{users: make(map[string]models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			copied := u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (m *memoryUsers) List(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *memoryUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *memoryUsers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	return nil
}

func (m *memoryUsers) ListStudentsWithTotals(ctx context.Context, department string) ([]models.StudentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]models.StudentSummary, 0)
	for _, u := range m.users {
		if u.Role == models.RoleStudent && u.Department == department {
			result = append(result, models.StudentSummary{ID: u.ID, Name: u.Name, Email: u.Email, Department: u.Department, CreatedAt: u.CreatedAt})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type memoryDepartments struct {
	items   []models.Department
	listErr error
	calls   int
}

func (m *memoryDepartments) List(ctx context.Context) ([]models.Department, error) {
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]models.Department, len(m.items))
	copy(result, m.items)
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *memoryDepartments) FindByNameOrSlug(ctx context.Context, name, slug string) (*models.Department, error) {
	for _, d := range m.items {
		if strings.EqualFold(d.Name, name) || d.Slug == slug {
			copied := d
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryDepartments) Create(ctx context.Context, department *models.Department) error {
	department.ID = uuid.NewString()
	department.CreatedAt = time.Now().UTC()
	m.items = append(m.items, *department)
	return nil
}

func (m *memoryDepartments) Delete(ctx context.Context, id string) error {
	for i, d := range m.items {
		if d.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type recordedNotice struct {
	Kind  string
	Email string
}

type recordingNotifier struct {
	mu      sync.Mutex
	otps    map[string]string
	notices []recordedNotice
	reviews []models.Assignment
	otpErr  error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{otps: make(map[string]string)}
}

func (n *recordingNotifier) SendSignupOTP(ctx context.Context, name, email, otp string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.otpErr != nil {
		return n.otpErr
	}
	n.otps[email] = otp
	return nil
}

func (n *recordingNotifier) AccountApproved(name, email string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{Kind: NotificationAccountApproved, Email: email})
}

func (n *recordingNotifier) AccountRejected(name, email string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{Kind: NotificationAccountRejected, Email: email})
}

func (n *recordingNotifier) ReviewUpdated(assignment *models.Assignment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reviews = append(n.reviews, *assignment)
}

func (n *recordingNotifier) reviewCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reviews)
}

// captureSender records mail messages.
type captureSender struct {
	mu       sync.Mutex
	messages []mail.Message
	failures int
}

func (s *captureSender) Send(ctx context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *captureSender) sent() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mail.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func principalFor(u models.User) *models.Principal {
	return &models.Principal{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Department: u.Department}
}

func strPtr(s string) *string { return &s }
