package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/sanitize"
	"github.com/noah-isme/unisubmit-api/pkg/storage"
)

// Listing tabs.
const (
	TabPending    = "pending"
	TabApproved   = "approved"
	TabRejected   = "rejected"
	TabRechecking = "rechecking"
)

const (
	pdfContentType = "application/pdf"
	maxTitleLength = 200
	sniffLength    = 512
)

type assignmentStore interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	FindByContentRef(ctx context.Context, contentRef string) (*models.Assignment, error)
	FindByStudentEmail(ctx context.Context, email string) ([]models.Assignment, error)
	FindByDepartmentAndStatus(ctx context.Context, department string, statuses ...models.AssignmentStatus) ([]models.Assignment, error)
	CountByDepartmentAndStatus(ctx context.Context, department string, status models.AssignmentStatus) (int, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error)
	Count(ctx context.Context, filter models.AssignmentFilter) (int, error)
}

type assignmentUserDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListStudentsWithTotals(ctx context.Context, department string) ([]models.StudentSummary, error)
}

type downloadSigner interface {
	Generate(subject, contentID string) (string, time.Time, error)
	Parse(token string) (subject, contentID string, err error)
}

// AssignmentServiceConfig tunes upload validation.
type AssignmentServiceConfig struct {
	MaxFileSize int64
	APIPrefix   string
}

// UploadRequest carries a student's multipart submission.
type UploadRequest struct {
	Title    string
	FileName string
	Size     int64
	Content  io.Reader
}

// FileDownload is an open stored file ready to stream.
type FileDownload struct {
	Content     io.ReadCloser
	FileName    string
	ContentType string
	Size        int64
}

// DownloadLink is a short-lived URL that streams a file without a bearer token.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AssignmentService serves role scoped listings and binds uploads to stored content.
type AssignmentService struct {
	store   assignmentStore
	users   assignmentUserDirectory
	content storage.ContentStore
	signer  downloadSigner
	metrics *MetricsService
	logger  *zap.Logger
	cfg     AssignmentServiceConfig
	now     func() time.Time
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(store assignmentStore, users assignmentUserDirectory, content storage.ContentStore, signer downloadSigner, metrics *MetricsService, logger *zap.Logger, cfg AssignmentServiceConfig) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	return &AssignmentService{
		store:   store,
		users:   users,
		content: content,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func departmentFilter(principal *models.Principal, statuses ...models.AssignmentStatus) models.AssignmentFilter {
	return models.AssignmentFilter{Department: principal.Department, Statuses: statuses}
}

// professorTabFilter: the pending tab also shows rechecking work this professor reviewed.
func professorTabFilter(principal *models.Principal, tab string) (models.AssignmentFilter, error) {
	switch tab {
	case TabPending:
		filter := departmentFilter(principal, models.AssignmentStatusPending)
		filter.OwnedStatuses = []models.AssignmentStatus{models.AssignmentStatusRechecking}
		filter.ReviewerID = principal.ID
		return filter, nil
	case TabApproved:
		return departmentFilter(principal, models.AssignmentStatusApproved), nil
	case TabRejected:
		return departmentFilter(principal, models.AssignmentStatusRejected), nil
	default:
		return models.AssignmentFilter{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown tab %q", tab))
	}
}

func hodTabStatus(tab string) (models.AssignmentStatus, error) {
	switch tab {
	case TabApproved:
		return models.AssignmentStatusApproved, nil
	case TabRechecking:
		return models.AssignmentStatusRechecking, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown tab %q", tab))
	}
}

// ProfessorAssignments lists one tab of the professor's department queue.
func (s *AssignmentService) ProfessorAssignments(ctx context.Context, principal *models.Principal, tab string) ([]models.Assignment, error) {
	if err := requireRole(principal, models.RoleProfessor); err != nil {
		return nil, err
	}
	filter, err := professorTabFilter(principal, tab)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, filter)
}

// ProfessorCounts returns the professor dashboard counters.
func (s *AssignmentService) ProfessorCounts(ctx context.Context, principal *models.Principal) (*models.ProfessorCounts, error) {
	if err := requireRole(principal, models.RoleProfessor); err != nil {
		return nil, err
	}
	mine := models.AssignmentFilter{
		Department:    principal.Department,
		OwnedStatuses: []models.AssignmentStatus{models.AssignmentStatusRechecking},
		ReviewerID:    principal.ID,
	}

	counts := &models.ProfessorCounts{}
	var err error
	if counts.Pending, err = s.countStatus(ctx, principal, models.AssignmentStatusPending); err != nil {
		return nil, err
	}
	if counts.Rechecking, err = s.count(ctx, mine); err != nil {
		return nil, err
	}
	if counts.Approved, err = s.countStatus(ctx, principal, models.AssignmentStatusApproved); err != nil {
		return nil, err
	}
	if counts.Rejected, err = s.countStatus(ctx, principal, models.AssignmentStatusRejected); err != nil {
		return nil, err
	}
	counts.Reviewed = counts.Approved + counts.Rejected
	return counts, nil
}

// HODAssignments lists one tab of the HOD's department queue.
func (s *AssignmentService) HODAssignments(ctx context.Context, principal *models.Principal, tab string) ([]models.Assignment, error) {
	if err := requireRole(principal, models.RoleHOD); err != nil {
		return nil, err
	}
	status, err := hodTabStatus(tab)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.FindByDepartmentAndStatus(ctx, principal.Department, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return assignments, nil
}

// HODCounts returns the HOD dashboard counters.
func (s *AssignmentService) HODCounts(ctx context.Context, principal *models.Principal) (*models.HODCounts, error) {
	if err := requireRole(principal, models.RoleHOD); err != nil {
		return nil, err
	}
	counts := &models.HODCounts{}
	var err error
	if counts.Approved, err = s.countStatus(ctx, principal, models.AssignmentStatusApproved); err != nil {
		return nil, err
	}
	if counts.Rechecking, err = s.countStatus(ctx, principal, models.AssignmentStatusRechecking); err != nil {
		return nil, err
	}
	return counts, nil
}

// HODStudents lists the department's students with their submission totals.
func (s *AssignmentService) HODStudents(ctx context.Context, principal *models.Principal) ([]models.StudentSummary, error) {
	if err := requireRole(principal, models.RoleHOD); err != nil {
		return nil, err
	}
	students, err := s.users.ListStudentsWithTotals(ctx, principal.Department)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// HODStudentAssignments lists approved and submitted work of one student in the HOD's department.
func (s *AssignmentService) HODStudentAssignments(ctx context.Context, principal *models.Principal, studentID string) ([]models.Assignment, error) {
	if err := requireRole(principal, models.RoleHOD); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(studentID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid student id")
	}
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	if student.Department != principal.Department {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student belongs to another department")
	}
	return s.list(ctx, models.AssignmentFilter{
		StudentID: student.ID,
		Statuses:  []models.AssignmentStatus{models.AssignmentStatusApproved, models.AssignmentStatusSubmitted},
	})
}

// StudentSubmissions returns the caller's own submissions, newest first.
func (s *AssignmentService) StudentSubmissions(ctx context.Context, principal *models.Principal, email string) ([]models.SubmissionView, error) {
	if err := requireRole(principal, models.RoleStudent); err != nil {
		return nil, err
	}
	if email != "" && !strings.EqualFold(strings.TrimSpace(email), principal.Email) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own submissions")
	}
	assignments, err := s.store.FindByStudentEmail(ctx, principal.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	views := make([]models.SubmissionView, 0, len(assignments))
	for _, a := range assignments {
		views = append(views, models.NewSubmissionView(a))
	}
	return views, nil
}

// Upload stores a student's PDF and records a pending assignment for it.
func (s *AssignmentService) Upload(ctx context.Context, principal *models.Principal, req UploadRequest) (*models.Assignment, error) {
	if err := requireRole(principal, models.RoleStudent); err != nil {
		return nil, err
	}
	title := sanitize.Text(req.Title)
	if title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("title exceeds %d characters", maxTitleLength))
	}
	if req.Content == nil || req.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignment file is required")
	}
	if req.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(req.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	head = head[:n]
	if contentType := http.DetectContentType(head); contentType != pdfContentType {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only PDF files are accepted")
	}

	student, err := s.users.FindByID(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	fileName := cleanFileName(req.FileName)
	body := &sizeLimitedReader{r: io.MultiReader(bytes.NewReader(head), req.Content), remaining: s.cfg.MaxFileSize}
	contentRef, err := s.content.Put(ctx, fmt.Sprintf("%d-%s", s.now().UnixMilli(), fileName), body, map[string]string{
		storage.MetaEmail:       strings.ToLower(student.Email),
		storage.MetaTitle:       title,
		storage.MetaStudentID:   student.ID,
		storage.MetaContentType: pdfContentType,
	})
	if err != nil {
		if body.exceeded {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to store assignment file")
	}

	assignment := &models.Assignment{
		StudentID:    student.ID,
		StudentName:  student.Name,
		StudentEmail: student.Email,
		Department:   student.Department,
		Title:        title,
		ContentRef:   contentRef,
		FileName:     fileName,
		SubmittedAt:  s.now(),
	}
	if err := s.store.Create(ctx, assignment); err != nil {
		if delErr := s.content.Delete(ctx, contentRef); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("content_ref", contentRef), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record assignment")
	}

	s.metrics.ObserveUpload(req.Size)
	s.logger.Info("assignment uploaded",
		zap.String("assignment_id", assignment.ID),
		zap.String("student_id", student.ID),
		zap.String("department", student.Department),
	)
	return assignment, nil
}

// OpenFile authorises the caller against the owning assignment and opens the stored file.
func (s *AssignmentService) OpenFile(ctx context.Context, principal *models.Principal, contentRef string) (*FileDownload, error) {
	if err := s.authorizeFile(ctx, principal, contentRef); err != nil {
		return nil, err
	}
	return s.open(ctx, contentRef)
}

// DownloadLink issues a signed URL for a file the caller may read.
func (s *AssignmentService) DownloadLink(ctx context.Context, principal *models.Principal, contentRef string) (*DownloadLink, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "download links are disabled")
	}
	if err := s.authorizeFile(ctx, principal, contentRef); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(principal.ID, contentRef)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &DownloadLink{
		URL:       fmt.Sprintf("%s/files/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenSigned opens the file referenced by a signed download token.
func (s *AssignmentService) OpenSigned(ctx context.Context, token string) (*FileDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "download links are disabled")
	}
	_, contentRef, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download link")
	}
	return s.open(ctx, contentRef)
}

func (s *AssignmentService) authorizeFile(ctx context.Context, principal *models.Principal, contentRef string) error {
	if principal == nil {
		return appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(contentRef) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "file id is required")
	}
	assignment, err := s.store.FindByContentRef(ctx, contentRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	switch principal.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if assignment.StudentID != principal.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "students may only open their own files")
		}
	case models.RoleProfessor, models.RoleHOD:
		if assignment.Department != principal.Department {
			return appErrors.Clone(appErrors.ErrForbidden, "file belongs to another department")
		}
	default:
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *AssignmentService) open(ctx context.Context, contentRef string) (*FileDownload, error) {
	rc, desc, err := s.content.Get(ctx, contentRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to open stored file")
	}
	contentType := desc.ContentType
	if contentType == "" {
		contentType = pdfContentType
	}
	return &FileDownload{Content: rc, FileName: desc.Name, ContentType: contentType, Size: desc.Size}, nil
}

func (s *AssignmentService) list(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error) {
	assignments, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return assignments, nil
}

func (s *AssignmentService) count(ctx context.Context, filter models.AssignmentFilter) (int, error) {
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count assignments")
	}
	return total, nil
}

func (s *AssignmentService) countStatus(ctx context.Context, principal *models.Principal, status models.AssignmentStatus) (int, error) {
	total, err := s.store.CountByDepartmentAndStatus(ctx, principal.Department, status)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count assignments")
	}
	return total, nil
}

func requireRole(principal *models.Principal, role models.UserRole) error {
	if principal == nil {
		return appErrors.ErrUnauthorized
	}
	if principal.Role != role {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s access required", role))
	}
	return nil
}

func cleanFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = sanitize.Text(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '"' || r == '/' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." {
		return "assignment.pdf"
	}
	return name
}

// sizeLimitedReader fails once more than remaining bytes are read.
type sizeLimitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *sizeLimitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, errors.New("upload exceeds size limit")
	}
	return n, err
}
