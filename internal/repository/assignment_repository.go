package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/unisubmit-api/internal/models"
)

const assignmentColumns = `id, student_id, student_name, student_email, department, title, content_ref, file_name, status, reviewer_id, reviewer_name, reviewed_at, hod_id, hod_name, hod_reviewed_at, recheck_note, submitted_at, created_at, updated_at`

// AssignmentRepository provides database access for submissions and their review state.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new instance of AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a new pending submission.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.SubmittedAt.IsZero() {
		assignment.SubmittedAt = now
	}
	assignment.Status = models.AssignmentStatusPending
	assignment.CreatedAt = now
	assignment.UpdatedAt = now

	const query = `INSERT INTO assignments (id, student_id, student_name, student_email, department, title, content_ref, file_name, status, submitted_at, created_at, updated_at) VALUES (:id, :student_id, :student_name, :student_email, :department, :title, :content_ref, :file_name, :status, :submitted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// FindByID returns a submission by identifier.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by id: %w", err)
	}
	return &assignment, nil
}

// FindByContentRef returns the submission bound to a stored file.
func (r *AssignmentRepository) FindByContentRef(ctx context.Context, contentRef string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE content_ref = $1 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, contentRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by content ref: %w", err)
	}
	return &assignment, nil
}

// FindByStudentEmail returns every submission uploaded under the email.
func (r *AssignmentRepository) FindByStudentEmail(ctx context.Context, email string) ([]models.Assignment, error) {
	return r.List(ctx, models.AssignmentFilter{StudentEmail: email})
}

// FindByDepartmentAndStatus returns department submissions in any of the statuses.
func (r *AssignmentRepository) FindByDepartmentAndStatus(ctx context.Context, department string, statuses ...models.AssignmentStatus) ([]models.Assignment, error) {
	return r.List(ctx, models.AssignmentFilter{Department: department, Statuses: statuses})
}

// CountByDepartmentAndStatus counts department submissions in one status.
func (r *AssignmentRepository) CountByDepartmentAndStatus(ctx context.Context, department string, status models.AssignmentStatus) (int, error) {
	return r.Count(ctx, models.AssignmentFilter{Department: department, Statuses: []models.AssignmentStatus{status}})
}

// List returns submissions matching the filter, newest upload first.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error) {
	where, args := assignmentWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM assignments WHERE %s ORDER BY submitted_at DESC, id", assignmentColumns, where)
	assignments := make([]models.Assignment, 0)
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// Count returns how many submissions List would return for the same filter.
func (r *AssignmentRepository) Count(ctx context.Context, filter models.AssignmentFilter) (int, error) {
	where, args := assignmentWhere(filter)
	query := fmt.Sprintf("SELECT COUNT(*) FROM assignments WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count assignments: %w", err)
	}
	return total, nil
}

// ListContentRefsByStudent returns the stored file ids of a student's submissions.
func (r *AssignmentRepository) ListContentRefsByStudent(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT content_ref FROM assignments WHERE student_id = $1`
	refs := make([]string, 0)
	if err := r.db.SelectContext(ctx, &refs, query, studentID); err != nil {
		return nil, fmt.Errorf("list assignment content refs: %w", err)
	}
	return refs, nil
}

// UpdateReviewState writes the patch unconditionally and returns the stored record.
func (r *AssignmentRepository) UpdateReviewState(ctx context.Context, id string, patch models.ReviewPatch) (*models.Assignment, error) {
	if patch.Empty() {
		return r.FindByID(ctx, id)
	}
	args := []interface{}{id}
	set := reviewPatchSet(patch, &args)
	query := fmt.Sprintf("UPDATE assignments SET %s WHERE id = $1 RETURNING %s", strings.Join(set, ", "), assignmentColumns)

	var assignment models.Assignment
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&assignment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update assignment review state: %w", err)
	}
	return &assignment, nil
}

// TransitionReviewState applies the patch only when the stored record satisfies
// the guard, in a single statement. sql.ErrNoRows means the record is absent or
// the guard rejected it; callers re-read to tell the two apart.
func (r *AssignmentRepository) TransitionReviewState(ctx context.Context, id string, guard models.TransitionGuard, patch models.ReviewPatch) (*models.Assignment, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("transition assignment: empty patch")
	}
	args := []interface{}{id}
	set := reviewPatchSet(patch, &args)

	args = append(args, guard.Department)
	conditions := []string{"id = $1", fmt.Sprintf("department = $%d", len(args))}

	var allowed []string
	if len(guard.Open) > 0 {
		allowed = append(allowed, statusIn(guard.Open, &args))
	}
	if len(guard.Locked) > 0 && guard.ActorID != "" {
		locked := statusIn(guard.Locked, &args)
		args = append(args, guard.ActorID)
		allowed = append(allowed, fmt.Sprintf("(%s AND reviewer_id = $%d)", locked, len(args)))
	}
	if len(allowed) == 0 {
		return nil, sql.ErrNoRows
	}
	conditions = append(conditions, "("+strings.Join(allowed, " OR ")+")")

	query := fmt.Sprintf("UPDATE assignments SET %s WHERE %s RETURNING %s",
		strings.Join(set, ", "),
		strings.Join(conditions, " AND "),
		assignmentColumns,
	)

	var assignment models.Assignment
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&assignment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("transition assignment review state: %w", err)
	}
	return &assignment, nil
}

// DeleteAllForStudent removes every submission of a student.
func (r *AssignmentRepository) DeleteAllForStudent(ctx context.Context, studentID string) (int64, error) {
	const query = `DELETE FROM assignments WHERE student_id = $1`
	result, err := r.db.ExecContext(ctx, query, studentID)
	if err != nil {
		return 0, fmt.Errorf("delete student assignments: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check deleted assignment rows: %w", err)
	}
	return rows, nil
}

// assignmentWhere is shared by List and Count so both always agree.
func assignmentWhere(filter models.AssignmentFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.StudentEmail != "" {
		args = append(args, strings.ToLower(filter.StudentEmail))
		conditions = append(conditions, fmt.Sprintf("LOWER(student_email) = $%d", len(args)))
	}

	if len(filter.Statuses) > 0 || len(filter.OwnedStatuses) > 0 {
		var alternatives []string
		if len(filter.Statuses) > 0 {
			alternatives = append(alternatives, statusIn(filter.Statuses, &args))
		}
		if len(filter.OwnedStatuses) > 0 && filter.ReviewerID != "" {
			owned := statusIn(filter.OwnedStatuses, &args)
			args = append(args, filter.ReviewerID)
			alternatives = append(alternatives, fmt.Sprintf("(%s AND reviewer_id = $%d)", owned, len(args)))
		}
		if len(alternatives) == 0 {
			conditions = append(conditions, "FALSE")
		} else {
			conditions = append(conditions, "("+strings.Join(alternatives, " OR ")+")")
		}
	}

	return strings.Join(conditions, " AND "), args
}

func statusIn(statuses []models.AssignmentStatus, args *[]interface{}) string {
	marks := make([]string, len(statuses))
	for i, status := range statuses {
		*args = append(*args, string(status))
		marks[i] = fmt.Sprintf("$%d", len(*args))
	}
	return "status IN (" + strings.Join(marks, ", ") + ")"
}

func reviewPatchSet(patch models.ReviewPatch, args *[]interface{}) []string {
	var set []string
	add := func(column string, value interface{}) {
		*args = append(*args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(*args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ReviewerID != nil {
		add("reviewer_id", *patch.ReviewerID)
	}
	if patch.ReviewerName != nil {
		add("reviewer_name", *patch.ReviewerName)
	}
	if patch.ReviewedAt != nil {
		add("reviewed_at", *patch.ReviewedAt)
	}
	if patch.HODID != nil {
		add("hod_id", *patch.HODID)
	}
	if patch.HODName != nil {
		add("hod_name", *patch.HODName)
	}
	if patch.HODReviewedAt != nil {
		add("hod_reviewed_at", *patch.HODReviewedAt)
	}
	if patch.ClearRecheckNote {
		set = append(set, "recheck_note = NULL")
	} else if patch.RecheckNote != nil {
		add("recheck_note", *patch.RecheckNote)
	}
	add("updated_at", time.Now().UTC())
	return set
}
