package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/unisubmit-api/internal/models"
)

var assignmentColumnNames = []string{"id", "student_id", "student_name", "student_email", "department", "title", "content_ref", "file_name", "status", "reviewer_id", "reviewer_name", "reviewed_at", "hod_id", "hod_name", "hod_reviewed_at", "recheck_note", "submitted_at", "created_at", "updated_at"}

func assignmentRows(now time.Time, status models.AssignmentStatus, reviewerID interface{}) *sqlmock.Rows {
	var reviewerName, reviewedAt interface{}
	if reviewerID != nil {
		reviewerName = "Prof. Rao"
		reviewedAt = now
	}
	return sqlmock.NewRows(assignmentColumnNames).
		AddRow("a-1", "s-1", "Ana", "ana@uni.edu", "cs", "Essay", "file-1", "essay.pdf", string(status), reviewerID, reviewerName, reviewedAt, nil, nil, nil, nil, now, now, now)
}

func TestAssignmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectExec("INSERT INTO assignments").
		WithArgs(sqlmock.AnyArg(), "s-1", "Ana", "ana@uni.edu", "cs", "Essay", "file-1", "essay.pdf", "pending", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	a := &models.Assignment{StudentID: "s-1", StudentName: "Ana", StudentEmail: "ana@uni.edu", Department: "cs", Title: "Essay", ContentRef: "file-1", FileName: "essay.pdf", Status: models.AssignmentStatusApproved}
	require.NoError(t, repo.Create(context.Background(), a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, models.AssignmentStatusPending, a.Status)
	assert.False(t, a.SubmittedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments WHERE id = $1 LIMIT 1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryListAndCountShareFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	filter := models.AssignmentFilter{
		Department:    "cs",
		Statuses:      []models.AssignmentStatus{models.AssignmentStatusPending},
		OwnedStatuses: []models.AssignmentStatus{models.AssignmentStatusRechecking},
		ReviewerID:    "p-1",
	}
	where := "WHERE 1=1 AND department = $1 AND (status IN ($2) OR (status IN ($3) AND reviewer_id = $4))"
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+assignmentColumns+" FROM assignments "+where+" ORDER BY submitted_at DESC, id")).
		WithArgs("cs", "pending", "rechecking", "p-1").
		WillReturnRows(assignmentRows(now, models.AssignmentStatusRechecking, "p-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM assignments "+where)).
		WithArgs("cs", "pending", "rechecking", "p-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.AssignmentStatusRechecking, list[0].Status)
	require.NotNil(t, list[0].ReviewerID)
	assert.Equal(t, "p-1", *list[0].ReviewerID)

	total, err := repo.Count(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, len(list), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentWhere(t *testing.T) {
	where, args := assignmentWhere(models.AssignmentFilter{})
	assert.Equal(t, "1=1", where)
	assert.Empty(t, args)

	where, args = assignmentWhere(models.AssignmentFilter{StudentEmail: "Ana@Uni.edu"})
	assert.Equal(t, "1=1 AND LOWER(student_email) = $1", where)
	assert.Equal(t, []interface{}{"ana@uni.edu"}, args)

	where, args = assignmentWhere(models.AssignmentFilter{Department: "cs", OwnedStatuses: []models.AssignmentStatus{models.AssignmentStatusRechecking}})
	assert.Equal(t, "1=1 AND department = $1 AND FALSE", where)
	assert.Equal(t, []interface{}{"cs"}, args)

	where, _ = assignmentWhere(models.AssignmentFilter{Department: "cs", Statuses: []models.AssignmentStatus{models.AssignmentStatusApproved, models.AssignmentStatusSubmitted}})
	assert.Equal(t, "1=1 AND department = $1 AND (status IN ($2, $3))", where)
}

func TestAssignmentRepositoryTransitionReviewState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	now := time.Now().UTC()
	approved := models.AssignmentStatusApproved
	reviewerID, reviewerName := "p-1", "Prof. Rao"
	patch := models.ReviewPatch{Status: &approved, ReviewerID: &reviewerID, ReviewerName: &reviewerName, ReviewedAt: &now, ClearRecheckNote: true}
	guard := models.TransitionGuard{
		Department: "cs",
		Open:       []models.AssignmentStatus{models.AssignmentStatusPending},
		Locked:     []models.AssignmentStatus{models.AssignmentStatusRejected, models.AssignmentStatusRechecking},
		ActorID:    "p-1",
	}

	query := "UPDATE assignments SET status = $2, reviewer_id = $3, reviewer_name = $4, reviewed_at = $5, recheck_note = NULL, updated_at = $6 " +
		"WHERE id = $1 AND department = $7 AND (status IN ($8) OR (status IN ($9, $10) AND reviewer_id = $11)) RETURNING " + assignmentColumns
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("a-1", "approved", "p-1", "Prof. Rao", now, sqlmock.AnyArg(), "cs", "pending", "rejected", "rechecking", "p-1").
		WillReturnRows(assignmentRows(now, models.AssignmentStatusApproved, "p-1"))

	updated, err := repo.TransitionReviewState(context.Background(), "a-1", guard, patch)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusApproved, updated.Status)
	require.NotNil(t, updated.ReviewerName)
	assert.Equal(t, "Prof. Rao", *updated.ReviewerName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryTransitionGuardRejects(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	submitted := models.AssignmentStatusSubmitted
	guard := models.TransitionGuard{Department: "cs", Open: []models.AssignmentStatus{models.AssignmentStatusApproved}}

	mock.ExpectQuery("UPDATE assignments SET status = \\$2").
		WillReturnRows(sqlmock.NewRows(assignmentColumnNames))

	_, err := repo.TransitionReviewState(context.Background(), "a-1", guard, models.ReviewPatch{Status: &submitted})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryDeleteAllForStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM assignments WHERE student_id = $1")).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteAllForStudent(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryScopedHelpers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments WHERE 1=1 AND LOWER(student_email) = $1 ORDER BY submitted_at DESC, id")).
		WithArgs("ana@uni.edu").
		WillReturnRows(assignmentRows(now, models.AssignmentStatusPending, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM assignments WHERE 1=1 AND department = $1 AND (status IN ($2))")).
		WithArgs("cs", "approved").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	mine, err := repo.FindByStudentEmail(context.Background(), "Ana@Uni.edu")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Nil(t, mine[0].ReviewerID)

	total, err := repo.CountByDepartmentAndStatus(context.Background(), "cs", models.AssignmentStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryUpdateReviewState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	note := "cite sources"
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE assignments SET recheck_note = $2, updated_at = $3 WHERE id = $1 RETURNING "+assignmentColumns)).
		WithArgs("a-1", note, sqlmock.AnyArg()).
		WillReturnRows(assignmentRows(time.Now(), models.AssignmentStatusRechecking, "p-1"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE assignments SET recheck_note = $2")).
		WithArgs("missing", note, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	updated, err := repo.UpdateReviewState(context.Background(), "a-1", models.ReviewPatch{RecheckNote: &note})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusRechecking, updated.Status)

	_, err = repo.UpdateReviewState(context.Background(), "missing", models.ReviewPatch{RecheckNote: &note})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
