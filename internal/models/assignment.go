package models

import (
	"strings"
	"time"
)

// AssignmentStatus captures the review lifecycle of a submission.
type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusApproved   AssignmentStatus = "approved"
	AssignmentStatusRejected   AssignmentStatus = "rejected"
	AssignmentStatusRechecking AssignmentStatus = "rechecking"
	AssignmentStatusSubmitted  AssignmentStatus = "submitted"
)

// AssignmentStatuses lists every representable status.
var AssignmentStatuses = []AssignmentStatus{
	AssignmentStatusPending,
	AssignmentStatusApproved,
	AssignmentStatusRejected,
	AssignmentStatusRechecking,
	AssignmentStatusSubmitted,
}

// Valid reports whether the status is one of the enumerated values.
func (s AssignmentStatus) Valid() bool {
	for _, candidate := range AssignmentStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// ParseAssignmentStatus converts a raw value into a status.
func ParseAssignmentStatus(raw string) (AssignmentStatus, bool) {
	status := AssignmentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// Assignment is one student's submitted work item plus its review state.
type Assignment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"studentId"`
	StudentName   string           `db:"student_name" json:"studentName"`
	StudentEmail  string           `db:"student_email" json:"studentEmail"`
	Department    string           `db:"department" json:"department"`
	Title         string           `db:"title" json:"title"`
	ContentRef    string           `db:"content_ref" json:"fileUrl"`
	FileName      string           `db:"file_name" json:"fileName"`
	Status        AssignmentStatus `db:"status" json:"status"`
	ReviewerID    *string          `db:"reviewer_id" json:"reviewerId,omitempty"`
	ReviewerName  *string          `db:"reviewer_name" json:"reviewerName,omitempty"`
	ReviewedAt    *time.Time       `db:"reviewed_at" json:"reviewedAt,omitempty"`
	HODID         *string          `db:"hod_id" json:"hodId,omitempty"`
	HODName       *string          `db:"hod_name" json:"hodName,omitempty"`
	HODReviewedAt *time.Time       `db:"hod_reviewed_at" json:"hodReviewedAt,omitempty"`
	RecheckNote   *string          `db:"recheck_note" json:"recheckNote,omitempty"`
	SubmittedAt   time.Time        `db:"submitted_at" json:"submittedAt"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// ReviewedBy reports whether the given professor holds the reviewer lock.
func (a *Assignment) ReviewedBy(userID string) bool {
	return a.ReviewerID != nil && *a.ReviewerID != "" && *a.ReviewerID == userID
}

// AssignmentFilter constrains listing and counting queries. A record matches
// when its status is in Statuses, or its status is in OwnedStatuses and its
// reviewer equals ReviewerID.
type AssignmentFilter struct {
	Department    string
	StudentID     string
	StudentEmail  string
	Statuses      []AssignmentStatus
	OwnedStatuses []AssignmentStatus
	ReviewerID    string
}

// Matches evaluates the filter against a record in memory.
func (f AssignmentFilter) Matches(a *Assignment) bool {
	if a == nil {
		return false
	}
	if f.Department != "" && a.Department != f.Department {
		return false
	}
	if f.StudentID != "" && a.StudentID != f.StudentID {
		return false
	}
	if f.StudentEmail != "" && !strings.EqualFold(a.StudentEmail, f.StudentEmail) {
		return false
	}
	if len(f.Statuses) == 0 && len(f.OwnedStatuses) == 0 {
		return true
	}
	if containsStatus(f.Statuses, a.Status) {
		return true
	}
	return containsStatus(f.OwnedStatuses, a.Status) && a.ReviewedBy(f.ReviewerID)
}

// ReviewPatch lists the review-state columns a transition writes. Nil fields
// are left untouched.
type ReviewPatch struct {
	Status        *AssignmentStatus
	ReviewerID    *string
	ReviewerName  *string
	ReviewedAt    *time.Time
	HODID         *string
	HODName       *string
	HODReviewedAt *time.Time
	RecheckNote   *string
	// ClearRecheckNote nulls the note; it wins over RecheckNote.
	ClearRecheckNote bool
}

// Empty reports whether the patch writes nothing.
func (p ReviewPatch) Empty() bool {
	return p.Status == nil && p.ReviewerID == nil && p.ReviewerName == nil && p.ReviewedAt == nil &&
		p.HODID == nil && p.HODName == nil && p.HODReviewedAt == nil && p.RecheckNote == nil && !p.ClearRecheckNote
}

// Apply writes the patch onto a record in memory.
func (p ReviewPatch) Apply(a *Assignment) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.ReviewerID != nil {
		a.ReviewerID = p.ReviewerID
	}
	if p.ReviewerName != nil {
		a.ReviewerName = p.ReviewerName
	}
	if p.ReviewedAt != nil {
		a.ReviewedAt = p.ReviewedAt
	}
	if p.HODID != nil {
		a.HODID = p.HODID
	}
	if p.HODName != nil {
		a.HODName = p.HODName
	}
	if p.HODReviewedAt != nil {
		a.HODReviewedAt = p.HODReviewedAt
	}
	if p.ClearRecheckNote {
		a.RecheckNote = nil
	} else if p.RecheckNote != nil {
		a.RecheckNote = p.RecheckNote
	}
}

// TransitionGuard is the precondition of an atomic review-state update. The
// stored record must belong to Department and either sit in an open status,
// or sit in a locked status while reviewed by ActorID.
type TransitionGuard struct {
	Department string
	Open       []AssignmentStatus
	Locked     []AssignmentStatus
	ActorID    string
}

// Permits evaluates the guard against the current record.
func (g TransitionGuard) Permits(a *Assignment) bool {
	if a == nil || a.Department != g.Department {
		return false
	}
	if containsStatus(g.Open, a.Status) {
		return true
	}
	return containsStatus(g.Locked, a.Status) && a.ReviewedBy(g.ActorID)
}

func containsStatus(list []AssignmentStatus, status AssignmentStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// SubmissionView is a student's own history row.
type SubmissionView struct {
	ID                   string           `json:"id"`
	AssignmentID         string           `json:"assignmentId"`
	FileName             string           `json:"filename"`
	Title                string           `json:"title"`
	Status               AssignmentStatus `json:"status"`
	ReviewerName         string           `json:"reviewerName"`
	RecheckNote          string           `json:"recheckNote,omitempty"`
	SubmittedAt          time.Time        `json:"submittedAt"`
	SubmittedAtFormatted string           `json:"submittedAtFormatted"`
}

// NewSubmissionView renders the student facing row for an assignment.
func NewSubmissionView(a Assignment) SubmissionView {
	view := SubmissionView{
		ID:                   a.ContentRef,
		AssignmentID:         a.ID,
		FileName:             a.FileName,
		Title:                a.Title,
		Status:               a.Status,
		ReviewerName:         UnknownReviewer,
		SubmittedAt:          a.SubmittedAt,
		SubmittedAtFormatted: a.SubmittedAt.Format("2 Jan 2006"),
	}
	if a.ReviewerName != nil && *a.ReviewerName != "" {
		view.ReviewerName = *a.ReviewerName
	}
	if a.RecheckNote != nil {
		view.RecheckNote = *a.RecheckNote
	}
	return view
}

// UnknownReviewer is shown while no professor has reviewed a submission.
const UnknownReviewer = "N/A"

// ProfessorCounts summarises a professor's department queue.
type ProfessorCounts struct {
	Pending    int `json:"pending"`
	Rechecking int `json:"rechecking"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Reviewed   int `json:"reviewed"`
}

// HODCounts summarises a HOD's department queue.
type HODCounts struct {
	Approved   int `json:"approved"`
	Rechecking int `json:"rechecking"`
}
