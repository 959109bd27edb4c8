package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/internal/service"
	"github.com/noah-isme/unisubmit-api/pkg/response"
)

type hodAssignmentService interface {
	HODAssignments(ctx context.Context, principal *models.Principal, tab string) ([]models.Assignment, error)
	HODCounts(ctx context.Context, principal *models.Principal) (*models.HODCounts, error)
	HODStudents(ctx context.Context, principal *models.Principal) ([]models.StudentSummary, error)
	HODStudentAssignments(ctx context.Context, principal *models.Principal, studentID string) ([]models.Assignment, error)
	OpenFile(ctx context.Context, principal *models.Principal, contentRef string) (*service.FileDownload, error)
}

type hodReviewService interface {
	HODReview(ctx context.Context, principal *models.Principal, assignmentID string, action models.ReviewAction) (*models.Assignment, error)
}

type rosterExporter interface {
	StudentRoster(ctx context.Context, principal *models.Principal, format string) (*service.ReportFile, error)
}

// HODHandler serves the head of department's second review pass.
type HODHandler struct {
	assignments hodAssignmentService
	reviews     hodReviewService
	reports     rosterExporter
}

// NewHODHandler constructs the handler.
func NewHODHandler(assignments hodAssignmentService, reviews hodReviewService, reports rosterExporter) *HODHandler {
	return &HODHandler{assignments: assignments, reviews: reviews, reports: reports}
}

// Counts godoc
// @Summary HOD dashboard counters
// @Tags HOD
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /hod/counts [get]
func (h *HODHandler) Counts(c *gin.Context) {
	counts, err := h.assignments.HODCounts(c.Request.Context(), principalFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts)
}

// List godoc
// @Summary List a HOD tab
// @Tags HOD
// @Produce json
// @Security BearerAuth
// @Param tab path string true "approved or rechecking"
// @Success 200 {object} response.Envelope
// @Router /hod/assignments/{tab} [get]
func (h *HODHandler) List(c *gin.Context) {
	assignments, err := h.assignments.HODAssignments(c.Request.Context(), principalFromContext(c), c.Param("tab"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, map[string]interface{}{"total": len(assignments)})
}

// Submit godoc
// @Summary Submit an approved assignment
// @Tags HOD
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /hod/assignments/{id}/submit [patch]
func (h *HODHandler) Submit(c *gin.Context) {
	h.review(c, models.ReviewActionSubmit)
}

// Recheck godoc
// @Summary Send an approved assignment back to its reviewer
// @Tags HOD
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /hod/assignments/{id}/recheck [patch]
func (h *HODHandler) Recheck(c *gin.Context) {
	h.review(c, models.ReviewActionRecheck)
}

func (h *HODHandler) review(c *gin.Context, action models.ReviewAction) {
	assignment, err := h.reviews.HODReview(c.Request.Context(), principalFromContext(c), c.Param("id"), action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Students godoc
// @Summary List department students with submission totals
// @Tags HOD
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /hod/students [get]
func (h *HODHandler) Students(c *gin.Context) {
	students, err := h.assignments.HODStudents(c.Request.Context(), principalFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, map[string]interface{}{"total": len(students)})
}

// StudentAssignments godoc
// @Summary Approved and submitted work of one student
// @Tags HOD
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /hod/student/{id}/assignments [get]
func (h *HODHandler) StudentAssignments(c *gin.Context) {
	assignments, err := h.assignments.HODStudentAssignments(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, map[string]interface{}{"total": len(assignments)})
}

// File godoc
// @Summary Stream a department assignment file
// @Tags HOD
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {file} binary
// @Router /hod/assignment/file/{id} [get]
func (h *HODHandler) File(c *gin.Context) {
	file, err := h.assignments.OpenFile(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file)
}

// Export godoc
// @Summary Export the department roster
// @Tags HOD
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /hod/students/export [get]
func (h *HODHandler) Export(c *gin.Context) {
	file, err := h.reports.StudentRoster(c.Request.Context(), principalFromContext(c), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.FileName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
