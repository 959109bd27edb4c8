package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/internal/service"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/response"
)

type professorAssignmentService interface {
	ProfessorAssignments(ctx context.Context, principal *models.Principal, tab string) ([]models.Assignment, error)
	ProfessorCounts(ctx context.Context, principal *models.Principal) (*models.ProfessorCounts, error)
	OpenFile(ctx context.Context, principal *models.Principal, contentRef string) (*service.FileDownload, error)
}

type professorReviewService interface {
	ProfessorReview(ctx context.Context, principal *models.Principal, assignmentID string, action models.ReviewAction) (*models.Assignment, error)
}

// ProfessorHandler serves the professor review queue.
type ProfessorHandler struct {
	assignments professorAssignmentService
	reviews     professorReviewService
}

// NewProfessorHandler constructs the handler.
func NewProfessorHandler(assignments professorAssignmentService, reviews professorReviewService) *ProfessorHandler {
	return &ProfessorHandler{assignments: assignments, reviews: reviews}
}

// Counts godoc
// @Summary Professor dashboard counters
// @Tags Professor
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /professor/assignments-counts [get]
func (h *ProfessorHandler) Counts(c *gin.Context) {
	counts, err := h.assignments.ProfessorCounts(c.Request.Context(), principalFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts)
}

// List godoc
// @Summary List a review tab
// @Tags Professor
// @Produce json
// @Security BearerAuth
// @Param tab path string true "pending, approved or rejected"
// @Success 200 {object} response.Envelope
// @Router /professor/assignments/{tab} [get]
func (h *ProfessorHandler) List(c *gin.Context) {
	assignments, err := h.assignments.ProfessorAssignments(c.Request.Context(), principalFromContext(c), c.Param("tab"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, map[string]interface{}{"total": len(assignments)})
}

// Review godoc
// @Summary Approve or reject an assignment
// @Tags Professor
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Param action path string true "approve or reject"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /professor/assignments/{id}/{action} [patch]
func (h *ProfessorHandler) Review(c *gin.Context) {
	action, ok := models.ParseReviewAction(c.Param("action"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject"))
		return
	}
	assignment, err := h.reviews.ProfessorReview(c.Request.Context(), principalFromContext(c), c.Param("id"), action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// File godoc
// @Summary Stream a department assignment file
// @Tags Professor
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {file} binary
// @Router /professor/assignment/file/{id} [get]
func (h *ProfessorHandler) File(c *gin.Context) {
	file, err := h.assignments.OpenFile(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file)
}
