package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/internal/service"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/response"
)

// multipartOverhead leaves room for form fields around the file part.
const multipartOverhead = 1 << 20

type studentAssignmentService interface {
	Upload(ctx context.Context, principal *models.Principal, req service.UploadRequest) (*models.Assignment, error)
	StudentSubmissions(ctx context.Context, principal *models.Principal, email string) ([]models.SubmissionView, error)
	OpenFile(ctx context.Context, principal *models.Principal, contentRef string) (*service.FileDownload, error)
}

// StudentHandler serves student submissions.
type StudentHandler struct {
	service     studentAssignmentService
	maxFileSize int64
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(service studentAssignmentService, maxFileSize int64) *StudentHandler {
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	return &StudentHandler{service: service, maxFileSize: maxFileSize}
}

// Upload godoc
// @Summary Upload an assignment PDF
// @Tags Student
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param title formData string true "Title"
// @Param assignment formData file true "PDF document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /student/upload [post]
func (h *StudentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)

	fileHeader, err := c.FormFile("assignment")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.New(appErrors.ErrValidation.Code, http.StatusRequestEntityTooLarge, "upload exceeds size limit"))
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "assignment file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	assignment, err := h.service.Upload(c.Request.Context(), principalFromContext(c), service.UploadRequest{
		Title:    c.PostForm("title"),
		FileName: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  src,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Submissions godoc
// @Summary List the caller's submissions
// @Tags Student
// @Produce json
// @Security BearerAuth
// @Param email path string true "Student email"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /student/all/{email} [get]
func (h *StudentHandler) Submissions(c *gin.Context) {
	views, err := h.service.StudentSubmissions(c.Request.Context(), principalFromContext(c), c.Param("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, map[string]interface{}{"total": len(views)})
}

// File godoc
// @Summary Stream one of the caller's files
// @Tags Student
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {file} binary
// @Router /student/file/{id} [get]
func (h *StudentHandler) File(c *gin.Context) {
	file, err := h.service.OpenFile(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file)
}
