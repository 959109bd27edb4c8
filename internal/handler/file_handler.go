package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/internal/service"
	"github.com/noah-isme/unisubmit-api/pkg/response"
)

type fileLinkService interface {
	DownloadLink(ctx context.Context, principal *models.Principal, contentRef string) (*service.DownloadLink, error)
	OpenSigned(ctx context.Context, token string) (*service.FileDownload, error)
}

// FileHandler issues and serves signed download links.
type FileHandler struct {
	service fileLinkService
}

// NewFileHandler constructs the handler.
func NewFileHandler(service fileLinkService) *FileHandler {
	return &FileHandler{service: service}
}

// Link godoc
// @Summary Issue a short-lived download link
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /files/link/{id} [get]
func (h *FileHandler) Link(c *gin.Context) {
	link, err := h.service.DownloadLink(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link)
}

// Download godoc
// @Summary Stream a file through a signed link
// @Tags Files
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /files/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	file, err := h.service.OpenSigned(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file)
}
