package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/middleware"
	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/internal/service"
)

func principalFromContext(c *gin.Context) *models.Principal {
	return middleware.ClaimsFromContext(c).Principal()
}

// streamFile writes an opened stored file inline.
func streamFile(c *gin.Context, file *service.FileDownload) {
	defer file.Content.Close() //nolint:errcheck
	name := strings.ReplaceAll(file.FileName, `"`, "")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", name))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, file.Size, file.ContentType, file.Content, nil)
}
