package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/pkg/response"
)

type accountAdminService interface {
	ListUsers(ctx context.Context) (*models.UserDirectory, error)
	ListPending(ctx context.Context) ([]models.PendingUser, error)
	ApprovePending(ctx context.Context, id string) (*models.User, error)
	RejectPending(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, actor *models.Principal, id string) error
}

// AdminHandler serves account administration.
type AdminHandler struct {
	service accountAdminService
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(service accountAdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

// Users godoc
// @Summary List active accounts grouped by role
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/users [get]
func (h *AdminHandler) Users(c *gin.Context) {
	directory, err := h.service.ListUsers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, directory)
}

// Pending godoc
// @Summary List signup requests
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/pending [get]
func (h *AdminHandler) Pending(c *gin.Context) {
	pending, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pending, map[string]interface{}{"total": len(pending)})
}

// Approve godoc
// @Summary Approve a verified signup request
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Signup request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/approve/{id} [post]
func (h *AdminHandler) Approve(c *gin.Context) {
	user, err := h.service.ApprovePending(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// Reject godoc
// @Summary Reject a signup request
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "Signup request ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/reject/{id} [delete]
func (h *AdminHandler) Reject(c *gin.Context) {
	if err := h.service.RejectPending(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete an account with its submissions and files
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/delete/{id} [delete]
func (h *AdminHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteUser(c.Request.Context(), principalFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
