package http

import (
	"net/http"
	"strings"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	"memberdash/internal/infrastructure/middleware"
	"memberdash/pkg/validation"

	"github.com/gin-gonic/gin"
)

type MemberHandler struct {
	members ports.MemberService
}

func NewMemberHandler(members ports.MemberService) *MemberHandler {
	return &MemberHandler{members: members}
}

func (h *MemberHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/members")
	{
		api.GET("", h.List)
		api.POST("", h.Create)
		api.PATCH("/:id", h.UpdateMember)
		api.PATCH("/:id/permission", h.UpdatePermission)
		api.PATCH("/:id/identity", h.UpdateIdentity)
		api.DELETE("/:id", h.Delete)
	}
}

type CreateMemberRequest struct {
	Email           string `json:"email" binding:"required,max=254"`
	Password        string `json:"password" binding:"required,max=128"`
	ConfirmPassword string `json:"confirm" binding:"required,max=128"`
	Name            string `json:"name" binding:"required,max=100"`
	Role            string `json:"role" binding:"required"`
	Status          string `json:"status" binding:"required"`
}

func (h *MemberHandler) Create(c *gin.Context) {
	var req CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validationError(err))
		return
	}

	if err := validation.ValidateCreateMember(validation.CreateMemberRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Name:            req.Name,
		Role:            req.Role,
		Status:          req.Status,
	}); err != nil {
		c.Error(validationError(err))
		return
	}

	permission, err := h.members.Create(c.Request.Context(), middleware.SessionFromContext(c), domain.CreateMemberInput{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Name:     strings.TrimSpace(req.Name),
		Role:     domain.Role(req.Role),
		Status:   domain.Status(req.Status),
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"permission": permission,
	})
}

func (h *MemberHandler) List(c *gin.Context) {
	var filter domain.ListFilter
	if name, ok := c.GetQuery("name"); ok && strings.TrimSpace(name) != "" {
		filter.Name = &name
	}

	rows, err := h.members.List(c.Request.Context(), middleware.SessionFromContext(c), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"members": rows,
		"count":   len(rows),
	})
}

func memberID(c *gin.Context) (domain.MemberID, bool) {
	id := c.Param("id")
	if err := validation.ValidateMemberID(id); err != nil {
		c.Error(validationError(validation.FieldErrors{"id": err.Error()}))
		return "", false
	}
	return domain.MemberID(id), true
}

func (h *MemberHandler) UpdateMember(c *gin.Context) {
	id, ok := memberID(c)
	if !ok {
		return
	}

	var patch domain.MemberPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.Error(validationError(err))
		return
	}
	if err := validation.ValidateMemberPatch(patch); err != nil {
		c.Error(validationError(err))
		return
	}

	if err := h.members.UpdateMember(c.Request.Context(), middleware.SessionFromContext(c), id, patch); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "updated": true})
}

func (h *MemberHandler) UpdatePermission(c *gin.Context) {
	id, ok := memberID(c)
	if !ok {
		return
	}

	var patch domain.PermissionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.Error(validationError(err))
		return
	}
	if err := validation.ValidatePermissionPatch(patch); err != nil {
		c.Error(validationError(err))
		return
	}

	if err := h.members.UpdatePermission(c.Request.Context(), middleware.SessionFromContext(c), id, patch); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "updated": true})
}

func (h *MemberHandler) UpdateIdentity(c *gin.Context) {
	id, ok := memberID(c)
	if !ok {
		return
	}

	var attrs domain.IdentityAttributes
	if err := c.ShouldBindJSON(&attrs); err != nil {
		c.Error(validationError(err))
		return
	}
	if err := validation.ValidateIdentityAttributes(attrs); err != nil {
		c.Error(validationError(err))
		return
	}

	if err := h.members.UpdateIdentity(c.Request.Context(), middleware.SessionFromContext(c), id, attrs); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "updated": true})
}

func (h *MemberHandler) Delete(c *gin.Context) {
	id, ok := memberID(c)
	if !ok {
		return
	}

	if err := h.members.Delete(c.Request.Context(), middleware.SessionFromContext(c), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
