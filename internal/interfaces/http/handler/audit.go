package handler

import (
	auditapp "github.com/erp/postingengine/internal/application/audit"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/gin-gonic/gin"
)

// AuditHandler serves the audit trail
type AuditHandler struct {
	BaseHandler
	service *auditapp.Service
}

// NewAuditHandler creates an AuditHandler
func NewAuditHandler(service *auditapp.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

// RegisterRoutes mounts the audit routes
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/audit/:subjectType/:subjectId", h.History)
}

// History godoc
// @Summary      Get the audit trail of a subject
// @Description  Returns every audit entry of a catalog entry or document, oldest first. Tenant actors see their own tenant's entries and platform entries.
// @Tags         audit
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        subjectType path string true "Subject type" Enums(catalog_entry, document)
// @Param        subjectId path string true "Subject ID" format(uuid)
// @Success      200 {object} dto.Response{data=[]auditapp.EntryResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /audit/{subjectType}/{subjectId} [get]
func (h *AuditHandler) History(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	subjectID, ok := h.pathUUID(c, "subjectId")
	if !ok {
		return
	}
	entries, err := h.service.History(c.Request.Context(), actor, audit.SubjectType(c.Param("subjectType")), subjectID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entries)
}
