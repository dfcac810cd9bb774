package handler

import (
	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/interfaces/http/dto"
	"github.com/erp/postingengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// SubmitEntryRequest links a product name to the shared catalog
type SubmitEntryRequest struct {
	DisplayName        string  `json:"display_name" binding:"required,max=200" example:"Steel Bolt M8"`
	ClassificationCode *string `json:"classification_code" binding:"omitempty,max=32" example:"VAT-STD"`
}

// ReviewEntryRequest is a reviewer's decision on a pending entry
type ReviewEntryRequest struct {
	Decision           string  `json:"decision" binding:"required,oneof=approve reject" enums:"approve,reject" example:"approve"`
	ClassificationCode *string `json:"classification_code" binding:"omitempty,max=32" example:"VAT-STD"`
	RejectionReason    *string `json:"rejection_reason" binding:"omitempty,max=500" example:"duplicate of an existing product"`
}

// ListEntriesQuery filters the catalog by governance status
type ListEntriesQuery struct {
	dto.ListQuery
	Status  string `form:"status" binding:"omitempty,oneof=pending approved rejected"`
	OrderBy string `form:"order_by" binding:"omitempty,oneof=created_at updated_at display_name reviewed_at"`
}

// CatalogHandler serves catalog governance endpoints
type CatalogHandler struct {
	BaseHandler
	service *governance.Service
}

// NewCatalogHandler creates a CatalogHandler
func NewCatalogHandler(service *governance.Service) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// RegisterRoutes mounts the catalog routes. Reviews are restricted to
// platform reviewers.
func (h *CatalogHandler) RegisterRoutes(rg *gin.RouterGroup) {
	entries := rg.Group("/catalog/entries")
	entries.POST("", h.Submit)
	entries.GET("", h.List)
	entries.GET("/:id", h.Get)
	entries.POST("/:id/review",
		middleware.RequireRole(shared.RolePlatformAdmin, shared.RolePlatformReviewer),
		h.Review)

	rg.GET("/classification-codes", h.ListClassificationCodes)
}

// Submit godoc
// @Summary      Submit a product to the catalog
// @Description  Links a product name to the shared catalog. An equivalent existing entry is returned with 200; a new one with 201.
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        request body SubmitEntryRequest true "Product to submit"
// @Success      200 {object} dto.Response{data=governance.SubmitResult}
// @Success      201 {object} dto.Response{data=governance.SubmitResult}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /catalog/entries [post]
func (h *CatalogHandler) Submit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req SubmitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), actor, governance.SubmitInput{
		DisplayName:        req.DisplayName,
		ClassificationCode: req.ClassificationCode,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Created {
		h.Created(c, result)
		return
	}
	h.Success(c, result)
}

// List godoc
// @Summary      List catalog entries by status
// @Description  Returns one page of entries in a governance status, the pending review queue by default
// @Tags         catalog
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        status query string false "Governance status" Enums(pending, approved, rejected) default(pending)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Param        order_by query string false "Sort field" Enums(created_at, updated_at, display_name, reviewed_at)
// @Param        order_dir query string false "Sort direction" Enums(asc, desc)
// @Success      200 {object} dto.Response{data=[]governance.CatalogEntryResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /catalog/entries [get]
func (h *CatalogHandler) List(c *gin.Context) {
	var q ListEntriesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	status := catalog.StatusPending
	if q.Status != "" {
		status = catalog.Status(q.Status)
	}

	filter := shared.DefaultFilter()
	filter.Page = q.Page
	filter.PageSize = q.PageSize
	if q.OrderBy != "" {
		filter.OrderBy = q.OrderBy
	}
	if q.OrderDir != "" {
		filter.OrderDir = q.OrderDir
	}

	page, err := h.service.ListByStatus(c.Request.Context(), status, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get godoc
// @Summary      Get catalog entry by ID
// @Tags         catalog
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        id path string true "Catalog entry ID" format(uuid)
// @Success      200 {object} dto.Response{data=governance.CatalogEntryResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /catalog/entries/{id} [get]
func (h *CatalogHandler) Get(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// Review godoc
// @Summary      Review a pending catalog entry
// @Description  Approves or rejects a pending entry. Platform reviewers only. Of two concurrent reviews exactly one succeeds; the other gets 409 and is recorded in the audit trail.
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        id path string true "Catalog entry ID" format(uuid)
// @Param        request body ReviewEntryRequest true "Review decision"
// @Success      200 {object} dto.Response{data=governance.CatalogEntryResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /catalog/entries/{id}/review [post]
func (h *CatalogHandler) Review(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req ReviewEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	entry, err := h.service.Review(c.Request.Context(), actor, id, governance.ReviewInput{
		Decision:           governance.Decision(req.Decision),
		ClassificationCode: req.ClassificationCode,
		RejectionReason:    req.RejectionReason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// ListClassificationCodes godoc
// @Summary      List classification codes
// @Tags         catalog
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        active query boolean false "Only active codes"
// @Success      200 {object} dto.Response{data=[]governance.ClassificationCodeResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /classification-codes [get]
func (h *CatalogHandler) ListClassificationCodes(c *gin.Context) {
	codes, err := h.service.ListClassificationCodes(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, codes)
}
