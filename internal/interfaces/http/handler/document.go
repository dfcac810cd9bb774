package handler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/postingengine/internal/application/posting"
	validationapp "github.com/erp/postingengine/internal/application/validation"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/domain/validation"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LineRequest is one document line
type LineRequest struct {
	CatalogEntryID *string         `json:"catalog_entry_id" binding:"omitempty,uuid"`
	Description    string          `json:"description" binding:"max=500"`
	Quantity       decimal.Decimal `json:"quantity" binding:"decimal_gt0" swaggertype:"string" example:"2"`
	UnitPrice      decimal.Decimal `json:"unit_price" binding:"decimal_gte0" swaggertype:"string" example:"10.50"`
}

// CreateDocumentRequest creates a draft invoice or purchase bill
type CreateDocumentRequest struct {
	Kind   string        `json:"kind" binding:"required,oneof=invoice purchase_bill" enums:"invoice,purchase_bill"`
	Number string        `json:"number" binding:"max=50"`
	Lines  []LineRequest `json:"lines" binding:"dive"`
}

// ReplaceLinesRequest overwrites the lines of a draft
type ReplaceLinesRequest struct {
	Lines []LineRequest `json:"lines" binding:"dive"`
}

// ValidateLinesRequest validates lines without a stored document
type ValidateLinesRequest struct {
	Mode  string `json:"mode" binding:"required,oneof=draft final"`
	Lines []struct {
		CatalogEntryID *string `json:"catalog_entry_id" binding:"omitempty,uuid"`
	} `json:"lines" binding:"required,min=1,dive"`
}

// RetryPolicy bounds the server-side retry of posts that hit a lock timeout
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// DocumentHandler serves draft management, validation, posting and stock
// reads
type DocumentHandler struct {
	BaseHandler
	documents *posting.DocumentService
	poster    *posting.Service
	validator *validationapp.Service
	retry     RetryPolicy
}

// NewDocumentHandler creates a DocumentHandler
func NewDocumentHandler(
	documents *posting.DocumentService,
	poster *posting.Service,
	validator *validationapp.Service,
	retry RetryPolicy,
) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		poster:    poster,
		validator: validator,
		retry:     retry,
	}
}

// RegisterRoutes mounts the document, validation and stock routes
func (h *DocumentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	docs.POST("", h.Create)
	docs.GET("/:id", h.Get)
	docs.PUT("/:id/lines", h.ReplaceLines)
	docs.POST("/:id/validate", h.Validate)
	docs.POST("/:id/post", h.Post)

	rg.POST("/validate", h.ValidateLines)
	rg.GET("/stock/:productId", h.GetStock)
}

func toLineInputs(lines []LineRequest) []trade.LineInput {
	return lo.Map(lines, func(l LineRequest, _ int) trade.LineInput {
		return trade.LineInput{
			CatalogEntryID: parseOptionalUUID(l.CatalogEntryID),
			Description:    l.Description,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice,
		}
	})
}

// parseOptionalUUID assumes binding already checked the format
func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

// Create godoc
// @Summary      Create a draft document
// @Tags         documents
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        request body CreateDocumentRequest true "Draft invoice or purchase bill"
// @Success      201 {object} dto.Response{data=posting.DocumentResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	doc, err := h.documents.CreateDraft(c.Request.Context(), actor, posting.CreateDocumentInput{
		Kind:   trade.DocumentKind(req.Kind),
		Number: req.Number,
		Lines:  toLineInputs(req.Lines),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, doc)
}

// Get godoc
// @Summary      Get document by ID
// @Tags         documents
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        id path string true "Document ID" format(uuid)
// @Success      200 {object} dto.Response{data=posting.DocumentResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), actor, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, doc)
}

// ReplaceLines godoc
// @Summary      Replace the lines of a draft
// @Tags         documents
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        id path string true "Document ID" format(uuid)
// @Param        request body ReplaceLinesRequest true "New lines"
// @Success      200 {object} dto.Response{data=posting.DocumentResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /documents/{id}/lines [put]
func (h *DocumentHandler) ReplaceLines(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req ReplaceLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	doc, err := h.documents.ReplaceLines(c.Request.Context(), actor, id, toLineInputs(req.Lines))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, doc)
}

// Validate godoc
// @Summary      Validate a stored document
// @Description  Runs the validation gate over the document lines. The result is returned with 200 whether or not the document passes.
// @Tags         validation
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        id path string true "Document ID" format(uuid)
// @Param        mode query string false "Validation mode" Enums(draft, final) default(draft)
// @Success      200 {object} dto.Response{data=validation.Result}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /documents/{id}/validate [post]
func (h *DocumentHandler) Validate(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	mode, err := validation.ParseMode(c.Query("mode"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	result, err := h.documents.Validate(c.Request.Context(), actor, id, mode)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ValidateLines godoc
// @Summary      Validate lines that are not stored yet
// @Tags         validation
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        request body ValidateLinesRequest true "Lines and mode"
// @Success      200 {object} dto.Response{data=validation.Result}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /validate [post]
func (h *DocumentHandler) ValidateLines(c *gin.Context) {
	var req ValidateLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	mode, err := validation.ParseMode(req.Mode)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	refs := make([]validationapp.LineRef, len(req.Lines))
	for i, l := range req.Lines {
		refs[i] = validationapp.LineRef{CatalogEntryID: parseOptionalUUID(l.CatalogEntryID)}
	}
	result, err := h.validator.ValidateLines(c.Request.Context(), refs, mode)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Post godoc
// @Summary      Post a draft document
// @Description  Validates the draft in final mode, then finalizes it and applies its stock movements in one transaction. Lock timeouts and concurrency conflicts are retried with exponential backoff; every other failure is returned at once.
// @Tags         documents
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        id path string true "Document ID" format(uuid)
// @Success      200 {object} dto.Response{data=posting.PostResult}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /documents/{id}/post [post]
func (h *DocumentHandler) Post(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	attempt := 0
	var result *posting.PostResult
	err := backoff.Retry(func() error {
		attempt++
		res, err := h.poster.Post(ctx, actor, id)
		if err == nil {
			result = res
			return nil
		}
		if !shared.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logger.L(ctx).Warn("Post attempt failed, retrying",
			zap.String("document_id", id.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, h.retry.backOff(ctx))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// GetStock godoc
// @Summary      Get the stock of a product
// @Description  Returns the caller's tenant stock row. Unknown products read as zero.
// @Tags         stock
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant of the caller, required for tenant roles" format(uuid)
// @Param        X-User-ID header string true "Calling user" format(uuid)
// @Param        X-Actor-Role header string true "Role of the caller" Enums(platform_admin, platform_reviewer, tenant_admin, operator)
// @Param        productId path string true "Catalog entry ID" format(uuid)
// @Success      200 {object} dto.Response{data=posting.StockResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /stock/{productId} [get]
func (h *DocumentHandler) GetStock(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	productID, ok := h.pathUUID(c, "productId")
	if !ok {
		return
	}
	stock, err := h.documents.GetStock(c.Request.Context(), actor, productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stock)
}
