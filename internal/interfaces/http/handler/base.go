// Package handler exposes the governance, posting and audit services over
// HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/validation"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/interfaces/http/dto"
	"github.com/erp/postingengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// retryAfterSeconds is advertised on lock timeouts that survived the
// server-side retries
const retryAfterSeconds = "1"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func requestID(c *gin.Context) string {
	return logger.GetRequestID(c.Request.Context())
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response, deriving the status from the API code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	h.write(c, dto.ErrorInfo{Code: code, Message: message})
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// BindError reports a request that failed binding. Field validation failures
// carry per-field details.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	details := middleware.ValidationDetails(err)
	if details == nil {
		h.BadRequest(c, "Invalid request body")
		return
	}
	h.write(c, dto.ErrorInfo{
		Code:    dto.ErrCodeValidation,
		Message: "Request validation failed",
		Details: details,
	})
}

// HandleError converts service errors to HTTP responses. Validation and
// stock failures carry their structured details.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var failed *validation.FailedError
	if errors.As(err, &failed) {
		h.write(c, dto.ErrorInfo{
			Code:    dto.ErrCodeValidationFailed,
			Reason:  shared.CodeValidationFailed,
			Message: "Document failed validation: " + failed.Summary(),
			Details: failed.Errors,
		})
		return
	}

	var shortfall *shared.InsufficientStockError
	if errors.As(err, &shortfall) {
		h.write(c, dto.ErrorInfo{
			Code:    dto.ErrCodeInsufficientStock,
			Reason:  shared.CodeInsufficientStock,
			Message: shortfall.Error(),
			Details: shortfall,
		})
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		if code == dto.ErrCodeLockTimeout {
			c.Header("Retry-After", retryAfterSeconds)
		}
		h.write(c, dto.ErrorInfo{Code: code, Reason: domainErr.Code, Message: domainErr.Message})
		return
	}

	logger.L(c.Request.Context()).Error("Unhandled error", zap.Error(err))
	h.write(c, dto.ErrorInfo{Code: dto.ErrCodeInternal, Message: "An unexpected error occurred"})
}

func (h *BaseHandler) write(c *gin.Context, info dto.ErrorInfo) {
	info.RequestID = requestID(c)
	c.JSON(dto.GetHTTPStatus(info.Code), dto.NewErrorResponse(info))
}

// actor returns the resolved actor or writes a 401
func (h *BaseHandler) actor(c *gin.Context) (shared.Actor, bool) {
	a, ok := middleware.GetActor(c)
	if !ok {
		h.Error(c, dto.ErrCodeUnauthorized, "Actor not resolved")
	}
	return a, ok
}

// pathUUID parses a uuid path parameter or writes a 400
func (h *BaseHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.Error(c, dto.ErrCodeInvalidInput, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
