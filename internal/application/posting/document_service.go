package posting

import (
	"context"

	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/domain/validation"
	"github.com/erp/postingengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DocumentService manages drafts before they reach the posting engine.
// It never touches stock.
type DocumentService struct {
	docRepo   trade.DocumentRepository
	stockRepo inventory.StockRowRepository
	validator Validator
	logger    *zap.Logger
}

// NewDocumentService creates a DocumentService
func NewDocumentService(
	docRepo trade.DocumentRepository,
	stockRepo inventory.StockRowRepository,
	validator Validator,
	logger *zap.Logger,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		docRepo:   docRepo,
		stockRepo: stockRepo,
		validator: validator,
		logger:    logger,
	}
}

// CreateDraft stores a new draft owned by the actor's tenant
func (s *DocumentService) CreateDraft(ctx context.Context, actor shared.Actor, in CreateDocumentInput) (*DocumentResponse, error) {
	doc, err := trade.NewDocument(actor.TenantID, actor.UserID, in.Kind, in.Number, in.Lines)
	if err != nil {
		return nil, err
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("Draft created",
		zap.String("document_id", doc.ID.String()),
		zap.String("tenant_id", doc.TenantID.String()),
		zap.String("kind", string(doc.Kind)),
		zap.Int("lines", len(doc.Lines)))

	resp := ToDocumentResponse(doc)
	return &resp, nil
}

// ReplaceLines swaps the lines of a draft
func (s *DocumentService) ReplaceLines(ctx context.Context, actor shared.Actor, documentID uuid.UUID, lines []trade.LineInput) (*DocumentResponse, error) {
	doc, err := s.docRepo.FindByIDForTenant(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if err := doc.ReplaceLines(lines); err != nil {
		return nil, err
	}
	if err := s.docRepo.SaveWithLock(ctx, doc); err != nil {
		return nil, err
	}

	resp := ToDocumentResponse(doc)
	return &resp, nil
}

// Get returns a document of the actor's tenant
func (s *DocumentService) Get(ctx context.Context, actor shared.Actor, documentID uuid.UUID) (*DocumentResponse, error) {
	doc, err := s.docRepo.FindByIDForTenant(ctx, actor.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	resp := ToDocumentResponse(doc)
	return &resp, nil
}

// Validate runs the gate over a stored document without posting it
func (s *DocumentService) Validate(ctx context.Context, actor shared.Actor, documentID uuid.UUID, mode validation.Mode) (validation.Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "document", "Validate",
		telemetry.WithAttribute(telemetry.SpanAttrDocumentID, documentID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrMode, string(mode)))
	defer span.End()

	doc, err := s.docRepo.FindByIDForTenant(ctx, actor.TenantID, documentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return validation.Result{}, err
	}
	result, _, err := s.validator.ValidateItems(ctx, validationItems(doc), mode)
	if err != nil {
		telemetry.RecordError(span, err)
		return validation.Result{}, err
	}
	telemetry.SetOK(span)
	return result, nil
}

// GetStock reads the current quantity of a product. A product that was
// never stocked reads as zero.
func (s *DocumentService) GetStock(ctx context.Context, actor shared.Actor, productID uuid.UUID) (*StockResponse, error) {
	row, err := s.stockRepo.FindByProduct(ctx, actor.TenantID, productID)
	if err != nil {
		if shared.ErrorCode(err) != shared.CodeNotFound {
			return nil, err
		}
		return &StockResponse{ProductID: productID, Quantity: decimal.Zero}, nil
	}
	resp := ToStockResponse(row)
	return &resp, nil
}
