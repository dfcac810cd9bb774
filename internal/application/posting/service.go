package posting

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	auditapp "github.com/erp/postingengine/internal/application/audit"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/domain/validation"
	"github.com/erp/postingengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Validator runs the validation gate against current catalog state
type Validator interface {
	ValidateItems(ctx context.Context, items []validation.Item, mode validation.Mode) (validation.Result, *validation.Snapshot, error)
}

// AuditRecorder appends audit entries outside a business transaction
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// Outcome labels for posting metrics
const (
	OutcomeSucceeded         = "succeeded"
	OutcomeValidationFailed  = "validation_failed"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeLockTimeout       = "lock_timeout"
	OutcomeConflict          = "conflict"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeError             = "error"
)

// Service is the posting engine: the only code that changes stock rows and
// moves documents from draft to finalized
type Service struct {
	docRepo        trade.DocumentRepository
	stockRepo      inventory.StockRowRepository
	recorder       AuditRecorder
	validator      Validator
	txScope        TransactionScope
	eventPublisher shared.EventPublisher
	metrics        *telemetry.EngineMetrics
	logger         *zap.Logger
}

// NewService creates a posting Service
func NewService(
	docRepo trade.DocumentRepository,
	stockRepo inventory.StockRowRepository,
	auditRepo audit.Repository,
	validator Validator,
	txScope TransactionScope,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		docRepo:   docRepo,
		stockRepo: stockRepo,
		recorder:  auditapp.NewService(auditRepo, logger),
		validator: validator,
		txScope:   txScope,
		logger:    logger,
	}
}

// SetEventPublisher sets the notification sink
func (s *Service) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the metrics recorder
func (s *Service) SetMetrics(m *telemetry.EngineMetrics) {
	s.metrics = m
}

// SetAuditRecorder sets where rejected and aborted posts are audited. The
// default appends straight to the audit repository.
func (s *Service) SetAuditRecorder(r AuditRecorder) {
	s.recorder = r
}

// Post validates a draft in final mode and, if it passes, finalizes it and
// applies its stock movements in one transaction.
//
// Stock rows are locked in ascending product id order so two posts sharing
// products always wait on each other in the same order. Every row is checked
// before any is written: a shortfall on one product aborts the whole
// document. Lock timeouts and version conflicts come back as retryable
// errors; retrying is the caller's decision.
func (s *Service) Post(ctx context.Context, actor shared.Actor, documentID uuid.UUID) (*PostResult, error) {
	started := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "posting", "Post",
		telemetry.WithAttribute(telemetry.SpanAttrDocumentID, documentID.String()))
	defer span.End()

	doc, err := s.docRepo.FindByIDForTenant(ctx, actor.TenantID, documentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	kind := string(doc.Kind)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrDocumentKind, kind,
		telemetry.SpanAttrLineCount, len(doc.Lines))

	if !doc.IsDraft() {
		err := shared.ErrInvalidTransition.WithMessage("Document is already " + doc.State.String())
		s.finish(ctx, span, kind, started, err)
		return nil, err
	}

	result, snapshot, err := s.validator.ValidateItems(ctx, validationItems(doc), validation.ModeFinal)
	if err != nil {
		s.finish(ctx, span, kind, started, err)
		return nil, err
	}
	if !result.OK {
		failed := validation.NewFailedError(doc.ID, result)
		s.recordFailure(ctx, actor, doc, audit.ActionPostRejected, failed)
		s.finish(ctx, span, kind, started, failed)
		return nil, failed
	}

	rates := make(map[uuid.UUID]decimal.Decimal)
	for _, line := range doc.Lines {
		if line.IsLinked() {
			rates[*line.CatalogEntryID] = snapshot.Rate(*line.CatalogEntryID)
		}
	}

	var posted *trade.Document
	var movements []trade.StockMovement
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		locked, err := repos.Documents().LockForUpdate(ctx, actor.TenantID, doc.ID)
		if err != nil {
			return err
		}
		if !locked.IsDraft() {
			return shared.ErrInvalidTransition.WithMessage("Document was posted concurrently")
		}
		if locked.Version != doc.Version {
			return shared.ErrConcurrencyConflict.WithMessage("Document changed after it was validated")
		}

		movements, err = applyStock(ctx, repos.StockRows(), locked)
		if err != nil {
			return err
		}
		telemetry.SetAttributes(span, telemetry.SpanAttrLockCount, len(movements))

		if err := locked.Finalize(actor.UserID, rates, movements); err != nil {
			return err
		}
		if err := repos.Documents().SaveWithLock(ctx, locked); err != nil {
			return err
		}

		record, err := audit.NewEntry(audit.SubjectDocument, locked.ID, audit.ActionPostSucceeded)
		if err != nil {
			return err
		}
		record.By(actor).
			ForTenant(&locked.TenantID).
			Transition(trade.DocumentStateDraft.String(), locked.State.String())
		if err := repos.AuditEntries().Create(ctx, record); err != nil {
			return err
		}

		posted = locked
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, actor, doc, audit.ActionPostAborted, err)
		s.finish(ctx, span, kind, started, err)
		return nil, err
	}

	s.finish(ctx, span, kind, started, nil)
	s.logger.Info("Document posted",
		zap.String("document_id", posted.ID.String()),
		zap.String("tenant_id", posted.TenantID.String()),
		zap.String("kind", kind),
		zap.Int("movements", len(movements)))

	s.publishDomainEvents(ctx, posted)

	return &PostResult{Document: ToDocumentResponse(posted), Movements: movements}, nil
}

// applyStock locks the rows a document touches in sorted order, checks them
// all, then writes them. Invoices take stock out; purchase bills put it in,
// creating rows that do not exist yet.
func applyStock(ctx context.Context, rows inventory.StockRowRepository, doc *trade.Document) ([]trade.StockMovement, error) {
	demand := doc.StockDemand()
	productIDs := lo.Keys(demand)
	slices.SortFunc(productIDs, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	consumes := doc.Kind.ConsumesStock()
	locked := make([]*inventory.StockRow, 0, len(productIDs))
	for _, productID := range productIDs {
		var row *inventory.StockRow
		var err error
		if consumes {
			row, err = rows.LockForUpdate(ctx, doc.TenantID, productID)
			if errors.Is(err, shared.ErrNotFound) {
				return nil, shared.NewInsufficientStockError(productID, demand[productID], decimal.Zero)
			}
		} else {
			row, err = rows.LockOrCreateForUpdate(ctx, doc.TenantID, productID)
		}
		if err != nil {
			return nil, err
		}
		locked = append(locked, row)
	}

	if consumes {
		for i, row := range locked {
			if qty := demand[productIDs[i]]; !row.CanCover(qty) {
				return nil, shared.NewInsufficientStockError(row.ProductID, qty, row.Quantity)
			}
		}
	}

	movements := make([]trade.StockMovement, 0, len(locked))
	for i, row := range locked {
		qty := demand[productIDs[i]]
		delta := qty
		var err error
		if consumes {
			delta = qty.Neg()
			err = row.Decrease(qty)
		} else {
			err = row.Increase(qty)
		}
		if err != nil {
			return nil, err
		}
		if err := rows.Save(ctx, row); err != nil {
			return nil, err
		}
		movements = append(movements, trade.StockMovement{
			ProductID: row.ProductID,
			Delta:     delta,
			After:     row.Quantity,
		})
	}
	return movements, nil
}

func validationItems(doc *trade.Document) []validation.Item {
	return lo.Map(doc.Lines, func(l trade.LineItem, _ int) validation.Item {
		id := l.ID
		return validation.Item{LineID: &id, CatalogEntryID: l.CatalogEntryID}
	})
}

// recordFailure audits a rejected or aborted post. It runs after the
// rollback, outside any transaction, and only logs its own errors.
func (s *Service) recordFailure(ctx context.Context, actor shared.Actor, doc *trade.Document, action audit.Action, cause error) {
	ctx = context.WithoutCancel(ctx)

	note := cause.Error()
	var failed *validation.FailedError
	if errors.As(cause, &failed) {
		note = failed.Summary()
	}

	record, err := audit.NewEntry(audit.SubjectDocument, doc.ID, action)
	if err != nil {
		s.logger.Error("Failed to build posting audit entry", zap.Error(err))
		return
	}
	record.By(actor).
		ForTenant(&doc.TenantID).
		Transition(doc.State.String(), doc.State.String()).
		Because(shared.ErrorCode(cause), note)
	if err := s.recorder.Record(ctx, record); err != nil {
		s.logger.Error("Failed to audit posting failure",
			zap.String("document_id", doc.ID.String()),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, kind string, started time.Time, err error) {
	outcome := outcomeOf(err)
	s.metrics.RecordPost(ctx, kind, outcome, time.Since(started))
	telemetry.SetAttributes(span, "posting.outcome", outcome)
	if err == nil {
		telemetry.SetOK(span)
		return
	}
	telemetry.RecordError(span, err)
	if outcome == OutcomeError {
		s.logger.Error("Posting failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	s.logger.Info("Posting refused", zap.String("kind", kind), zap.String("outcome", outcome), zap.Error(err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, shared.ErrValidationFailed):
		return OutcomeValidationFailed
	case errors.Is(err, shared.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, shared.ErrLockTimeout):
		return OutcomeLockTimeout
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return OutcomeConflict
	case errors.Is(err, shared.ErrInvalidTransition):
		return OutcomeInvalidTransition
	default:
		return OutcomeError
	}
}

// publishDomainEvents hands the document's events to the notification sink.
// Failures are logged; they never undo the committed posting.
func (s *Service) publishDomainEvents(ctx context.Context, doc *trade.Document) {
	events := doc.GetDomainEvents()
	doc.ClearDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish posting events",
			zap.String("document_id", doc.ID.String()),
			zap.Error(err))
	}
}
