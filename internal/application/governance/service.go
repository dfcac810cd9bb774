package governance

import (
	"context"
	"errors"
	"strings"
	"time"

	auditapp "github.com/erp/postingengine/internal/application/audit"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRecorder appends audit entries outside a business transaction
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// Service runs the catalog governance workflow: submission, review and the
// one-shot backfill.
type Service struct {
	entryRepo        catalog.CatalogEntryRepository
	codeRepo         catalog.ClassificationCodeRepository
	auditRepo        audit.Repository
	recorder         AuditRecorder
	txScope          TransactionScope
	eventPublisher   shared.EventPublisher
	metrics          *telemetry.EngineMetrics
	backfillGuard    BackfillGuard
	autoApproveRoles []string
	logger           *zap.Logger
}

// NewService creates a governance Service
func NewService(
	entryRepo catalog.CatalogEntryRepository,
	codeRepo catalog.ClassificationCodeRepository,
	auditRepo audit.Repository,
	txScope TransactionScope,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		entryRepo: entryRepo,
		codeRepo:  codeRepo,
		auditRepo: auditRepo,
		recorder:  auditapp.NewService(auditRepo, logger),
		txScope:   txScope,
		logger:    logger,
	}
}

// SetAuditRecorder sets where failed reviews are audited. The default
// appends straight to the audit repository.
func (s *Service) SetAuditRecorder(r AuditRecorder) {
	s.recorder = r
}

// SetEventPublisher sets the notification sink
func (s *Service) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the metrics recorder
func (s *Service) SetMetrics(m *telemetry.EngineMetrics) {
	s.metrics = m
}

// SetAutoApproveRoles sets the roles whose submissions skip the review queue
// when they carry an active classification
func (s *Service) SetAutoApproveRoles(roles []string) {
	s.autoApproveRoles = roles
}

// Submit links a product name to the catalog. An equivalent entry (same
// normalized name) is returned instead of creating a duplicate; a rejected
// equivalent is moved back to pending.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, in SubmitInput) (*SubmitResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "governance", "Submit")
	defer span.End()

	candidate, err := catalog.NewCatalogEntry(in.DisplayName, in.ClassificationCode, actor.TenantRef(), actor.UserID)
	if err != nil {
		return nil, err
	}

	autoCode := s.autoApprovalCode(ctx, actor, candidate)

	var result *catalog.CatalogEntry
	created := false
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		existing, err := repos.CatalogEntries().FindByNormalizedName(ctx, candidate.NormalizedName)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if existing == nil {
			if autoCode != nil {
				if err := candidate.Approve(actor.UserID, autoCode); err != nil {
					return err
				}
			}
			inserted, err := repos.CatalogEntries().CreateIfAbsent(ctx, candidate)
			if err != nil {
				return err
			}
			if inserted {
				created = true
				result = candidate
				return s.auditSubmission(ctx, repos.AuditEntries(), actor, candidate, autoCode)
			}
			// A concurrent submitter inserted the same name first
			existing, err = repos.CatalogEntries().FindByNormalizedName(ctx, candidate.NormalizedName)
			if err != nil {
				return err
			}
		}

		result = existing
		if !existing.IsRejected() {
			return nil
		}
		return s.resubmit(ctx, repos, actor, existing, in.ClassificationCode)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordSubmission(ctx, "error")
		return nil, err
	}

	switch {
	case created && autoCode != nil:
		s.metrics.RecordSubmission(ctx, "auto_approved")
	case created:
		s.metrics.RecordSubmission(ctx, "created")
	default:
		s.metrics.RecordSubmission(ctx, "existing")
	}

	s.publishDomainEvents(ctx, result)

	return &SubmitResult{Entry: ToCatalogEntryResponse(result), Created: created}, nil
}

func (s *Service) resubmit(ctx context.Context, repos TransactionalRepositories, actor shared.Actor, entry *catalog.CatalogEntry, code *string) error {
	previous := entry.Status
	if err := entry.Resubmit(code); err != nil {
		return err
	}
	if err := repos.CatalogEntries().SaveWithLock(ctx, entry); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			return shared.ErrInvalidTransition.WithMessage("Catalog entry changed while it was being resubmitted")
		}
		return err
	}
	record, err := audit.NewEntry(audit.SubjectCatalogEntry, entry.ID, audit.ActionResubmitted)
	if err != nil {
		return err
	}
	record.By(actor).Transition(previous.String(), entry.Status.String())
	return repos.AuditEntries().Create(ctx, record)
}

func (s *Service) auditSubmission(ctx context.Context, repo audit.Repository, actor shared.Actor, entry *catalog.CatalogEntry, autoCode *catalog.ClassificationCode) error {
	submitted, err := audit.NewEntry(audit.SubjectCatalogEntry, entry.ID, audit.ActionSubmitted)
	if err != nil {
		return err
	}
	submitted.By(actor).Transition("", catalog.StatusPending.String())
	if err := repo.Create(ctx, submitted); err != nil {
		return err
	}
	if autoCode == nil {
		return nil
	}

	approved, err := audit.NewEntry(audit.SubjectCatalogEntry, entry.ID, audit.ActionAutoApproved)
	if err != nil {
		return err
	}
	approved.By(actor).
		Transition(catalog.StatusPending.String(), catalog.StatusApproved.String()).
		Because("role_policy", "auto-approved for role "+actor.Role+" with classification "+autoCode.Code)
	approved.OccurredAt = submitted.OccurredAt.Add(time.Microsecond)
	return repo.Create(ctx, approved)
}

// autoApprovalCode returns the classification to approve with when the
// actor's role qualifies for pass-through, nil otherwise
func (s *Service) autoApprovalCode(ctx context.Context, actor shared.Actor, entry *catalog.CatalogEntry) *catalog.ClassificationCode {
	if len(s.autoApproveRoles) == 0 || actor.IsSystem() || !actor.HasRole(s.autoApproveRoles...) {
		return nil
	}
	if !entry.HasClassification() {
		return nil
	}
	code, err := s.codeRepo.FindByCode(ctx, *entry.ClassificationCode)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("Classification lookup failed, submission goes to review",
				zap.String("code", *entry.ClassificationCode),
				zap.Error(err))
		}
		return nil
	}
	if !code.Active {
		return nil
	}
	return code
}

// Review approves or rejects a pending entry. The status is re-read inside
// the transaction and the write is guarded by the entry version, so of two
// concurrent reviewers exactly one succeeds and the other gets
// ErrInvalidTransition.
func (s *Service) Review(ctx context.Context, actor shared.Actor, entryID uuid.UUID, in ReviewInput) (*CatalogEntryResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "governance", "Review")
	defer span.End()

	if !in.Decision.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("Decision must be approve or reject")
	}

	var reviewed *catalog.CatalogEntry
	var previous catalog.Status
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		entry, err := repos.CatalogEntries().FindByID(ctx, entryID)
		if err != nil {
			return err
		}
		if !entry.IsPending() {
			return shared.ErrInvalidTransition.WithMessage("Catalog entry is " + entry.Status.String() + ", not pending")
		}
		previous = entry.Status

		switch in.Decision {
		case DecisionApprove:
			code, err := s.resolveApprovalCode(ctx, entry, in.ClassificationCode)
			if err != nil {
				return err
			}
			if err := entry.Approve(actor.UserID, code); err != nil {
				return err
			}
		case DecisionReject:
			reason := ""
			if in.RejectionReason != nil {
				reason = *in.RejectionReason
			}
			if err := entry.Reject(actor.UserID, reason); err != nil {
				return err
			}
		}

		if err := repos.CatalogEntries().SaveWithLock(ctx, entry); err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				return shared.ErrInvalidTransition.WithMessage("Catalog entry was already reviewed by another reviewer")
			}
			return err
		}

		record, err := audit.NewEntry(audit.SubjectCatalogEntry, entry.ID, reviewAction(in.Decision))
		if err != nil {
			return err
		}
		record.By(actor).
			ForTenant(entry.SubmittingTenantID).
			Transition(previous.String(), entry.Status.String()).
			Because("", reviewNote(entry))
		if err := repos.AuditEntries().Create(ctx, record); err != nil {
			return err
		}

		reviewed = entry
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordReview(ctx, string(in.Decision), shared.ErrorCode(err))
		s.recordReviewFailure(ctx, actor, entryID, in.Decision, err)
		return nil, err
	}

	s.metrics.RecordReview(ctx, string(in.Decision), "ok")
	s.logger.Info("Catalog entry reviewed",
		zap.String("entry_id", reviewed.ID.String()),
		zap.String("decision", string(in.Decision)),
		zap.String("status", reviewed.Status.String()))

	s.publishDomainEvents(ctx, reviewed)

	response := ToCatalogEntryResponse(reviewed)
	return &response, nil
}

// recordReviewFailure audits a review that was rolled back. The entry is
// re-read so the entry shows the status the reviewer actually ran into.
// Nothing is written for an entry that does not exist, and errors are only
// logged.
func (s *Service) recordReviewFailure(ctx context.Context, actor shared.Actor, entryID uuid.UUID, decision Decision, cause error) {
	ctx = context.WithoutCancel(ctx)

	entry, err := s.entryRepo.FindByID(ctx, entryID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("Failed to load catalog entry for review audit",
				zap.String("entry_id", entryID.String()),
				zap.Error(err))
		}
		return
	}

	record, err := audit.NewEntry(audit.SubjectCatalogEntry, entry.ID, audit.ActionReviewRejected)
	if err != nil {
		s.logger.Error("Failed to build review audit entry", zap.Error(err))
		return
	}
	record.By(actor).
		ForTenant(entry.SubmittingTenantID).
		Transition(entry.Status.String(), entry.Status.String()).
		Because(shared.ErrorCode(cause), string(decision)+": "+cause.Error())
	if err := s.recorder.Record(ctx, record); err != nil {
		s.logger.Error("Failed to audit review failure",
			zap.String("entry_id", entry.ID.String()),
			zap.String("decision", string(decision)),
			zap.Error(err))
	}
}

// resolveApprovalCode picks the requested classification, falling back to
// the one proposed at submission, and loads it from the reference table
func (s *Service) resolveApprovalCode(ctx context.Context, entry *catalog.CatalogEntry, requested *string) (*catalog.ClassificationCode, error) {
	var code string
	switch {
	case requested != nil && strings.TrimSpace(*requested) != "":
		code = strings.ToUpper(strings.TrimSpace(*requested))
	case entry.HasClassification():
		code = *entry.ClassificationCode
	default:
		return nil, shared.NewDomainError("CLASSIFICATION_REQUIRED", "An active classification code is required to approve")
	}

	classification, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("CLASSIFICATION_INVALID", "Classification code "+code+" does not exist")
		}
		return nil, err
	}
	return classification, nil
}

func reviewAction(d Decision) audit.Action {
	if d == DecisionApprove {
		return audit.ActionApproved
	}
	return audit.ActionRejected
}

func reviewNote(e *catalog.CatalogEntry) string {
	if e.IsApproved() && e.ClassificationCode != nil {
		return "approved with classification " + *e.ClassificationCode
	}
	if e.RejectionReason != nil {
		return *e.RejectionReason
	}
	return ""
}

// GetEntry returns one catalog entry
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*CatalogEntryResponse, error) {
	entry, err := s.entryRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	response := ToCatalogEntryResponse(entry)
	return &response, nil
}

// ListByStatus returns the entries in one governance status, e.g. the
// pending review queue
func (s *Service) ListByStatus(ctx context.Context, status catalog.Status, filter shared.Filter) (*shared.Paginated[CatalogEntryResponse], error) {
	if !status.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("Unknown status " + status.String())
	}
	filter = filter.Normalize()
	entries, total, err := s.entryRepo.FindByStatus(ctx, status, filter)
	if err != nil {
		return nil, err
	}
	items := make([]CatalogEntryResponse, len(entries))
	for i := range entries {
		items[i] = ToCatalogEntryResponse(&entries[i])
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// ListClassificationCodes returns the reference table
func (s *Service) ListClassificationCodes(ctx context.Context, activeOnly bool) ([]ClassificationCodeResponse, error) {
	codes, err := s.codeRepo.FindAll(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]ClassificationCodeResponse, len(codes))
	for i, c := range codes {
		out[i] = ClassificationCodeResponse{
			Code:        c.Code,
			Description: c.Description,
			Rate:        c.Rate.String(),
			Active:      c.Active,
		}
	}
	return out, nil
}

// publishDomainEvents hands the entry's events to the notification sink.
// Failures are logged; they never undo the committed change.
func (s *Service) publishDomainEvents(ctx context.Context, entry *catalog.CatalogEntry) {
	events := entry.GetDomainEvents()
	entry.ClearDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish catalog events",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err))
	}
}
