package governance

import (
	"context"
	"errors"

	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Backfill reason codes
const (
	BackfillReasonEligible              = "eligible"
	BackfillReasonClassificationMissing = "classification_missing"
	BackfillReasonClassificationInvalid = "classification_invalid"
	BackfillReasonInactive              = "classification_inactive"
	BackfillReasonHasHistory            = "has_history"
)

const (
	defaultBackfillBatchSize = 100
	backfillLockKey          = "governance:backfill"
)

// ErrBackfillRunning is returned when another backfill holds the run lock
var ErrBackfillRunning = shared.NewDomainError("BACKFILL_RUNNING", "Another backfill run is in progress")

// BackfillGuard serializes backfill runs across processes
type BackfillGuard interface {
	// Acquire returns ErrBackfillRunning when the key is already held
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// SetBackfillGuard sets the cross-process run lock
func (s *Service) SetBackfillGuard(g BackfillGuard) {
	s.backfillGuard = g
}

// Backfill assigns a governance status to catalog entries that predate the
// workflow. An entry with an active classification becomes approved; one
// with a missing, unknown or inactive classification becomes pending. Every
// decision is audited. Entries that already have audit history are skipped,
// so a second run changes nothing.
func (s *Service) Backfill(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "governance", "Backfill")
	defer span.End()

	if s.backfillGuard != nil {
		release, err := s.backfillGuard.Acquire(ctx, backfillLockKey)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release backfill lock", zap.Error(err))
			}
		}()
	}

	codes, err := s.codeRepo.FindAll(ctx, false)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]*catalog.ClassificationCode, len(codes))
	for i := range codes {
		byCode[codes[i].Code] = &codes[i]
	}

	report := &BackfillReport{DryRun: opts.DryRun, Decisions: []BackfillDecision{}}

	visit := func(entries []catalog.CatalogEntry) error {
		for i := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.backfillOne(ctx, &entries[i], byCode, opts.DryRun, report); err != nil {
				return err
			}
		}
		return nil
	}

	if len(opts.EntryIDs) > 0 {
		entries, err := s.entryRepo.FindByIDs(ctx, opts.EntryIDs)
		if err != nil {
			return nil, err
		}
		err = visit(entries)
		if err != nil {
			telemetry.RecordError(span, err)
			return report, err
		}
	} else {
		size := opts.BatchSize
		if size <= 0 {
			size = defaultBackfillBatchSize
		}
		for page := 1; ; page++ {
			entries, err := s.entryRepo.FindAll(ctx, shared.Filter{Page: page, PageSize: size})
			if err != nil {
				return report, err
			}
			if err := visit(entries); err != nil {
				telemetry.RecordError(span, err)
				return report, err
			}
			if len(entries) < size {
				break
			}
		}
	}

	s.logger.Info("Governance backfill finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("approved", report.Approved),
		zap.Int("pending", report.Pending),
		zap.Int("skipped", report.Skipped),
		zap.Bool("dry_run", report.DryRun))

	return report, nil
}

func (s *Service) backfillOne(ctx context.Context, entry *catalog.CatalogEntry, codes map[string]*catalog.ClassificationCode, dryRun bool, report *BackfillReport) error {
	report.Scanned++

	seen, err := s.auditRepo.CountBySubject(ctx, audit.SubjectCatalogEntry, entry.ID)
	if err != nil {
		return err
	}
	if seen > 0 {
		report.Skipped++
		return nil
	}

	target, reason := backfillPolicy(entry, codes)
	decision := BackfillDecision{
		EntryID:        entry.ID,
		PreviousStatus: entry.Status.String(),
		NewStatus:      target.String(),
		ReasonCode:     reason,
	}
	if dryRun {
		report.count(decision, target)
		return nil
	}

	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		// Another run may have reconciled this entry since it was read
		seen, err := repos.AuditEntries().CountBySubject(ctx, audit.SubjectCatalogEntry, entry.ID)
		if err != nil {
			return err
		}
		if seen > 0 {
			return errAlreadyBackfilled
		}

		before := entry.Version
		if err := entry.Reconcile(target); err != nil {
			return err
		}
		if entry.Version != before {
			if err := repos.CatalogEntries().SaveWithLock(ctx, entry); err != nil {
				return err
			}
		}

		record, err := audit.NewEntry(audit.SubjectCatalogEntry, entry.ID, audit.ActionBackfilled)
		if err != nil {
			return err
		}
		record.By(shared.SystemActor()).
			ForTenant(entry.SubmittingTenantID).
			Transition(decision.PreviousStatus, decision.NewStatus).
			Because(reason, "")
		return repos.AuditEntries().Create(ctx, record)
	})
	if errors.Is(err, errAlreadyBackfilled) {
		s.logger.Debug("Entry reconciled by a concurrent run", zap.String("entry_id", entry.ID.String()))
		report.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	report.count(decision, target)
	s.metrics.RecordBackfill(ctx, target.String())
	return nil
}

// count adds a decision that was applied, or would be in a dry run
func (r *BackfillReport) count(decision BackfillDecision, target catalog.Status) {
	r.Decisions = append(r.Decisions, decision)
	if target == catalog.StatusApproved {
		r.Approved++
	} else {
		r.Pending++
	}
}

var errAlreadyBackfilled = errors.New("entry already backfilled")

// backfillPolicy decides the status for an entry with no history.
// A classification that exists but is inactive is treated like an invalid
// one: the entry waits for review.
func backfillPolicy(entry *catalog.CatalogEntry, codes map[string]*catalog.ClassificationCode) (catalog.Status, string) {
	if !entry.HasClassification() {
		return catalog.StatusPending, BackfillReasonClassificationMissing
	}
	code, ok := codes[*entry.ClassificationCode]
	if !ok {
		return catalog.StatusPending, BackfillReasonClassificationInvalid
	}
	if !code.Active {
		return catalog.StatusPending, BackfillReasonInactive
	}
	return catalog.StatusApproved, BackfillReasonEligible
}
