package validation

import (
	"context"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/validation"
	"github.com/erp/postingengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Service loads the catalog state a set of lines refers to and runs the
// validation gate against it
type Service struct {
	entryRepo catalog.CatalogEntryRepository
	codeRepo  catalog.ClassificationCodeRepository
}

// NewService creates a validation Service
func NewService(entryRepo catalog.CatalogEntryRepository, codeRepo catalog.ClassificationCodeRepository) *Service {
	return &Service{entryRepo: entryRepo, codeRepo: codeRepo}
}

// LineRef is an ad-hoc line to validate without a stored document
type LineRef struct {
	CatalogEntryID *uuid.UUID `json:"catalog_entry_id"`
}

// ValidateItems runs the gate in the given mode. The returned snapshot holds
// the entries and codes the result was computed from, so a caller can reuse
// their tax rates.
func (s *Service) ValidateItems(ctx context.Context, items []validation.Item, mode validation.Mode) (validation.Result, *validation.Snapshot, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "validation", "Validate",
		telemetry.WithAttribute(telemetry.SpanAttrMode, string(mode)),
		telemetry.WithAttribute(telemetry.SpanAttrLineCount, len(items)))
	defer span.End()

	snapshot, err := s.LoadSnapshot(ctx, items)
	if err != nil {
		telemetry.RecordError(span, err)
		return validation.Result{}, nil, err
	}
	return validation.Validate(items, mode, snapshot), snapshot, nil
}

// ValidateLines validates free-standing lines, identified by their position
func (s *Service) ValidateLines(ctx context.Context, lines []LineRef, mode validation.Mode) (validation.Result, error) {
	items := lo.Map(lines, func(l LineRef, _ int) validation.Item {
		return validation.Item{CatalogEntryID: l.CatalogEntryID}
	})
	result, _, err := s.ValidateItems(ctx, items, mode)
	return result, err
}

// LoadSnapshot reads every catalog entry the items link to and the
// classification codes those entries carry
func (s *Service) LoadSnapshot(ctx context.Context, items []validation.Item) (*validation.Snapshot, error) {
	ids := lo.Uniq(lo.FilterMap(items, func(it validation.Item, _ int) (uuid.UUID, bool) {
		if it.CatalogEntryID == nil || *it.CatalogEntryID == uuid.Nil {
			return uuid.Nil, false
		}
		return *it.CatalogEntryID, true
	}))
	if len(ids) == 0 {
		return validation.NewSnapshot(nil, nil), nil
	}

	entries, err := s.entryRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	codes := lo.Uniq(lo.FilterMap(entries, func(e catalog.CatalogEntry, _ int) (string, bool) {
		if !e.HasClassification() {
			return "", false
		}
		return *e.ClassificationCode, true
	}))
	var refs []catalog.ClassificationCode
	if len(codes) > 0 {
		refs, err = s.codeRepo.FindByCodes(ctx, codes)
		if err != nil {
			return nil, err
		}
	}
	return validation.NewSnapshot(entries, refs), nil
}
