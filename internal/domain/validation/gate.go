// Package validation decides whether document lines may appear on a
// finalized document. Validate is pure: it reads a catalog snapshot and
// never writes.
package validation

import (
	"fmt"
	"strings"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mode selects how strict validation is. There is no default: callers
// always pass one explicitly.
type Mode string

const (
	// ModeDraft skips governance checks so partial work can be saved
	ModeDraft Mode = "draft"
	// ModeFinal enforces every governance check; required before posting
	ModeFinal Mode = "final"
)

// ParseMode converts user input into a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDraft:
		return ModeDraft, nil
	case ModeFinal:
		return ModeFinal, nil
	}
	return "", shared.NewDomainError("INVALID_MODE", fmt.Sprintf("validation mode must be draft or final, got %q", s))
}

// ReasonCode identifies why a line failed
type ReasonCode string

const (
	ReasonUnlinked              ReasonCode = "unlinked"
	ReasonNotApproved           ReasonCode = "not_approved"
	ReasonMissingClassification ReasonCode = "missing_classification"
	ReasonInvalidClassification ReasonCode = "invalid_classification"
)

// Reason is one failed check on a line
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// ErrorDetail aggregates every failed check of one line
type ErrorDetail struct {
	LineIndex      int        `json:"line_index"`
	LineID         *uuid.UUID `json:"line_id,omitempty"`
	CatalogEntryID *uuid.UUID `json:"catalog_entry_id,omitempty"`
	Reasons        []Reason   `json:"reasons"`
}

// HasReason reports whether the detail contains code
func (d ErrorDetail) HasReason(code ReasonCode) bool {
	for _, r := range d.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// Item is the part of a document line the gate looks at
type Item struct {
	LineID         *uuid.UUID
	CatalogEntryID *uuid.UUID
}

// Result is the outcome of a validation run
type Result struct {
	OK     bool          `json:"ok"`
	Mode   Mode          `json:"mode"`
	Errors []ErrorDetail `json:"errors"`
}

// Catalog is the read-only view of catalog state the gate consults
type Catalog interface {
	Entry(id uuid.UUID) (*catalog.CatalogEntry, bool)
	Classification(code string) (*catalog.ClassificationCode, bool)
}

// Validate checks items against the catalog. Errors come back in item
// order, one ErrorDetail per failing item, and every item is checked.
// Any mode other than ModeDraft is treated as ModeFinal.
func Validate(items []Item, mode Mode, cat Catalog) Result {
	if mode == ModeDraft {
		return Result{OK: true, Mode: ModeDraft, Errors: []ErrorDetail{}}
	}

	errs := make([]ErrorDetail, 0)
	for i, item := range items {
		reasons := checkItem(item, cat)
		if len(reasons) == 0 {
			continue
		}
		errs = append(errs, ErrorDetail{
			LineIndex:      i,
			LineID:         item.LineID,
			CatalogEntryID: item.CatalogEntryID,
			Reasons:        reasons,
		})
	}

	return Result{OK: len(errs) == 0, Mode: ModeFinal, Errors: errs}
}

func checkItem(item Item, cat Catalog) []Reason {
	if item.CatalogEntryID == nil || *item.CatalogEntryID == uuid.Nil {
		return []Reason{{Code: ReasonUnlinked, Message: "line is not linked to a catalog entry"}}
	}

	entry, ok := cat.Entry(*item.CatalogEntryID)
	if !ok {
		return []Reason{{Code: ReasonUnlinked, Message: fmt.Sprintf("catalog entry %s does not exist", *item.CatalogEntryID)}}
	}

	var reasons []Reason
	if !entry.IsApproved() {
		reasons = append(reasons, Reason{
			Code:    ReasonNotApproved,
			Message: fmt.Sprintf("catalog entry %q is %s", entry.DisplayName, entry.Status),
		})
	}

	if !entry.HasClassification() {
		reasons = append(reasons, Reason{
			Code:    ReasonMissingClassification,
			Message: fmt.Sprintf("catalog entry %q has no classification code", entry.DisplayName),
		})
		return reasons
	}

	code := *entry.ClassificationCode
	classification, ok := cat.Classification(code)
	switch {
	case !ok:
		reasons = append(reasons, Reason{
			Code:    ReasonInvalidClassification,
			Message: fmt.Sprintf("classification code %s does not exist", code),
		})
	case !classification.Active:
		reasons = append(reasons, Reason{
			Code:    ReasonInvalidClassification,
			Message: fmt.Sprintf("classification code %s is inactive", code),
		})
	}
	return reasons
}

// Snapshot is an in-memory Catalog built from repository reads
type Snapshot struct {
	entries map[uuid.UUID]*catalog.CatalogEntry
	codes   map[string]*catalog.ClassificationCode
}

// NewSnapshot indexes entries and codes
func NewSnapshot(entries []catalog.CatalogEntry, codes []catalog.ClassificationCode) *Snapshot {
	s := &Snapshot{
		entries: make(map[uuid.UUID]*catalog.CatalogEntry, len(entries)),
		codes:   make(map[string]*catalog.ClassificationCode, len(codes)),
	}
	for i := range entries {
		s.entries[entries[i].ID] = &entries[i]
	}
	for i := range codes {
		s.codes[codes[i].Code] = &codes[i]
	}
	return s
}

// Entry implements Catalog
func (s *Snapshot) Entry(id uuid.UUID) (*catalog.CatalogEntry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Classification implements Catalog
func (s *Snapshot) Classification(code string) (*catalog.ClassificationCode, bool) {
	c, ok := s.codes[code]
	return c, ok
}

// Rate returns the tax rate of an entry's classification, zero if unknown
func (s *Snapshot) Rate(entryID uuid.UUID) decimal.Decimal {
	e, ok := s.entries[entryID]
	if !ok || !e.HasClassification() {
		return decimal.Zero
	}
	if c, ok := s.codes[*e.ClassificationCode]; ok {
		return c.Rate
	}
	return decimal.Zero
}

// FailedError carries the itemized result of a rejected final-mode run
type FailedError struct {
	SubjectID uuid.UUID     `json:"subject_id"`
	Errors    []ErrorDetail `json:"errors"`
}

// NewFailedError wraps a failed result
func NewFailedError(subjectID uuid.UUID, result Result) *FailedError {
	return &FailedError{SubjectID: subjectID, Errors: result.Errors}
}

// Error implements the error interface
func (e *FailedError) Error() string {
	return fmt.Sprintf("validation failed for %d line(s)", len(e.Errors))
}

// Is matches shared.ErrValidationFailed
func (e *FailedError) Is(target error) bool {
	return target == shared.ErrValidationFailed
}

// ErrorCode returns the taxonomy code
func (e *FailedError) ErrorCode() string {
	return shared.CodeValidationFailed
}

// Summary renders the reasons as one line, e.g. for audit notes
func (e *FailedError) Summary() string {
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		codes := make([]string, 0, len(d.Reasons))
		for _, r := range d.Reasons {
			codes = append(codes, string(r.Code))
		}
		parts = append(parts, fmt.Sprintf("line %d: %s", d.LineIndex+1, strings.Join(codes, ",")))
	}
	return strings.Join(parts, "; ")
}
