package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes orderDir to ASC or DESC.
// Returns fallback if the input is empty or invalid.
func ValidateSortOrder(orderDir, fallback string) string {
	switch strings.ToUpper(strings.TrimSpace(orderDir)) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	}
	return fallback
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// CatalogEntrySortFields contains allowed sort fields for the review queue
var CatalogEntrySortFields = map[string]bool{
	"created_at":      true,
	"updated_at":      true,
	"display_name":    true,
	"normalized_name": true,
	"reviewed_at":     true,
}
