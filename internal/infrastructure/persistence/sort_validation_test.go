package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback string
		expected string
	}{
		{"empty string returns fallback", "", "ASC", "ASC"},
		{"lowercase asc", "asc", "DESC", "ASC"},
		{"lowercase desc", "desc", "ASC", "DESC"},
		{"whitespace around desc", "  desc ", "ASC", "DESC"},
		{"invalid value returns fallback", "sideways", "ASC", "ASC"},
		{"injection attempt returns fallback", "ASC; DROP TABLE catalog_entries;--", "ASC", "ASC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortOrder(tt.input, tt.fallback))
		})
	}
}

func TestValidateSortField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string returns default", "", "created_at"},
		{"whitelisted field", "display_name", "display_name"},
		{"whitespace around field", "  reviewed_at ", "reviewed_at"},
		{"case sensitive", "DISPLAY_NAME", "created_at"},
		{"unknown column", "rejection_reason", "created_at"},
		{"injection attempt", "display_name; DROP TABLE catalog_entries;--", "created_at"},
		{"subquery", "(SELECT 1)", "created_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortField(tt.input, CatalogEntrySortFields, "created_at"))
		})
	}
}
