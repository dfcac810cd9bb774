package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeName returns the equivalence key of a display name.
// Two submissions are the same product when their keys are equal.
func NormalizeName(name string) string {
	n := norm.NFKC.String(name)
	n = folder.String(n)
	return strings.Join(strings.Fields(n), " ")
}
