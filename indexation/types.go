/*
Package indexation computes calculated price indices from stored index values.

OVERVIEW:
  An Index is either "standard" (monthly values entered by hand) or
  "calculated" (derived per month from a formula over other index codes).
  Calculated values are never persisted; they are recomputed from the
  stored standard values on every read.

KEY CONCEPTS:
  - Period: a "YYYY-MM" key. Keys sort lexicographically in chronological order.
  - Substitution: each referenced code is replaced, whole word only, by its
    value for the period. Longer codes go first.
  - Sandbox: after substitution only digits, '.', '+', '-', '*', '/',
    parentheses and whitespace may remain. Anything else is rejected
    before evaluation.

LIMITATION:
  Dependencies resolve one level deep. A formula that references another
  calculated index finds no stored value for it and fails closed.

SEE ALSO:
  - substitute.go: Code substitution
  - expr.go:       Arithmetic parser
  - evaluator.go:  Evaluate / EvaluateDetailed
  - cache.go:      Redis-backed memoization
*/
package indexation

import (
	"strings"

	"github.com/warp/energy-billing/generic"
)

// IndexType distinguishes manually entered indices from derived ones.
type IndexType string

const (
	TypeStandard   IndexType = "standard"
	TypeCalculated IndexType = "calculated"
)

// DefaultDecimals is the rounding precision when an index does not set one.
const DefaultDecimals = 4

// Calculated value metadata.
const (
	SourceCalculated   = "Calculé"
	commentPrefix      = "Formule : "
	calculatedIDPrefix = "calc-"
)

// Index describes a price index such as "PEG" or "TRVG".
type Index struct {
	ID       generic.IndexID `json:"id"`
	Code     string          `json:"code"`
	Label    string          `json:"label"`
	Unit     string          `json:"unit,omitempty"`
	Type     IndexType       `json:"type"`
	Formula  string          `json:"formula,omitempty"`
	Decimals *int            `json:"decimals,omitempty"`
}

// IsCalculated reports whether the index carries a usable formula.
func (i Index) IsCalculated() bool {
	return i.Type == TypeCalculated && strings.TrimSpace(i.Formula) != ""
}

// Precision returns the rounding precision, defaulting to DefaultDecimals.
func (i Index) Precision() int {
	if i.Decimals == nil || *i.Decimals < 0 {
		return DefaultDecimals
	}
	return *i.Decimals
}

// IndexValue is the value of one index for one month.
type IndexValue struct {
	ID      string          `json:"id"`
	IndexID generic.IndexID `json:"index_id"`
	Period  string          `json:"period"`
	Value   float64         `json:"value"`
	Source  string          `json:"source,omitempty"`
	Comment string          `json:"comment,omitempty"`
}

// ValueID is the stored identifier of a standard value.
func ValueID(indexID generic.IndexID, period string) string {
	return string(indexID) + "-" + period
}

// ValueKey is the (index, period) uniqueness key of a standard value.
func ValueKey(indexID generic.IndexID, period string) string {
	return string(indexID) + "/" + period
}
