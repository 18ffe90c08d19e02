package indexation

import (
	"regexp"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/warp/energy-billing/generic"
)

// substitution is one candidate code with its compiled whole-word matcher.
type substitution struct {
	index   Index
	pattern *regexp.Regexp
}

// codePattern matches code as a whole word. Metacharacters in the code are
// escaped, so "P1.2" only matches the literal text.
func codePattern(code string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(code) + `\b`)
}

// substitutionOrder returns every index except the target, longest code
// first. Ties keep catalogue order. Indices with an empty code are dropped.
func substitutionOrder(target Index, indices []Index) []substitution {
	subs := make([]substitution, 0, len(indices))
	for _, idx := range indices {
		if idx.ID == target.ID || idx.Code == "" {
			continue
		}
		subs = append(subs, substitution{index: idx, pattern: codePattern(idx.Code)})
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return utf8.RuneCountInString(subs[i].index.Code) > utf8.RuneCountInString(subs[j].index.Code)
	})
	return subs
}

// substitute replaces every referenced code with its value for the period.
// It returns the code of the first reference with no value, if any.
func substitute(formula string, subs []substitution, lookup func(generic.IndexID) (float64, bool)) (string, string) {
	expr := formula
	for _, s := range subs {
		if !s.pattern.MatchString(expr) {
			continue
		}
		v, ok := lookup(s.index.ID)
		if !ok {
			return "", s.index.Code
		}
		expr = s.pattern.ReplaceAllLiteralString(expr, formatValue(v))
	}
	return expr, ""
}

// formatValue renders v without exponent so the whitelist accepts it.
// Negative values are parenthesized so "10-PEG" never reads as "10--1".
func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v < 0 {
		return "(" + s + ")"
	}
	return s
}
