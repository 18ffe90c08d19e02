/*
evaluator.go - Index Formula Evaluator

ALGORITHM:
  1. periods = distinct periods across all values, ascending
  2. for each period:
       a. expr = target formula
       b. for each other index, longest code first:
            if its code appears in expr (whole word):
              value missing for period -> skip period
              else replace every occurrence with the value
       c. whitelist expr, then evaluate it
       d. emit calc-{indexId}-{period}, rounded to the index precision
  3. emitted values keep the period order

FAILURE MODEL:
  The evaluator never returns an error. A period that cannot be computed
  is simply absent from Values. EvaluateDetailed also reports why each
  period was skipped, separating missing data from formulas rejected by
  the sandbox.
*/
package indexation

import (
	"errors"
	"sort"

	"github.com/warp/energy-billing/generic"
)

// SkipReason labels why a period produced no value.
type SkipReason string

const (
	SkipMissingDependency SkipReason = "missing_dependency"
	SkipUnsafeFormula     SkipReason = "unsafe_formula"
	SkipMalformedFormula  SkipReason = "malformed_formula"
)

// Skip is one period the evaluator could not compute.
type Skip struct {
	Period string     `json:"period"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Result is the detailed outcome of one evaluation.
type Result struct {
	Values  []IndexValue `json:"values"`
	Skipped []Skip       `json:"skipped,omitempty"`
}

// Evaluate computes the calculated index for every period present in values.
// Non-calculated targets yield nothing.
func Evaluate(target Index, indices []Index, values []IndexValue) []IndexValue {
	return EvaluateDetailed(target, indices, values).Values
}

// EvaluateDetailed is Evaluate plus per-period skip reasons.
func EvaluateDetailed(target Index, indices []Index, values []IndexValue) Result {
	var res Result
	if !target.IsCalculated() {
		return res
	}

	table := valueTable(values)
	subs := substitutionOrder(target, indices)

	for _, period := range Periods(values) {
		lookup := func(id generic.IndexID) (float64, bool) {
			v, ok := table[id][period]
			return v, ok
		}

		expr, missing := substitute(target.Formula, subs, lookup)
		if missing != "" {
			res.Skipped = append(res.Skipped, Skip{Period: period, Reason: SkipMissingDependency, Detail: missing})
			continue
		}

		v, err := EvalArithmetic(expr)
		if err != nil {
			reason := SkipMalformedFormula
			if errors.Is(err, ErrUnsafeExpression) {
				reason = SkipUnsafeFormula
			}
			res.Skipped = append(res.Skipped, Skip{Period: period, Reason: reason, Detail: err.Error()})
			continue
		}

		rounded, _ := v.Round(int32(target.Precision())).Float64()
		res.Values = append(res.Values, IndexValue{
			ID:      calculatedIDPrefix + string(target.ID) + "-" + period,
			IndexID: target.ID,
			Period:  period,
			Value:   rounded,
			Source:  SourceCalculated,
			Comment: commentPrefix + target.Formula,
		})
	}
	return res
}

// Periods returns the distinct periods of values in ascending order.
func Periods(values []IndexValue) []string {
	seen := make(map[string]struct{}, len(values))
	periods := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v.Period]; ok {
			continue
		}
		seen[v.Period] = struct{}{}
		periods = append(periods, v.Period)
	}
	sort.Strings(periods)
	return periods
}

// valueTable indexes values by index then period. The first value wins
// when a pair is duplicated.
func valueTable(values []IndexValue) map[generic.IndexID]map[string]float64 {
	table := make(map[generic.IndexID]map[string]float64)
	for _, v := range values {
		byPeriod, ok := table[v.IndexID]
		if !ok {
			byPeriod = make(map[string]float64)
			table[v.IndexID] = byPeriod
		}
		if _, dup := byPeriod[v.Period]; !dup {
			byPeriod[v.Period] = v.Value
		}
	}
	return table
}
