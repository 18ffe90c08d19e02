package indexation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/indexation"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func idOf(s string) generic.IndexID { return generic.IndexID(s) }

func standard(id, code string) indexation.Index {
	return indexation.Index{ID: idOf(id), Code: code, Label: code, Type: indexation.TypeStandard}
}

func calculated(id, code, formula string, decimals int) indexation.Index {
	return indexation.Index{
		ID: idOf(id), Code: code, Label: code,
		Type: indexation.TypeCalculated, Formula: formula, Decimals: &decimals,
	}
}

func value(indexID, period string, v float64) indexation.IndexValue {
	return indexation.IndexValue{ID: indexID + "-" + period, IndexID: idOf(indexID), Period: period, Value: v}
}

func byPeriod(values []indexation.IndexValue) map[string]float64 {
	out := make(map[string]float64, len(values))
	for _, v := range values {
		out[v.Period] = v.Value
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestEvaluate_MarginOverPEG(t *testing.T) {
	// GIVEN: PEG standard {2025-01: 40, 2025-02: 42}, MARGE = PEG * 1.1, 2 decimals
	// WHEN: Evaluating MARGE
	// THEN: {2025-01: 44.00, 2025-02: 46.20}

	peg := standard("peg", "PEG")
	marge := calculated("marge", "MARGE", "PEG * 1.1", 2)
	values := []indexation.IndexValue{
		value("peg", "2025-02", 42),
		value("peg", "2025-01", 40),
	}

	got := indexation.Evaluate(marge, []indexation.Index{peg, marge}, values)

	require.Len(t, got, 2)
	assert.Equal(t, "2025-01", got[0].Period)
	assert.Equal(t, 44.0, got[0].Value)
	assert.Equal(t, "2025-02", got[1].Period)
	assert.Equal(t, 46.2, got[1].Value)

	assert.Equal(t, "calc-marge-2025-01", got[0].ID)
	assert.Equal(t, idOf("marge"), got[0].IndexID)
	assert.Equal(t, "Calculé", got[0].Source)
	assert.Equal(t, "Formule : PEG * 1.1", got[0].Comment)
}

func TestEvaluate_MissingDependencySkipsOnlyThatPeriod(t *testing.T) {
	// GIVEN: PEG has no value for 2025-03, an unrelated index does
	// WHEN: Evaluating MARGE
	// THEN: 2025-03 is in the period set but MARGE has no value for it

	peg := standard("peg", "PEG")
	brent := standard("brent", "BRENT")
	marge := calculated("marge", "MARGE", "PEG * 1.1", 2)
	values := []indexation.IndexValue{
		value("peg", "2025-01", 40),
		value("peg", "2025-02", 42),
		value("brent", "2025-03", 80),
	}

	res := indexation.EvaluateDetailed(marge, []indexation.Index{peg, brent, marge}, values)

	assert.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, indexation.Periods(values))
	got := byPeriod(res.Values)
	assert.Len(t, got, 2)
	assert.NotContains(t, got, "2025-03")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.Skip{Period: "2025-03", Reason: indexation.SkipMissingDependency, Detail: "PEG"}, res.Skipped[0])
}

func TestEvaluate_ShorterCodeDoesNotCorruptLongerCode(t *testing.T) {
	// GIVEN: Codes P1 and P12, formula "P12 + 1"
	// WHEN: Evaluating
	// THEN: Only P12 is substituted

	p1 := standard("p1", "P1")
	p12 := standard("p12", "P12")
	target := calculated("t", "T", "P12 + 1", 4)
	values := []indexation.IndexValue{
		value("p1", "2025-01", 1000),
		value("p12", "2025-01", 5),
	}

	got := indexation.Evaluate(target, []indexation.Index{p1, p12, target}, values)

	require.Len(t, got, 1)
	assert.Equal(t, 6.0, got[0].Value)
}

func TestEvaluate_SubstringInsideIdentifierIsNotMatched(t *testing.T) {
	// GASP1X contains P1 but is not a whole-word occurrence and has no value:
	// the leftover letters must trip the sandbox, not be half-substituted.
	p1 := standard("p1", "P1")
	target := calculated("t", "T", "GASP1X + P1", 4)
	values := []indexation.IndexValue{value("p1", "2025-01", 2)}

	res := indexation.EvaluateDetailed(target, []indexation.Index{p1, target}, values)

	assert.Empty(t, res.Values)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.SkipUnsafeFormula, res.Skipped[0].Reason)
}

func TestEvaluate_SandboxRejectsInjectedCode(t *testing.T) {
	peg := standard("peg", "PEG")
	target := calculated("t", "T", "PEG; process.exit()", 4)
	values := []indexation.IndexValue{value("peg", "2025-01", 40)}

	res := indexation.EvaluateDetailed(target, []indexation.Index{peg, target}, values)

	assert.Empty(t, res.Values)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.SkipUnsafeFormula, res.Skipped[0].Reason)
}

func TestEvaluate_MalformedAndDivisionByZero(t *testing.T) {
	peg := standard("peg", "PEG")
	malformed := calculated("m", "M", "PEG * (1.1", 4)
	divZero := calculated("d", "D", "PEG / (PEG - 40)", 4)
	values := []indexation.IndexValue{value("peg", "2025-01", 40)}
	catalogue := []indexation.Index{peg, malformed, divZero}

	res := indexation.EvaluateDetailed(malformed, catalogue, values)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.SkipMalformedFormula, res.Skipped[0].Reason)

	res = indexation.EvaluateDetailed(divZero, catalogue, values)
	assert.Empty(t, res.Values)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.SkipMalformedFormula, res.Skipped[0].Reason)
	assert.Contains(t, res.Skipped[0].Detail, "division by zero")
}

func TestEvaluate_SelfReferenceIsNotSubstituted(t *testing.T) {
	peg := standard("peg", "PEG")
	self := calculated("s", "S", "S + PEG", 4)
	values := []indexation.IndexValue{
		value("peg", "2025-01", 40),
		value("s", "2025-01", 1),
	}

	res := indexation.EvaluateDetailed(self, []indexation.Index{peg, self}, values)

	// S stays as text, so the sandbox rejects it
	assert.Empty(t, res.Values)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.SkipUnsafeFormula, res.Skipped[0].Reason)
}

func TestEvaluate_CalculatedOnCalculatedFailsClosed(t *testing.T) {
	// GIVEN: MARGE = PEG * 1.1 and FINAL = MARGE + 1
	// WHEN: Evaluating FINAL
	// THEN: No value, because MARGE is never stored

	peg := standard("peg", "PEG")
	marge := calculated("marge", "MARGE", "PEG * 1.1", 2)
	final := calculated("final", "FINAL", "MARGE + 1", 2)
	values := []indexation.IndexValue{value("peg", "2025-01", 40)}

	res := indexation.EvaluateDetailed(final, []indexation.Index{peg, marge, final}, values)

	assert.Empty(t, res.Values)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, indexation.SkipMissingDependency, res.Skipped[0].Reason)
	assert.Equal(t, "MARGE", res.Skipped[0].Detail)
}

func TestEvaluate_NegativeValuesAndDefaultPrecision(t *testing.T) {
	peg := standard("peg", "PEG")
	target := indexation.Index{ID: idOf("t"), Code: "T", Type: indexation.TypeCalculated, Formula: "10-PEG/3"}
	values := []indexation.IndexValue{value("peg", "2025-01", -2)}

	got := indexation.Evaluate(target, []indexation.Index{peg, target}, values)

	require.Len(t, got, 1)
	// 10 - (-2/3) rounded to 4 decimals
	assert.Equal(t, 10.6667, got[0].Value)
}

func TestEvaluate_SubtractingNegativeValue(t *testing.T) {
	// GIVEN: "10-PEG" with PEG = -1
	// WHEN: Evaluating
	// THEN: The value substitutes as (-1), giving 11 instead of a
	//       malformed "10--1"

	peg := standard("peg", "PEG")
	target := calculated("t", "T", "10-PEG", 2)
	values := []indexation.IndexValue{value("peg", "2025-01", -1)}

	res := indexation.EvaluateDetailed(target, []indexation.Index{peg, target}, values)

	assert.Empty(t, res.Skipped)
	require.Len(t, res.Values, 1)
	assert.Equal(t, 11.0, res.Values[0].Value)
}

func TestEvaluate_StandardTargetYieldsNothing(t *testing.T) {
	peg := standard("peg", "PEG")
	values := []indexation.IndexValue{value("peg", "2025-01", 40)}

	assert.Empty(t, indexation.Evaluate(peg, []indexation.Index{peg}, values))
	assert.Empty(t, indexation.Evaluate(calculated("x", "X", "  ", 2), []indexation.Index{peg}, values))
}
