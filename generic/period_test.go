package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/energy-billing/generic"
)

func TestPeriodSpanning(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		months int
		end    string
	}{
		{"year", "2024-01-01", 12, "2024-12-31"},
		{"half year", "2024-07-01", 6, "2024-12-31"},
		{"quarter", "2025-04-01", 3, "2025-06-30"},
		{"leap february", "2024-02-01", 1, "2024-02-29"},
		{"mid-month start", "2025-01-15", 3, "2025-04-14"},
		// time.AddDate normalization: Jan 31 + 1 month is Mar 3
		{"month end overflow", "2025-01-31", 1, "2025-03-02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := generic.PeriodSpanning(generic.MustParseDate(tt.start), tt.months)
			assert.Equal(t, tt.end, p.End.String())
			assert.True(t, p.Valid())
		})
	}
}

func TestPeriod_ClampAndContiguity(t *testing.T) {
	// GIVEN: A quarter starting 2026-10-01 on a contract ending 2026-11-15
	// WHEN: Clamping to the contract end
	// THEN: The period stops on the end date and the next one would follow it

	q := generic.PeriodSpanning(generic.MustParseDate("2026-10-01"), 3)
	clamped := q.ClampEnd(generic.MustParseDate("2026-11-15"))

	assert.Equal(t, "[2026-10-01, 2026-11-15]", clamped.String())
	assert.Equal(t, 46, clamped.Days())
	assert.True(t, clamped.Contains(generic.MustParseDate("2026-11-15")))
	assert.False(t, clamped.Contains(generic.MustParseDate("2026-11-16")))

	next := generic.PeriodSpanning(clamped.End.DayAfter(), 3)
	assert.True(t, next.Follows(clamped))

	// Clamping never extends
	assert.Equal(t, q, q.ClampEnd(generic.MustParseDate("2030-01-01")))
}

func TestPeriod_Invalid(t *testing.T) {
	p := generic.Period{Start: generic.MustParseDate("2025-02-01"), End: generic.MustParseDate("2025-01-31")}
	assert.False(t, p.Valid())
	assert.Zero(t, p.Days())
	assert.False(t, generic.Period{}.Valid())
}

func TestDate_ParseAndJSON(t *testing.T) {
	d, err := generic.ParseDate("2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, "2025-03", d.MonthKey())
	assert.Equal(t, time.March, d.Month())

	_, err = generic.ParseDate("09/03/2025")
	assert.Error(t, err)

	data, err := json.Marshal(generic.Period{Start: d, End: d.AddMonths(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-03-09","end":"2025-04-09"}`, string(data))

	var back generic.Period
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Start.Equal(d))

	assert.Equal(t, "2024-02-29", generic.EndOfMonth(2024, time.February).String())
}

func TestMoney(t *testing.T) {
	annual := generic.MustParseMoney("4000")

	monthly := annual.Prorate(decimal.NewFromInt(1), decimal.NewFromInt(12))
	assert.Equal(t, "333.33", monthly.RoundCents().String())

	// Half away from zero
	assert.Equal(t, "0.13", generic.MustParseMoney("0.125").RoundCents().String())
	assert.Equal(t, "-0.13", generic.MustParseMoney("-0.125").RoundCents().String())

	assert.True(t, annual.Prorate(decimal.NewFromInt(1), decimal.Zero).IsZero())

	_, err := generic.ParseMoney("abc")
	assert.Error(t, err)
	assert.Panics(t, func() { generic.MustParseMoney("abc") })
	parsed, err := generic.ParseMoney("1000.50")
	require.NoError(t, err)
	assert.Equal(t, "1000.50", parsed.String())

	data, err := json.Marshal(generic.MustParseMoney("12.5"))
	require.NoError(t, err)
	assert.Equal(t, "12.50", string(data))
}

func TestErrorHelpers(t *testing.T) {
	wrapped := &generic.InvoiceCreationError{
		ContractID: "ctr-1",
		Err:        generic.ErrPeriodAlreadyInvoiced,
	}
	assert.True(t, generic.IsConflict(wrapped))
	assert.False(t, generic.IsClientError(wrapped))
	assert.True(t, generic.IsNotFound(generic.ErrEntityNotFound))
	assert.True(t, generic.IsClientError(generic.ErrInvalidDefinition))
}
