package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) generic.Date {
	return generic.NewDate(year, month, day)
}

func eur(n int64) generic.Money {
	return generic.NewMoneyFromInt(n)
}

func contract(schedule billing.Schedule, start, end generic.Date) billing.Contract {
	return billing.Contract{
		ID:          "ctr-1",
		ClientID:    "cli-1",
		Reference:   "C001",
		SiteIDs:     []generic.SiteID{"site-1"},
		ActivityIDs: []generic.ActivityID{"P1"},
		Schedule:    schedule,
		StartDate:   start,
		EndDate:     end,
	}
}

func site(id generic.SiteID, amounts ...billing.SiteAmount) billing.Site {
	return billing.Site{ID: id, ClientID: "cli-1", Amounts: amounts}
}

func amount(activity generic.ActivityID, n int64) billing.SiteAmount {
	return billing.SiteAmount{ActivityID: activity, Amount: eur(n)}
}

func due(c billing.Contract, asOf generic.Date, sites []billing.Site, invoices ...billing.Invoice) []billing.BillablePeriod {
	return billing.DueBillingPeriods(billing.SchedulerInput{
		Contract: c,
		Invoices: invoices,
		Sites:    sites,
		AsOf:     asOf,
	})
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScheduler_AnnualContract_TwoPeriodsDue(t *testing.T) {
	// GIVEN: Annual contract 2024-01-01..2026-12-31, one site billing P1 1200/year
	// WHEN: Scheduling as of 2025-06-01 with no prior invoice
	// THEN: 2024 and 2025 are due, 1200 each

	c := contract(billing.ScheduleAnnual, date(2024, time.January, 1), date(2026, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 1200))}

	periods := due(c, date(2025, time.June, 1), sites)

	require.Len(t, periods, 2)
	assert.Equal(t, "[2024-01-01, 2024-12-31]", periods[0].Period.String())
	assert.Equal(t, "[2025-01-01, 2025-12-31]", periods[1].Period.String())
	for _, p := range periods {
		assert.Equal(t, "1200.00", p.Amount.String())
		assert.Equal(t, billing.ScheduleAnnual, p.Schedule)
		assert.Equal(t, generic.ContractID("ctr-1"), p.ContractID)
	}
}

func TestScheduler_ResumesAfterLastInvoice(t *testing.T) {
	// GIVEN: 2024 already invoiced
	// WHEN: Scheduling as of 2025-06-01
	// THEN: Only 2025 is due

	c := contract(billing.ScheduleAnnual, date(2024, time.January, 1), date(2026, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 1200))}
	invoiced := billing.Invoice{
		ContractID: "ctr-1",
		Status:     billing.StatusPaid,
		Period:     generic.Period{Start: date(2024, time.January, 1), End: date(2024, time.December, 31)},
	}

	periods := due(c, date(2025, time.June, 1), sites, invoiced)

	require.Len(t, periods, 1)
	assert.Equal(t, date(2025, time.January, 1), periods[0].Period.Start)
}

func TestScheduler_UsesMostRecentInvoiceRegardlessOfOrder(t *testing.T) {
	c := contract(billing.ScheduleQuarterly, date(2025, time.January, 1), date(2025, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 4000))}
	q2 := billing.Invoice{ContractID: "ctr-1", Status: billing.StatusDue,
		Period: generic.Period{Start: date(2025, time.April, 1), End: date(2025, time.June, 30)}}
	q1 := billing.Invoice{ContractID: "ctr-1", Status: billing.StatusPaid,
		Period: generic.Period{Start: date(2025, time.January, 1), End: date(2025, time.March, 31)}}

	periods := due(c, date(2025, time.August, 1), sites, q1, q2)

	require.Len(t, periods, 1)
	assert.Equal(t, date(2025, time.July, 1), periods[0].Period.Start)
}

func TestScheduler_ProformaAndOtherContractsIgnored(t *testing.T) {
	// GIVEN: A proforma for 2024 on this contract, and a paid invoice on another contract
	// THEN: Neither counts as billed

	c := contract(billing.ScheduleAnnual, date(2024, time.January, 1), date(2026, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 1200))}
	proforma := billing.Invoice{ContractID: "ctr-1", Status: billing.StatusProforma,
		Period: generic.Period{Start: date(2024, time.January, 1), End: date(2024, time.December, 31)}}
	other := billing.Invoice{ContractID: "ctr-2", Status: billing.StatusPaid,
		Period: generic.Period{Start: date(2024, time.January, 1), End: date(2025, time.December, 31)}}

	periods := due(c, date(2025, time.June, 1), sites, proforma, other)

	require.Len(t, periods, 2)
	assert.Equal(t, date(2024, time.January, 1), periods[0].Period.Start)
}

// =============================================================================
// PRORATION
// =============================================================================

func TestScheduler_QuarterlyProration(t *testing.T) {
	c := contract(billing.ScheduleQuarterly, date(2025, time.January, 1), date(2025, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 4000))}

	periods := due(c, date(2026, time.January, 1), sites)

	require.Len(t, periods, 4)
	ends := []generic.Date{
		date(2025, time.March, 31), date(2025, time.June, 30),
		date(2025, time.September, 30), date(2025, time.December, 31),
	}
	for i, p := range periods {
		assert.Equal(t, "1000.00", p.Amount.String(), "quarter %d", i+1)
		assert.Equal(t, ends[i], p.Period.End, "quarter %d", i+1)
	}
}

func TestScheduler_MonthlyProration(t *testing.T) {
	c := contract(billing.ScheduleMonthly, date(2025, time.January, 1), date(2025, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 4000))}

	periods := due(c, date(2026, time.January, 1), sites)

	require.Len(t, periods, 12)
	for _, p := range periods {
		assert.Equal(t, "333.33", p.Amount.String())
	}
	assert.Equal(t, date(2025, time.February, 28), periods[1].Period.End)
}

func TestScheduler_SemiAnnualProration(t *testing.T) {
	c := contract(billing.ScheduleSemiAnnual, date(2025, time.January, 1), date(2026, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 3000))}

	periods := due(c, date(2025, time.July, 2), sites)

	require.Len(t, periods, 2)
	assert.Equal(t, date(2025, time.June, 30), periods[0].Period.End)
	assert.Equal(t, "1500.00", periods[1].Amount.String())
}

func TestScheduler_VariableSchedule_UsesMonthlyTable(t *testing.T) {
	// GIVEN: Variable contract 8.33% per month (8.37% in December), 1200/year
	// WHEN: Scheduling as of 2025-03-15
	// THEN: January, February and March are due at 99.96 each

	c := contract(billing.ScheduleVariable, date(2025, time.January, 1), date(2025, time.December, 31))
	c.MonthlyBilling = billing.EvenMonthlyBilling(10)
	sites := []billing.Site{site("site-1", amount("P1", 1200))}

	periods := due(c, date(2025, time.March, 15), sites)

	require.Len(t, periods, 3)
	for _, p := range periods {
		assert.Equal(t, "99.96", p.Amount.String())
	}

	december := due(c, date(2026, time.January, 1), sites)
	require.Len(t, december, 12)
	assert.Equal(t, "100.44", december[11].Amount.String())
}

func TestScheduler_UnknownScheduleFallsBackToAnnual(t *testing.T) {
	c := contract(billing.Schedule("Bimensuel"), date(2024, time.January, 1), date(2026, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 1200))}

	periods := due(c, date(2025, time.June, 1), sites)

	require.Len(t, periods, 2)
	assert.Equal(t, date(2024, time.December, 31), periods[0].Period.End)
	assert.Equal(t, "1200.00", periods[0].Amount.String())
}

// =============================================================================
// AMOUNT AGGREGATION
// =============================================================================

func TestScheduler_SumsCoveredActivitiesAcrossLinkedSites(t *testing.T) {
	// GIVEN: Contract covering P1 and P2 over site-1 (listed) and site-2 (linked by ContractID)
	//   site-1: P1 1000, P2 200, P3 999 (P3 not covered)
	//   site-2: P1 400
	//   site-3: P1 5000 (other contract, not listed)
	// THEN: Annual total 1600, lines per activity in contract order

	c := contract(billing.ScheduleAnnual, date(2025, time.January, 1), date(2025, time.December, 31))
	c.ActivityIDs = []generic.ActivityID{"P2", "P1"}
	linked := site("site-2", amount("P1", 400))
	linked.ContractID = "ctr-1"
	foreign := site("site-3", amount("P1", 5000))
	foreign.ContractID = "ctr-9"
	sites := []billing.Site{
		site("site-1", amount("P1", 1000), amount("P2", 200), amount("P3", 999)),
		linked,
		foreign,
	}

	periods := due(c, date(2025, time.February, 1), sites)

	require.Len(t, periods, 1)
	p := periods[0]
	assert.Equal(t, "1600.00", p.Amount.String())
	require.Len(t, p.Lines, 2)
	assert.Equal(t, generic.ActivityID("P2"), p.Lines[0].ActivityID)
	assert.Equal(t, "200.00", p.Lines[0].Amount.String())
	assert.Equal(t, generic.ActivityID("P1"), p.Lines[1].ActivityID)
	assert.Equal(t, "1400.00", p.Lines[1].Amount.String())
}

func TestScheduler_NoSites_ZeroAmountPeriodsStillEmitted(t *testing.T) {
	c := contract(billing.ScheduleQuarterly, date(2025, time.January, 1), date(2025, time.December, 31))

	periods := due(c, date(2025, time.May, 1), nil)

	require.Len(t, periods, 2)
	for _, p := range periods {
		assert.True(t, p.Amount.IsZero())
		assert.Empty(t, p.Lines)
	}
}

// =============================================================================
// BOUNDARIES
// =============================================================================

func TestScheduler_FinalPeriodClampedToContractEnd(t *testing.T) {
	// GIVEN: Quarterly contract ending mid-quarter on 2025-05-15
	// THEN: Last period ends exactly on 2025-05-15, no period after it

	c := contract(billing.ScheduleQuarterly, date(2025, time.January, 1), date(2025, time.May, 15))
	sites := []billing.Site{site("site-1", amount("P1", 4000))}

	periods := due(c, date(2026, time.January, 1), sites)

	require.Len(t, periods, 2)
	last := periods[len(periods)-1]
	assert.Equal(t, date(2025, time.April, 1), last.Period.Start)
	assert.Equal(t, date(2025, time.May, 15), last.Period.End)
}

func TestScheduler_StopsAtAsOfDate(t *testing.T) {
	c := contract(billing.ScheduleMonthly, date(2025, time.January, 1), date(2026, time.December, 31))
	sites := []billing.Site{site("site-1", amount("P1", 1200))}

	// AsOf on a period start: that period is not due yet
	periods := due(c, date(2025, time.April, 1), sites)

	require.Len(t, periods, 3)
	assert.Equal(t, date(2025, time.March, 31), periods[2].Period.End)
}

func TestScheduler_NothingDueBeforeStart(t *testing.T) {
	c := contract(billing.ScheduleMonthly, date(2025, time.January, 1), date(2026, time.December, 31))

	assert.Empty(t, due(c, date(2024, time.December, 1), nil))
	assert.Empty(t, due(c, date(2025, time.January, 1), nil))
}

func TestScheduler_FarFutureAsOf_Terminates(t *testing.T) {
	c := contract(billing.ScheduleMonthly, date(2025, time.January, 1), date(2030, time.December, 31))

	periods := due(c, date(2100, time.January, 1), nil)

	assert.Len(t, periods, 72)
}

func TestScheduler_InvalidContracts_NotBillable(t *testing.T) {
	t.Run("end before start", func(t *testing.T) {
		c := contract(billing.ScheduleAnnual, date(2025, time.January, 1), date(2024, time.January, 1))
		assert.Empty(t, due(c, date(2026, time.January, 1), nil))
	})

	t.Run("variable table not summing to 100", func(t *testing.T) {
		c := contract(billing.ScheduleVariable, date(2025, time.January, 1), date(2025, time.December, 31))
		for i := range c.MonthlyBilling {
			c.MonthlyBilling[i] = billing.MonthlyShare{Percentage: decimal.NewFromInt(5), DayOfMonth: 1}
		}
		assert.Empty(t, due(c, date(2026, time.January, 1), nil))
	})
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestScheduler_PeriodsAreContiguous(t *testing.T) {
	// For every schedule, periods chain without gaps or overlaps and the
	// first period starts the day after the last invoice.

	schedules := []billing.Schedule{
		billing.ScheduleAnnual, billing.ScheduleSemiAnnual,
		billing.ScheduleQuarterly, billing.ScheduleMonthly, billing.ScheduleVariable,
	}
	lastInvoice := billing.Invoice{ContractID: "ctr-1", Status: billing.StatusDue,
		Period: generic.Period{Start: date(2023, time.March, 10), End: date(2023, time.April, 17)}}

	for _, s := range schedules {
		t.Run(string(s), func(t *testing.T) {
			c := contract(s, date(2023, time.March, 10), date(2028, time.August, 20))
			c.MonthlyBilling = billing.EvenMonthlyBilling(5)

			periods := due(c, date(2030, time.January, 1), nil, lastInvoice)

			require.NotEmpty(t, periods)
			assert.Equal(t, date(2023, time.April, 18), periods[0].Period.Start)
			for i := 1; i < len(periods); i++ {
				assert.True(t, periods[i].Period.Follows(periods[i-1].Period),
					"gap or overlap between %s and %s", periods[i-1].Period, periods[i].Period)
				assert.True(t, periods[i].Period.Valid())
			}
			assert.Equal(t, c.EndDate, periods[len(periods)-1].Period.End)
		})
	}
}

func TestDueForAll_OrdersByContract(t *testing.T) {
	a := contract(billing.ScheduleAnnual, date(2025, time.January, 1), date(2025, time.December, 31))
	a.ID = "ctr-b"
	b := contract(billing.ScheduleAnnual, date(2025, time.January, 1), date(2025, time.December, 31))
	b.ID = "ctr-a"

	periods := billing.DueForAll([]billing.Contract{a, b}, nil, nil, date(2025, time.June, 1))

	require.Len(t, periods, 2)
	assert.Equal(t, generic.ContractID("ctr-a"), periods[0].ContractID)
	assert.Equal(t, "ctr-a/2025-01-01", periods[0].IdempotencyKey())
}
