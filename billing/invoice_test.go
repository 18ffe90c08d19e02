package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

var activities = map[generic.ActivityID]billing.Activity{
	"P1": {ID: "P1", Code: "P1", Label: "Maintenance chaufferie"},
	"P2": {ID: "P2", Code: "P2", Label: "Fourniture gaz"},
}

func fixedID(id string) func() generic.InvoiceID {
	return func() generic.InvoiceID { return generic.InvoiceID(id) }
}

func quarterlyPeriod(t *testing.T) (billing.Contract, billing.BillablePeriod) {
	t.Helper()
	c := contract(billing.ScheduleQuarterly, date(2025, time.January, 1), date(2025, time.December, 31))
	c.ActivityIDs = []generic.ActivityID{"P1", "P2"}
	sites := []billing.Site{site("site-1", amount("P1", 4000), amount("P2", 1000))}

	periods := due(c, date(2025, time.February, 1), sites)
	require.Len(t, periods, 1)
	return c, periods[0]
}

func TestBuildInvoice_OneLinePerActivity(t *testing.T) {
	c, bp := quarterlyPeriod(t)

	inv := billing.BuildInvoice(c, bp, activities, billing.InvoiceOptions{
		IssueDate: date(2025, time.February, 1),
		NewID:     fixedID("inv-1"),
	})

	assert.Equal(t, generic.InvoiceID("inv-1"), inv.ID)
	assert.Equal(t, billing.StatusDue, inv.Status)
	assert.Equal(t, "F-C001-20250101", inv.Number)
	assert.Equal(t, "ctr-1/2025-01-01", inv.IdempotencyKey)
	require.Len(t, inv.Lines, 2)
	assert.Equal(t, "Maintenance chaufferie du 2025-01-01 au 2025-03-31", inv.Lines[0].Description)
	assert.Equal(t, "1000.00", inv.Lines[0].Total.String())
	assert.Equal(t, "250.00", inv.Lines[1].Total.String())
	assert.True(t, inv.Lines[0].Quantity.Equal(decimal.NewFromInt(1)))

	assert.Equal(t, "1250.00", inv.Subtotal.String())
	assert.Equal(t, "250.00", inv.Tax.String())
	assert.Equal(t, "1500.00", inv.Total.String())
	assert.Equal(t, date(2025, time.March, 3), inv.DueDate)
}

func TestBuildInvoice_CustomTaxAndTerms(t *testing.T) {
	c, bp := quarterlyPeriod(t)

	rate := decimal.RequireFromString("0.055")
	inv := billing.BuildInvoice(c, bp, nil, billing.InvoiceOptions{
		TaxRate:         &rate,
		PaymentTermDays: 45,
		IssueDate:       date(2025, time.February, 1),
		NewID:           fixedID("inv-2"),
	})

	// Unknown activity label falls back to the activity ID
	assert.Equal(t, "P1 du 2025-01-01 au 2025-03-31", inv.Lines[0].Description)
	assert.Equal(t, "68.75", inv.Tax.String())
	assert.Equal(t, date(2025, time.March, 18), inv.DueDate)
}

func TestBuildInvoice_SubtotalMatchesPeriodAmount(t *testing.T) {
	// GIVEN: Three activities at 1000 a year on a monthly contract
	// WHEN: The first month is invoiced
	// THEN: 83.33 per activity would total 249.99; the last line carries
	//       the remainder so the subtotal is the period amount 250.00

	c := contract(billing.ScheduleMonthly, date(2025, time.January, 1), date(2025, time.December, 31))
	c.ActivityIDs = []generic.ActivityID{"P1", "P2", "P3"}
	sites := []billing.Site{site("site-1", amount("P1", 1000), amount("P2", 1000), amount("P3", 1000))}

	periods := due(c, date(2025, time.June, 1), sites)
	require.Len(t, periods, 5)

	for _, bp := range periods {
		inv := billing.BuildInvoice(c, bp, activities, billing.InvoiceOptions{NewID: fixedID("inv-m")})
		assert.True(t, inv.Subtotal.Equal(bp.Amount), "period %s: subtotal %s, amount %s", bp.Period, inv.Subtotal, bp.Amount)
	}

	bp := periods[0]
	assert.Equal(t, "250.00", bp.Amount.String())
	require.Len(t, bp.Lines, 3)
	assert.Equal(t, "83.33", bp.Lines[0].Amount.String())
	assert.Equal(t, "83.33", bp.Lines[1].Amount.String())
	assert.Equal(t, "83.34", bp.Lines[2].Amount.String())
}

func TestBuildInvoice_ZeroTaxRateIsKept(t *testing.T) {
	// GIVEN: A VAT-exempt deployment (rate 0)
	// WHEN: Building an invoice
	// THEN: No tax is added; a nil rate still means the default 20%

	c, bp := quarterlyPeriod(t)
	zero := decimal.Zero

	exempt := billing.BuildInvoice(c, bp, nil, billing.InvoiceOptions{TaxRate: &zero, NewID: fixedID("inv-0")})
	standard := billing.BuildInvoice(c, bp, nil, billing.InvoiceOptions{NewID: fixedID("inv-20")})

	assert.Equal(t, "0.00", exempt.Tax.String())
	assert.Equal(t, "1250.00", exempt.Total.String())
	assert.Equal(t, "250.00", standard.Tax.String())
}

func TestBuildInvoice_VariableScheduleDueDateFromTable(t *testing.T) {
	c := contract(billing.ScheduleVariable, date(2025, time.January, 1), date(2025, time.December, 31))
	c.MonthlyBilling = billing.EvenMonthlyBilling(31)
	sites := []billing.Site{site("site-1", amount("P1", 1200))}

	periods := due(c, date(2025, time.March, 1), sites)
	require.Len(t, periods, 2)

	inv := billing.BuildInvoice(c, periods[1], activities, billing.InvoiceOptions{NewID: fixedID("inv-3")})

	// Day 31 clamps to February's last day
	assert.Equal(t, date(2025, time.February, 28), inv.DueDate)
}

func TestInvoice_StatusTransitions(t *testing.T) {
	inv := billing.Invoice{ID: "inv-1", Status: billing.StatusProforma}

	require.NoError(t, inv.Transition(billing.StatusDue))
	require.NoError(t, inv.Transition(billing.StatusOverdue))
	require.NoError(t, inv.Transition(billing.StatusPaid))

	err := inv.Transition(billing.StatusDue)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	require.NoError(t, inv.Transition(billing.StatusFinalized))
	err = inv.Transition(billing.StatusPaid)
	assert.ErrorIs(t, err, generic.ErrInvoiceFinalized)
	assert.Equal(t, billing.StatusFinalized, inv.Status)
}

func TestMarkOverdue(t *testing.T) {
	invoices := []billing.Invoice{
		{ID: "late", Status: billing.StatusDue, DueDate: date(2025, time.March, 1)},
		{ID: "on-time", Status: billing.StatusDue, DueDate: date(2025, time.April, 1)},
		{ID: "paid", Status: billing.StatusPaid, DueDate: date(2025, time.January, 1)},
	}

	changed := billing.MarkOverdue(invoices, time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC))

	require.Len(t, changed, 1)
	assert.Equal(t, generic.InvoiceID("late"), changed[0].ID)
	assert.Equal(t, billing.StatusOverdue, invoices[0].Status)
	assert.Equal(t, billing.StatusDue, invoices[1].Status)
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func TestCreditNote_NegatesLines(t *testing.T) {
	c, bp := quarterlyPeriod(t)
	inv := billing.BuildInvoice(c, bp, activities, billing.InvoiceOptions{NewID: fixedID("inv-1")})

	cn, err := billing.NewCreditNote("av-1", date(2025, time.April, 1), inv)

	require.NoError(t, err)
	assert.Equal(t, generic.ClientID("cli-1"), cn.ClientID)
	require.Len(t, cn.Lines, 2)
	assert.Equal(t, "-1000.00", cn.Lines[0].Total.String())
	assert.Equal(t, "-1250.00", cn.Subtotal.String())
	assert.Equal(t, "-250.00", cn.Tax.String())
	assert.Equal(t, "-1500.00", cn.Total.String())
}

func TestCreditNote_RejectsMixedClients(t *testing.T) {
	a := billing.Invoice{ID: "a", ClientID: "cli-1", Status: billing.StatusDue}
	b := billing.Invoice{ID: "b", ClientID: "cli-2", Status: billing.StatusDue}

	_, err := billing.NewCreditNote("av-1", date(2025, time.April, 1), a, b)

	assert.True(t, errors.Is(err, generic.ErrMixedClients))
}

func TestCreditNote_RejectsProforma(t *testing.T) {
	a := billing.Invoice{ID: "a", ClientID: "cli-1", Status: billing.StatusProforma}

	_, err := billing.NewCreditNote("av-1", date(2025, time.April, 1), a)

	assert.Error(t, err)
}

func TestContractValidate(t *testing.T) {
	c := contract(billing.ScheduleVariable, date(2025, time.January, 1), date(2024, time.January, 1))

	err := c.Validate()

	var verr *generic.ContractValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, generic.ErrInvalidContract)
	// end before start, twelve out-of-range days, and a zero total
	assert.Len(t, verr.Problems, 14)
}

func TestParseSchedule(t *testing.T) {
	assert.Equal(t, billing.ScheduleQuarterly, billing.ParseSchedule("Trimestriel"))
	assert.Equal(t, billing.ScheduleVariable, billing.ParseSchedule("Mensuel/Variable"))
	assert.Equal(t, billing.ScheduleAnnual, billing.ParseSchedule("whatever"))
}
