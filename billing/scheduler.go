/*
scheduler.go - Billing Scheduler

PURPOSE:
  Determines, for a contract, every billing period that has come due but
  has not been invoiced yet, and the pre-tax amount owed for each.

ALGORITHM:
  1. next = day after the latest non-proforma invoice's period end,
     or the contract start date when nothing was invoiced yet
  2. while next < asOf AND next < contract end:
       a. step = StepFor(contract, next)        (months, factor)
       b. end  = next + step.Months - 1 day, clamped to contract end
       c. amount = factor * sum(site amounts for covered activities)
       d. emit BillablePeriod{next .. end, amount}
       e. next = end + 1 day
  3. periods come out chronological and contiguous

  The loop always advances next by at least one day, so it terminates.

EDGE CASES:
  - No linked sites or no matching activities: periods are still emitted
    with a zero amount. Callers filter them if they want to.
  - Structurally invalid contracts (end before start, variable table not
    summing to 100) are not billable: zero periods, no error.
  - Proforma invoices never count as "already invoiced".

SIDE EFFECTS:
  None. Persisting invoices is the caller's job (see batch.go).

SEE ALSO:
  - schedule.go: Factor table
  - invoice.go:  BuildInvoice materializes a BillablePeriod
*/
package billing

import (
	"sort"

	"github.com/warp/energy-billing/generic"
)

// BillablePeriod is one due, not yet invoiced billing period of a contract.
type BillablePeriod struct {
	ContractID generic.ContractID
	ClientID   generic.ClientID
	Period     generic.Period
	Schedule   Schedule
	Factor     Fraction
	Amount     generic.Money
	Lines      []PeriodLine
}

// PeriodLine is the prorated amount of one activity over the period,
// summed across the contract's sites.
type PeriodLine struct {
	ActivityID generic.ActivityID
	Annual     generic.Money
	Amount     generic.Money
}

// IdempotencyKey uniquely identifies the invoice this period materializes into.
func (bp BillablePeriod) IdempotencyKey() string {
	return PeriodKey(bp.ContractID, bp.Period.Start)
}

// PeriodKey builds the (contract, period start) uniqueness key.
func PeriodKey(contractID generic.ContractID, start generic.Date) string {
	return string(contractID) + "/" + start.String()
}

// SchedulerInput is an immutable snapshot of everything the scheduler reads.
type SchedulerInput struct {
	Contract Contract
	Invoices []Invoice // invoices of any contract; filtered internally
	Sites    []Site    // candidate sites; those not linked to the contract are ignored
	AsOf     generic.Date
}

// DueBillingPeriods returns the billing periods due for the contract as of
// in.AsOf, in chronological order.
func DueBillingPeriods(in SchedulerInput) []BillablePeriod {
	c := in.Contract
	if err := c.Validate(); err != nil {
		return nil
	}

	annual := annualAmounts(c, in.Sites)
	next := NextBillingStart(c, in.Invoices)

	var periods []BillablePeriod
	for next.Before(in.AsOf) && next.Before(c.EndDate) {
		step := StepFor(c, next)
		period := generic.PeriodSpanning(next, step.Months).ClampEnd(c.EndDate)
		if next.After(period.End) {
			break
		}

		periods = append(periods, prorate(c, period, step.Factor, annual))
		next = period.End.DayAfter()
	}
	return periods
}

// NextBillingStart returns the first day not covered by a non-proforma
// invoice of the contract, never earlier than the contract start.
func NextBillingStart(c Contract, invoices []Invoice) generic.Date {
	var billed []Invoice
	for _, inv := range invoices {
		if inv.ContractID != c.ID || inv.Status == StatusProforma || inv.Period.End.IsZero() {
			continue
		}
		billed = append(billed, inv)
	}
	if len(billed) == 0 {
		return c.StartDate
	}

	sort.SliceStable(billed, func(i, j int) bool {
		return billed[i].Period.End.After(billed[j].Period.End)
	})
	return generic.MaxDate(c.StartDate, billed[0].Period.End.DayAfter())
}

// annualActivityAmount is the annual amount of one covered activity,
// summed over every site linked to the contract.
type annualActivityAmount struct {
	activityID generic.ActivityID
	amount     generic.Money
}

func annualAmounts(c Contract, sites []Site) []annualActivityAmount {
	linked := make(map[generic.SiteID]bool, len(c.SiteIDs))
	for _, id := range c.SiteIDs {
		linked[id] = true
	}

	totals := make(map[generic.ActivityID]generic.Money)
	seen := make(map[generic.SiteID]bool)
	for _, site := range sites {
		if seen[site.ID] {
			continue
		}
		if !linked[site.ID] && (site.ContractID == "" || site.ContractID != c.ID) {
			continue
		}
		seen[site.ID] = true

		for _, sa := range site.Amounts {
			if !c.Covers(sa.ActivityID) {
				continue
			}
			totals[sa.ActivityID] = totals[sa.ActivityID].Add(sa.Amount)
		}
	}

	// Contract activity order gives stable invoice line order.
	var out []annualActivityAmount
	for _, id := range c.ActivityIDs {
		if total, ok := totals[id]; ok {
			out = append(out, annualActivityAmount{activityID: id, amount: total})
			delete(totals, id)
		}
	}
	return out
}

func prorate(c Contract, period generic.Period, factor Fraction, annual []annualActivityAmount) BillablePeriod {
	bp := BillablePeriod{
		ContractID: c.ID,
		ClientID:   c.ClientID,
		Period:     period,
		Schedule:   c.Schedule,
		Factor:     factor,
	}

	sum := generic.ZeroMoney()
	for _, a := range annual {
		sum = sum.Add(a.amount)
		bp.Lines = append(bp.Lines, PeriodLine{
			ActivityID: a.activityID,
			Annual:     a.amount,
			Amount:     factor.Apply(a.amount).RoundCents(),
		})
	}
	bp.Amount = factor.Apply(sum).RoundCents()

	// Lines round independently; the last line absorbs the remainder so
	// they add up to the period amount.
	if n := len(bp.Lines); n > 0 {
		lined := generic.ZeroMoney()
		for _, l := range bp.Lines {
			lined = lined.Add(l.Amount)
		}
		bp.Lines[n-1].Amount = bp.Lines[n-1].Amount.Add(bp.Amount.Sub(lined))
	}
	return bp
}

// =============================================================================
// MULTI-CONTRACT
// =============================================================================

// DueForAll runs the scheduler for every contract, ordered by contract ID.
func DueForAll(contracts []Contract, sites []Site, invoices []Invoice, asOf generic.Date) []BillablePeriod {
	sorted := append([]Contract(nil), contracts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var all []BillablePeriod
	for _, c := range sorted {
		all = append(all, DueBillingPeriods(SchedulerInput{
			Contract: c,
			Invoices: invoices,
			Sites:    sites,
			AsOf:     asOf,
		})...)
	}
	return all
}
