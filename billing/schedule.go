/*
schedule.go - Proration factor table

PURPOSE:
  Maps a billing schedule to the length of one billing period and the
  fraction of the annual site amount billed for it.

FACTOR TABLE:
  Schedule      step       factor
  Annuel        12 months  1
  Semestriel     6 months  1/2
  Trimestriel    3 months  1/4
  Mensuel        1 month   1/12
  Variable       1 month   percentage(month of period start) / 100

  Unknown schedules are billed as Annuel.

SEE ALSO:
  - scheduler.go: Walks periods using this table
*/
package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/energy-billing/generic"
)

// Fraction is an exact proration factor Num/Den.
type Fraction struct {
	Num decimal.Decimal
	Den decimal.Decimal
}

func fraction(num, den int64) Fraction {
	return Fraction{Num: decimal.NewFromInt(num), Den: decimal.NewFromInt(den)}
}

// Apply prorates an annual amount.
func (f Fraction) Apply(annual generic.Money) generic.Money {
	return annual.Prorate(f.Num, f.Den)
}

// Decimal returns the factor as a decimal (for display only).
func (f Fraction) Decimal() decimal.Decimal {
	if f.Den.IsZero() {
		return decimal.Zero
	}
	return f.Num.Div(f.Den)
}

func (f Fraction) String() string {
	return f.Num.String() + "/" + f.Den.String()
}

// Step is one row of the factor table.
type Step struct {
	Months int
	Factor Fraction
}

// StepFor returns the period length and proration factor for a billing
// period of the contract starting at start.
func StepFor(c Contract, start generic.Date) Step {
	switch c.Schedule {
	case ScheduleSemiAnnual:
		return Step{Months: 6, Factor: fraction(1, 2)}
	case ScheduleQuarterly:
		return Step{Months: 3, Factor: fraction(1, 4)}
	case ScheduleMonthly:
		return Step{Months: 1, Factor: fraction(1, 12)}
	case ScheduleVariable:
		share := c.MonthlyBilling[start.Month()-1]
		return Step{Months: 1, Factor: Fraction{Num: share.Percentage, Den: hundred}}
	default:
		return Step{Months: 12, Factor: fraction(1, 1)}
	}
}
