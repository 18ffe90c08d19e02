// Package billing implements contract billing for energy-service contracts.
// It turns contracts, sites and their per-activity annual amounts into the
// billing periods that are due, and materializes those periods as invoices.
package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// BILLING SCHEDULE
// =============================================================================

// Schedule is the periodicity at which a contract is invoiced.
type Schedule string

const (
	ScheduleAnnual     Schedule = "Annuel"
	ScheduleSemiAnnual Schedule = "Semestriel"
	ScheduleQuarterly  Schedule = "Trimestriel"
	ScheduleMonthly    Schedule = "Mensuel"
	ScheduleVariable   Schedule = "Variable"
)

// ParseSchedule maps a free-form label to a Schedule. Anything unrecognized
// is billed annually.
func ParseSchedule(s string) Schedule {
	switch strings.TrimSpace(s) {
	case string(ScheduleSemiAnnual):
		return ScheduleSemiAnnual
	case string(ScheduleQuarterly):
		return ScheduleQuarterly
	case string(ScheduleMonthly):
		return ScheduleMonthly
	case string(ScheduleVariable), "Mensuel/Variable":
		return ScheduleVariable
	default:
		return ScheduleAnnual
	}
}

// =============================================================================
// CATALOGUE ENTITIES
// =============================================================================

// Client is the billed party. Invoices and credit notes never mix clients.
type Client struct {
	ID   generic.ClientID
	Name string
}

// Activity is a billable service type (maintenance, supply, monitoring...).
type Activity struct {
	ID    generic.ActivityID
	Code  string
	Label string
}

// SiteAmount is the annual pre-tax amount billed for one activity at a site.
type SiteAmount struct {
	ActivityID generic.ActivityID
	Amount     generic.Money
}

// Site is a delivery point belonging to a client, optionally under contract.
type Site struct {
	ID         generic.SiteID
	ClientID   generic.ClientID
	ContractID generic.ContractID // empty when the site is not under contract
	Name       string
	Amounts    []SiteAmount
}

// MonthlyShare is one month of a variable billing table: the percentage of
// the annual amount billed that month and the day of month it falls due.
type MonthlyShare struct {
	Percentage decimal.Decimal
	DayOfMonth int
}

// Contract binds a client, sites and activities to a billing schedule.
type Contract struct {
	ID          generic.ContractID
	ClientID    generic.ClientID
	Reference   string
	SiteIDs     []generic.SiteID
	ActivityIDs []generic.ActivityID
	Schedule    Schedule
	StartDate   generic.Date
	EndDate     generic.Date

	// MonthlyBilling is indexed by time.Month-1. Only used by ScheduleVariable.
	MonthlyBilling [12]MonthlyShare
}

var hundred = decimal.NewFromInt(100)

// Validate checks the structural invariants of a contract.
func (c Contract) Validate() error {
	var problems []string
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		problems = append(problems, "start and end dates are required")
	} else if c.EndDate.Before(c.StartDate) {
		problems = append(problems, fmt.Sprintf("end date %s before start date %s", c.EndDate, c.StartDate))
	}

	if c.Schedule == ScheduleVariable {
		total := decimal.Zero
		for i, share := range c.MonthlyBilling {
			if share.Percentage.IsNegative() {
				problems = append(problems, fmt.Sprintf("month %d: negative percentage", i+1))
			}
			if share.DayOfMonth < 1 || share.DayOfMonth > 31 {
				problems = append(problems, fmt.Sprintf("month %d: day of month %d out of range", i+1, share.DayOfMonth))
			}
			total = total.Add(share.Percentage)
		}
		if !total.Equal(hundred) {
			problems = append(problems, fmt.Sprintf("monthly percentages sum to %s, expected 100", total))
		}
	}

	if len(problems) > 0 {
		return &generic.ContractValidationError{ContractID: c.ID, Problems: problems}
	}
	return nil
}

// Covers reports whether the contract bills the given activity.
func (c Contract) Covers(activityID generic.ActivityID) bool {
	for _, id := range c.ActivityIDs {
		if id == activityID {
			return true
		}
	}
	return false
}

// Period returns the full contract term.
func (c Contract) Period() generic.Period {
	return generic.Period{Start: c.StartDate, End: c.EndDate}
}

// EvenMonthlyBilling returns a variable table spreading 100% evenly across
// the year (8.33% for eleven months, the remainder on December) due on day.
func EvenMonthlyBilling(day int) [12]MonthlyShare {
	var table [12]MonthlyShare
	share := decimal.RequireFromString("8.33")
	remaining := hundred
	for i := 0; i < 11; i++ {
		table[i] = MonthlyShare{Percentage: share, DayOfMonth: day}
		remaining = remaining.Sub(share)
	}
	table[11] = MonthlyShare{Percentage: remaining, DayOfMonth: day}
	return table
}
