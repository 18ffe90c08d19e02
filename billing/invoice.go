package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	StatusProforma  InvoiceStatus = "proforma"
	StatusDue       InvoiceStatus = "due"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusFinalized InvoiceStatus = "finalized"
)

// transitions lists the allowed status moves. Finalized is terminal.
var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusProforma: {StatusDue, StatusFinalized},
	StatusDue:      {StatusPaid, StatusOverdue, StatusFinalized},
	StatusOverdue:  {StatusPaid, StatusFinalized},
	StatusPaid:     {StatusFinalized},
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to InvoiceStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LineItem is one invoice (or credit note) line.
type LineItem struct {
	ActivityID  generic.ActivityID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   generic.Money
	Total       generic.Money
}

type Invoice struct {
	ID             generic.InvoiceID
	Number         string
	ClientID       generic.ClientID
	ContractID     generic.ContractID
	Status         InvoiceStatus
	Period         generic.Period // zero for invoices not produced by the scheduler
	Schedule       Schedule
	IssueDate      generic.Date
	DueDate        generic.Date
	Lines          []LineItem
	Subtotal       generic.Money
	Tax            generic.Money
	Total          generic.Money
	IdempotencyKey string
}

// Transition moves the invoice to a new status.
func (inv *Invoice) Transition(to InvoiceStatus) error {
	if inv.Status == StatusFinalized {
		return fmt.Errorf("%w: %s", generic.ErrInvoiceFinalized, inv.ID)
	}
	if !CanTransition(inv.Status, to) {
		return fmt.Errorf("%w: %s -> %s", generic.ErrInvalidTransition, inv.Status, to)
	}
	inv.Status = to
	return nil
}

// =============================================================================
// BUILDING INVOICES FROM BILLABLE PERIODS
// =============================================================================

// InvoiceOptions controls how billable periods become invoices.
type InvoiceOptions struct {
	TaxRate         *decimal.Decimal // nil means DefaultTaxRate; zero is VAT-exempt
	PaymentTermDays int
	IssueDate       generic.Date
	Status          InvoiceStatus // defaults to StatusDue
	NewID           func() generic.InvoiceID
}

// DefaultTaxRate is the standard French VAT rate.
var DefaultTaxRate = decimal.RequireFromString("0.20")

// DefaultPaymentTermDays applies when the contract has no billing table.
const DefaultPaymentTermDays = 30

func (o InvoiceOptions) withDefaults() InvoiceOptions {
	if o.TaxRate == nil {
		rate := DefaultTaxRate
		o.TaxRate = &rate
	}
	if o.PaymentTermDays <= 0 {
		o.PaymentTermDays = DefaultPaymentTermDays
	}
	if o.IssueDate.IsZero() {
		o.IssueDate = generic.Today()
	}
	if o.Status == "" {
		o.Status = StatusDue
	}
	if o.NewID == nil {
		o.NewID = func() generic.InvoiceID { return generic.InvoiceID(uuid.NewString()) }
	}
	return o
}

// BuildInvoice aggregates a billable period into an invoice with one line
// per activity.
func BuildInvoice(c Contract, bp BillablePeriod, activities map[generic.ActivityID]Activity, opts InvoiceOptions) Invoice {
	opts = opts.withDefaults()

	inv := Invoice{
		ID:             opts.NewID(),
		ClientID:       bp.ClientID,
		ContractID:     bp.ContractID,
		Status:         opts.Status,
		Period:         bp.Period,
		Schedule:       bp.Schedule,
		IssueDate:      opts.IssueDate,
		IdempotencyKey: bp.IdempotencyKey(),
	}
	inv.Number = invoiceNumber(c, bp)
	inv.DueDate = dueDate(c, bp, opts)

	one := decimal.NewFromInt(1)
	for _, line := range bp.Lines {
		label := string(line.ActivityID)
		if a, ok := activities[line.ActivityID]; ok && a.Label != "" {
			label = a.Label
		}
		inv.Lines = append(inv.Lines, LineItem{
			ActivityID:  line.ActivityID,
			Description: fmt.Sprintf("%s du %s au %s", label, bp.Period.Start, bp.Period.End),
			Quantity:    one,
			UnitPrice:   line.Amount,
			Total:       line.Amount,
		})
	}
	inv.recomputeTotals(*opts.TaxRate)
	return inv
}

func (inv *Invoice) recomputeTotals(taxRate decimal.Decimal) {
	subtotal := generic.ZeroMoney()
	for _, l := range inv.Lines {
		subtotal = subtotal.Add(l.Total)
	}
	inv.Subtotal = subtotal
	inv.Tax = subtotal.Mul(taxRate).RoundCents()
	inv.Total = inv.Subtotal.Add(inv.Tax)
}

func invoiceNumber(c Contract, bp BillablePeriod) string {
	ref := c.Reference
	if ref == "" {
		ref = string(c.ID)
	}
	return fmt.Sprintf("F-%s-%s", ref, bp.Period.Start.Time.Format("20060102"))
}

// dueDate uses the variable table's day of month for the period's first
// month, clamped to the month's last day; other schedules pay at term.
func dueDate(c Contract, bp BillablePeriod, opts InvoiceOptions) generic.Date {
	if c.Schedule == ScheduleVariable {
		start := bp.Period.Start
		day := c.MonthlyBilling[start.Month()-1].DayOfMonth
		last := generic.EndOfMonth(start.Year(), start.Month())
		if day < 1 {
			day = 1
		}
		if day > last.Day() {
			day = last.Day()
		}
		return generic.NewDate(start.Year(), start.Month(), day)
	}
	return opts.IssueDate.AddDays(opts.PaymentTermDays)
}

// MarkOverdue moves every due invoice whose due date is before asOf to overdue.
// It returns the invoices it changed.
func MarkOverdue(invoices []Invoice, asOf time.Time) []Invoice {
	today := generic.DateOf(asOf)
	var changed []Invoice
	for i := range invoices {
		inv := &invoices[i]
		if inv.Status != StatusDue || inv.DueDate.IsZero() || !inv.DueDate.Before(today) {
			continue
		}
		if err := inv.Transition(StatusOverdue); err == nil {
			changed = append(changed, *inv)
		}
	}
	return changed
}
