package billing

import (
	"fmt"

	"github.com/warp/energy-billing/generic"
)

// CreditNote cancels all or part of one or more invoices of a single client.
type CreditNote struct {
	ID         string
	ClientID   generic.ClientID
	InvoiceIDs []generic.InvoiceID
	IssueDate  generic.Date
	Lines      []LineItem
	Subtotal   generic.Money
	Tax        generic.Money
	Total      generic.Money
}

// NewCreditNote negates every line of the given invoices. All invoices must
// belong to the same client and none may be a proforma.
func NewCreditNote(id string, issueDate generic.Date, invoices ...Invoice) (CreditNote, error) {
	if len(invoices) == 0 {
		return CreditNote{}, fmt.Errorf("%w: credit note needs at least one invoice", generic.ErrEntityNotFound)
	}

	cn := CreditNote{ID: id, ClientID: invoices[0].ClientID, IssueDate: issueDate}
	tax := generic.ZeroMoney()
	for _, inv := range invoices {
		if inv.ClientID != cn.ClientID {
			return CreditNote{}, fmt.Errorf("%w: %s and %s", generic.ErrMixedClients, cn.ClientID, inv.ClientID)
		}
		if inv.Status == StatusProforma {
			return CreditNote{}, fmt.Errorf("%w: cannot credit proforma %s", generic.ErrInvalidTransition, inv.ID)
		}
		cn.InvoiceIDs = append(cn.InvoiceIDs, inv.ID)
		for _, l := range inv.Lines {
			cn.Lines = append(cn.Lines, LineItem{
				ActivityID:  l.ActivityID,
				Description: "Avoir : " + l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice.Neg(),
				Total:       l.Total.Neg(),
			})
		}
		tax = tax.Add(inv.Tax.Neg())
	}

	subtotal := generic.ZeroMoney()
	for _, l := range cn.Lines {
		subtotal = subtotal.Add(l.Total)
	}
	cn.Subtotal = subtotal
	cn.Tax = tax
	cn.Total = subtotal.Add(tax)
	return cn, nil
}
