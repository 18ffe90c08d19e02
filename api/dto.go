/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types in
  billing and indexation carry no JSON tags of their own (except the
  index types, whose shape is already the wire shape), so every response
  goes through one of these.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalogue:
    ClientDTO, ActivityDTO (factory.ActivityJSON), contracts and sites use
    factory.ContractJSON / factory.SiteJSON directly

  Billing:
    BillablePeriodDTO, PeriodLineDTO, BillingRunRequest, BillingRunResponse

  Invoices:
    InvoiceDTO, LineItemDTO, StatusRequest, CreditNoteRequest, CreditNoteDTO

  Indexation:
    IndexValuesResponse

MONEY:
  Amounts are serialized as strings with two decimals ("1200.00") so that
  no client ever sees a float rounding artefact.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: ContractJSON, SiteJSON
*/
package api

import (
	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/indexation"
)

// =============================================================================
// CATALOGUE
// =============================================================================

// ClientDTO represents a client in requests and responses.
type ClientDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// BILLING
// =============================================================================

// PeriodLineDTO is one activity's share of a billable period.
type PeriodLineDTO struct {
	ActivityID string `json:"activity_id"`
	Annual     string `json:"annual"`
	Amount     string `json:"amount"`
}

// BillablePeriodDTO is a due, not yet invoiced period.
type BillablePeriodDTO struct {
	ContractID     string          `json:"contract_id"`
	ClientID       string          `json:"client_id"`
	Start          string          `json:"start"`
	End            string          `json:"end"`
	Schedule       string          `json:"schedule"`
	Factor         string          `json:"factor"`
	Amount         string          `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	Lines          []PeriodLineDTO `json:"lines"`
}

// BillingRunRequest triggers batch invoicing.
type BillingRunRequest struct {
	AsOf        string   `json:"as_of,omitempty"` // YYYY-MM-DD, defaults to today
	ContractIDs []string `json:"contract_ids,omitempty"`
	SkipZero    bool     `json:"skip_zero,omitempty"`
}

// BillingItemDTO is the outcome of one period in a run.
type BillingItemDTO struct {
	Key       string `json:"key"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Amount    string `json:"amount"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BillingRunResponse reports a batch.
type BillingRunResponse struct {
	AsOf      string           `json:"as_of"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Summary   string           `json:"summary"`
	Reasons   []string         `json:"reasons"`
	Items     []BillingItemDTO `json:"items"`
}

// =============================================================================
// INVOICES
// =============================================================================

// LineItemDTO is one invoice or credit note line.
type LineItemDTO struct {
	ActivityID  string `json:"activity_id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID             string        `json:"id"`
	Number         string        `json:"number"`
	ClientID       string        `json:"client_id"`
	ContractID     string        `json:"contract_id,omitempty"`
	Status         string        `json:"status"`
	PeriodStart    string        `json:"period_start,omitempty"`
	PeriodEnd      string        `json:"period_end,omitempty"`
	Schedule       string        `json:"schedule,omitempty"`
	IssueDate      string        `json:"issue_date"`
	DueDate        string        `json:"due_date,omitempty"`
	Lines          []LineItemDTO `json:"lines"`
	Subtotal       string        `json:"subtotal"`
	Tax            string        `json:"tax"`
	Total          string        `json:"total"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// StatusRequest moves an invoice to another status.
type StatusRequest struct {
	Status string `json:"status"`
}

// CreditNoteRequest cancels one or more invoices of the same client.
type CreditNoteRequest struct {
	InvoiceIDs []string `json:"invoice_ids"`
	IssueDate  string   `json:"issue_date,omitempty"`
}

// CreditNoteDTO represents a credit note in API responses.
type CreditNoteDTO struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"client_id"`
	InvoiceIDs []string      `json:"invoice_ids"`
	IssueDate  string        `json:"issue_date"`
	Lines      []LineItemDTO `json:"lines"`
	Subtotal   string        `json:"subtotal"`
	Tax        string        `json:"tax"`
	Total      string        `json:"total"`
}

// =============================================================================
// INDEXATION
// =============================================================================

// IndexValuesResponse lists the values of an index. Skipped is only set for
// calculated indices and explains every period that produced no value.
type IndexValuesResponse struct {
	Index   indexation.Index        `json:"index"`
	Values  []indexation.IndexValue `json:"values"`
	Skipped []indexation.Skip       `json:"skipped,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func dateString(d generic.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func toBillablePeriodDTO(bp billing.BillablePeriod) BillablePeriodDTO {
	dto := BillablePeriodDTO{
		ContractID:     string(bp.ContractID),
		ClientID:       string(bp.ClientID),
		Start:          bp.Period.Start.String(),
		End:            bp.Period.End.String(),
		Schedule:       string(bp.Schedule),
		Factor:         bp.Factor.String(),
		Amount:         bp.Amount.String(),
		IdempotencyKey: bp.IdempotencyKey(),
		Lines:          make([]PeriodLineDTO, 0, len(bp.Lines)),
	}
	for _, l := range bp.Lines {
		dto.Lines = append(dto.Lines, PeriodLineDTO{
			ActivityID: string(l.ActivityID),
			Annual:     l.Annual.String(),
			Amount:     l.Amount.String(),
		})
	}
	return dto
}

func toLineItemDTOs(lines []billing.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, 0, len(lines))
	for _, l := range lines {
		dtos = append(dtos, LineItemDTO{
			ActivityID:  string(l.ActivityID),
			Description: l.Description,
			Quantity:    l.Quantity.String(),
			UnitPrice:   l.UnitPrice.String(),
			Total:       l.Total.String(),
		})
	}
	return dtos
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:             string(inv.ID),
		Number:         inv.Number,
		ClientID:       string(inv.ClientID),
		ContractID:     string(inv.ContractID),
		Status:         string(inv.Status),
		PeriodStart:    dateString(inv.Period.Start),
		PeriodEnd:      dateString(inv.Period.End),
		Schedule:       string(inv.Schedule),
		IssueDate:      dateString(inv.IssueDate),
		DueDate:        dateString(inv.DueDate),
		Lines:          toLineItemDTOs(inv.Lines),
		Subtotal:       inv.Subtotal.String(),
		Tax:            inv.Tax.String(),
		Total:          inv.Total.String(),
		IdempotencyKey: inv.IdempotencyKey,
	}
}

func toCreditNoteDTO(cn billing.CreditNote) CreditNoteDTO {
	ids := make([]string, 0, len(cn.InvoiceIDs))
	for _, id := range cn.InvoiceIDs {
		ids = append(ids, string(id))
	}
	return CreditNoteDTO{
		ID:         cn.ID,
		ClientID:   string(cn.ClientID),
		InvoiceIDs: ids,
		IssueDate:  dateString(cn.IssueDate),
		Lines:      toLineItemDTOs(cn.Lines),
		Subtotal:   cn.Subtotal.String(),
		Tax:        cn.Tax.String(),
		Total:      cn.Total.String(),
	}
}

func toBatchResponse(asOf generic.Date, report billing.BatchReport) BillingRunResponse {
	resp := BillingRunResponse{
		AsOf:      asOf.String(),
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		Summary:   report.Summary(),
		Reasons:   report.Reasons,
		Items:     make([]BillingItemDTO, 0, len(report.Results)),
	}
	if resp.Reasons == nil {
		resp.Reasons = []string{}
	}
	for _, res := range report.Results {
		item := BillingItemDTO{
			Key:       res.Key,
			InvoiceID: string(res.InvoiceID),
			Amount:    res.Amount.String(),
			Skipped:   res.Skipped,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}
