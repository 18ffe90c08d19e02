/*
store.go - Persistence interfaces the billing package depends on

PURPOSE:
  Defines the boundary between billing logic and storage. The scheduler
  itself is pure; only batch invoicing and the API touch these interfaces.

IDEMPOTENCY:
  Every invoice produced from a billable period carries the key
  "{contractID}/{periodStart}". Stores MUST reject a second invoice with
  the same key with generic.ErrPeriodAlreadyInvoiced. This is the guard
  against two concurrent billing runs double-invoicing a period: the
  "last invoice" read in the scheduler is not a reservation, the unique
  key is.

IMPLEMENTATIONS:
  - store/sqlite: UNIQUE index on invoices.idempotency_key
  - store/memory: map of keys, for tests and demos

SEE ALSO:
  - batch.go: Concurrent creation using InvoiceCreator
*/
package billing

import (
	"context"

	"github.com/warp/energy-billing/generic"
)

// InvoiceCreator persists a single invoice.
type InvoiceCreator interface {
	// CreateInvoice stores the invoice. Returns ErrPeriodAlreadyInvoiced if
	// an invoice with the same non-empty IdempotencyKey exists.
	CreateInvoice(ctx context.Context, inv Invoice) error
}

// InvoiceStore is the full invoice persistence contract.
type InvoiceStore interface {
	InvoiceCreator

	GetInvoice(ctx context.Context, id generic.InvoiceID) (*Invoice, error)

	// ListInvoicesByContract returns all invoices of a contract, any status.
	ListInvoicesByContract(ctx context.Context, contractID generic.ContractID) ([]Invoice, error)

	// UpdateInvoiceStatus applies Invoice.Transition and persists the result.
	UpdateInvoiceStatus(ctx context.Context, id generic.InvoiceID, to InvoiceStatus) (*Invoice, error)
}

// CatalogStore serves the read side the scheduler consumes.
type CatalogStore interface {
	ListContracts(ctx context.Context) ([]Contract, error)
	GetContract(ctx context.Context, id generic.ContractID) (*Contract, error)
	ListSitesByContract(ctx context.Context, contractID generic.ContractID) ([]Site, error)
	ListActivities(ctx context.Context) ([]Activity, error)
}
