// Package memory provides an in-memory billing.InvoiceStore for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu          sync.RWMutex
	invoices    map[generic.InvoiceID]billing.Invoice
	byContract  map[generic.ContractID][]generic.InvoiceID
	idempotency map[string]generic.InvoiceID
}

func New() *Store {
	return &Store{
		invoices:    make(map[generic.InvoiceID]billing.Invoice),
		byContract:  make(map[generic.ContractID][]generic.InvoiceID),
		idempotency: make(map[string]generic.InvoiceID),
	}
}

var _ billing.InvoiceStore = (*Store)(nil)

// CreateInvoice stores an invoice, rejecting duplicate idempotency keys.
func (s *Store) CreateInvoice(_ context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	if inv.IdempotencyKey != "" {
		if existing, ok := s.idempotency[inv.IdempotencyKey]; ok {
			return fmt.Errorf("%w: %s (invoice %s)", generic.ErrPeriodAlreadyInvoiced, inv.IdempotencyKey, existing)
		}
		s.idempotency[inv.IdempotencyKey] = inv.ID
	}

	s.invoices[inv.ID] = cloneInvoice(inv)
	s.byContract[inv.ContractID] = append(s.byContract[inv.ContractID], inv.ID)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id generic.InvoiceID) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", generic.ErrEntityNotFound, id)
	}
	out := cloneInvoice(inv)
	return &out, nil
}

// ListInvoicesByContract returns invoices ordered by period start.
func (s *Store) ListInvoicesByContract(_ context.Context, contractID generic.ContractID) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byContract[contractID]
	result := make([]billing.Invoice, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneInvoice(s.invoices[id]))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Period.Start.Before(result[j].Period.Start)
	})
	return result, nil
}

func (s *Store) UpdateInvoiceStatus(_ context.Context, id generic.InvoiceID, to billing.InvoiceStatus) (*billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", generic.ErrEntityNotFound, id)
	}
	if err := inv.Transition(to); err != nil {
		return nil, err
	}
	s.invoices[id] = inv
	out := cloneInvoice(inv)
	return &out, nil
}

// Len returns the number of stored invoices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices)
}

func cloneInvoice(inv billing.Invoice) billing.Invoice {
	inv.Lines = append([]billing.LineItem(nil), inv.Lines...)
	return inv
}
