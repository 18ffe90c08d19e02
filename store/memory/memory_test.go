package memory_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/store/memory"
)

func invoice(id, key string, start string) billing.Invoice {
	d := generic.MustParseDate(start)
	return billing.Invoice{
		ID:             generic.InvoiceID(id),
		ContractID:     "ctr-1",
		ClientID:       "cli-1",
		Status:         billing.StatusDue,
		Period:         generic.PeriodSpanning(d, 3),
		Lines:          []billing.LineItem{{ActivityID: "P1", Total: generic.MustParseMoney("100")}},
		IdempotencyKey: key,
	}
}

func TestStore_ConcurrentCreatesKeepOnePerKey(t *testing.T) {
	// GIVEN: Ten goroutines racing to invoice the same (contract, period start)
	// WHEN: All call CreateInvoice
	// THEN: Exactly one wins, the others get ErrPeriodAlreadyInvoiced

	store := memory.New()
	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateInvoice(context.Background(), invoice(fmt.Sprintf("inv-%d", i), "ctr-1/2025-01-01", "2025-01-01"))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, generic.ErrPeriodAlreadyInvoiced):
				dups.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 9, dups.Load())
	assert.Equal(t, 1, store.Len())
}

func TestStore_ListAndUpdate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateInvoice(ctx, invoice("inv-q2", "ctr-1/2025-04-01", "2025-04-01")))
	require.NoError(t, store.CreateInvoice(ctx, invoice("inv-q1", "ctr-1/2025-01-01", "2025-01-01")))
	// Invoices without a key are never deduplicated
	require.NoError(t, store.CreateInvoice(ctx, invoice("inv-manual-1", "", "2025-01-01")))
	require.NoError(t, store.CreateInvoice(ctx, invoice("inv-manual-2", "", "2025-01-01")))
	assert.Error(t, store.CreateInvoice(ctx, invoice("inv-q1", "other", "2025-01-01")), "ids are unique")

	list, err := store.ListInvoicesByContract(ctx, "ctr-1")
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, generic.InvoiceID("inv-q2"), list[3].ID, "ordered by period start")

	// Returned invoices are copies
	list[0].Lines[0].Description = "mutated"
	got, err := store.GetInvoice(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Empty(t, got.Lines[0].Description)

	updated, err := store.UpdateInvoiceStatus(ctx, "inv-q1", billing.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, updated.Status)

	_, err = store.UpdateInvoiceStatus(ctx, "inv-q1", billing.StatusDue)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = store.GetInvoice(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}
