/*
batch.go - Concurrent invoice creation for many billable periods

PURPOSE:
  Takes the output of the scheduler for many contracts and issues one
  invoice-creation request per billable period, concurrently.

FAILURE MODEL:
  Items are independent. A failure for one contract never aborts or rolls
  back another; the report counts successes and failures and keeps one
  human-readable reason per failure. Duplicate periods (already invoiced
  by a concurrent run) surface as failures wrapping
  generic.ErrPeriodAlreadyInvoiced.

SEE ALSO:
  - scheduler.go: Produces BillablePeriods
  - store.go:     InvoiceCreator contract
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/energy-billing/generic"
)

// DefaultBatchConcurrency bounds in-flight creations when unset.
const DefaultBatchConcurrency = 8

// BatchInvoicer turns billable periods into persisted invoices.
type BatchInvoicer struct {
	Creator     InvoiceCreator
	Options     InvoiceOptions
	Concurrency int
	Logger      zerolog.Logger
}

// BatchInput is what one run needs to build invoices.
type BatchInput struct {
	Contracts  map[generic.ContractID]Contract
	Activities map[generic.ActivityID]Activity
	Periods    []BillablePeriod

	// SkipZero drops zero-amount periods instead of invoicing them.
	SkipZero bool
}

// ItemResult is the outcome of one billable period.
type ItemResult struct {
	Key       string
	InvoiceID generic.InvoiceID
	Amount    generic.Money
	Skipped   bool
	Err       error
}

// BatchReport aggregates a run. Results keep the input order.
type BatchReport struct {
	Succeeded int
	Failed    int
	Skipped   int
	Reasons   []string
	Results   []ItemResult
}

// Summary renders the report the way operators read it.
func (r BatchReport) Summary() string {
	s := fmt.Sprintf("%d facture(s) créée(s), %d échec(s)", r.Succeeded, r.Failed)
	if len(r.Reasons) > 0 {
		s += " : " + strings.Join(r.Reasons, " ; ")
	}
	return s
}

// Run creates one invoice per period. It never returns early on item errors.
func (b *BatchInvoicer) Run(ctx context.Context, in BatchInput) BatchReport {
	limit := b.Concurrency
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	results := make([]ItemResult, len(in.Periods))

	// Not errgroup.WithContext: one failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(limit)

	for i, bp := range in.Periods {
		results[i].Key = bp.IdempotencyKey()
		results[i].Amount = bp.Amount

		if in.SkipZero && bp.Amount.IsZero() {
			results[i].Skipped = true
			continue
		}

		g.Go(func() error {
			results[i].InvoiceID, results[i].Err = b.createOne(ctx, in, bp)
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Results: results}
	for _, res := range results {
		switch {
		case res.Skipped:
			report.Skipped++
		case res.Err != nil:
			report.Failed++
			report.Reasons = append(report.Reasons, res.Err.Error())
		default:
			report.Succeeded++
		}
	}

	b.Logger.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("billing batch completed")
	return report
}

func (b *BatchInvoicer) createOne(ctx context.Context, in BatchInput, bp BillablePeriod) (generic.InvoiceID, error) {
	wrap := func(err error) error {
		return &generic.InvoiceCreationError{ContractID: bp.ContractID, Period: bp.Period, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return "", wrap(err)
	}

	contract, ok := in.Contracts[bp.ContractID]
	if !ok {
		return "", wrap(fmt.Errorf("%w: contract %s", generic.ErrEntityNotFound, bp.ContractID))
	}

	inv := BuildInvoice(contract, bp, in.Activities, b.Options)
	if err := b.Creator.CreateInvoice(ctx, inv); err != nil {
		var ev *zerolog.Event
		if errors.Is(err, generic.ErrPeriodAlreadyInvoiced) {
			ev = b.Logger.Warn()
		} else {
			ev = b.Logger.Error()
		}
		ev.Err(err).
			Str("contract_id", string(bp.ContractID)).
			Str("period_start", bp.Period.Start.String()).
			Msg("invoice creation failed")
		return "", wrap(err)
	}

	b.Logger.Debug().
		Str("contract_id", string(bp.ContractID)).
		Str("invoice_id", string(inv.ID)).
		Str("amount", bp.Amount.String()).
		Msg("invoice created")
	return inv.ID, nil
}
