/*
scheduler.go - Periodic billing runner

PURPOSE:
  Periodically invoices every contract period that has come due and moves
  unpaid invoices past their due date to overdue. This is the unattended
  counterpart of POST /api/billing/run.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start, then on every tick
  - Two runs never overlap: a manual RunNow waits for a ticking run
  - Overlap with an HTTP-triggered run is harmless, the invoice store
    rejects the second invoice of a (contract, period start)
  - Keeps the last MaxRuns run records for GET /api/billing/runs

CONFIGURATION:
  - Interval: BILLING_INTERVAL (0 disables the runner)

USAGE:
  runner := NewBillingRunner(handler, time.Hour, logger)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - handlers.go:      Handler.Bill (shared with the HTTP endpoint)
  - billing/batch.go: Concurrent invoice creation
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// MaxRuns is how many run records the runner keeps.
const MaxRuns = 50

// RunRecord is the audit trail of one run.
type RunRecord struct {
	ID         string    `json:"id"`
	AsOf       string    `json:"as_of"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Overdue    int       `json:"overdue"`
	Summary    string    `json:"summary"`
	Error      string    `json:"error,omitempty"`
}

// BillingRunner handles automated batch invoicing.
type BillingRunner struct {
	Handler  *Handler
	Interval time.Duration
	Logger   zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex // guards ticker and stop

	runMu sync.Mutex // serializes runs
	recMu sync.Mutex
	runs  []RunRecord
	seq   int
}

// NewBillingRunner creates a runner and registers it on the handler.
func NewBillingRunner(h *Handler, interval time.Duration, logger zerolog.Logger) *BillingRunner {
	br := &BillingRunner{
		Handler:  h,
		Interval: interval,
		Logger:   logger.With().Str("component", "billing-runner").Logger(),
	}
	h.Runner = br
	return br
}

// Start begins the runner. A non-positive interval leaves it disabled.
func (br *BillingRunner) Start() {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.Interval <= 0 {
		br.Logger.Info().Msg("disabled, not starting")
		return
	}
	if br.ticker != nil {
		return
	}

	br.ticker = time.NewTicker(br.Interval)
	br.stop = make(chan struct{})
	br.wg.Add(1)

	go br.run(br.ticker, br.stop)

	br.Logger.Info().Dur("interval", br.Interval).Msg("started")
}

// Stop stops the runner and waits for a run in progress.
func (br *BillingRunner) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.ticker == nil {
		return
	}
	br.ticker.Stop()
	close(br.stop)
	br.wg.Wait()
	br.ticker = nil
	br.Logger.Info().Msg("stopped")
}

func (br *BillingRunner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer br.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	br.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			br.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow bills everything due as of today and flags overdue invoices.
func (br *BillingRunner) RunNow(ctx context.Context) RunRecord {
	br.runMu.Lock()
	defer br.runMu.Unlock()

	asOf := br.Handler.today()
	rec := RunRecord{
		ID:        br.nextID(),
		AsOf:      asOf.String(),
		StartedAt: time.Now().UTC(),
	}

	report, err := br.Handler.Bill(ctx, asOf, nil, false)
	if err != nil {
		rec.Error = err.Error()
		br.Logger.Error().Err(err).Msg("billing run failed")
	} else {
		rec.Succeeded, rec.Failed, rec.Skipped = report.Succeeded, report.Failed, report.Skipped
		rec.Summary = report.Summary()
	}

	overdue, err := br.markOverdue(ctx, asOf)
	if err != nil && rec.Error == "" {
		rec.Error = err.Error()
	}
	rec.Overdue = overdue
	rec.FinishedAt = time.Now().UTC()

	br.record(rec)
	br.Logger.Info().
		Str("run_id", rec.ID).
		Int("succeeded", rec.Succeeded).
		Int("failed", rec.Failed).
		Int("overdue", rec.Overdue).
		Msg("billing run completed")
	return rec
}

func (br *BillingRunner) markOverdue(ctx context.Context, asOf generic.Date) (int, error) {
	invoices, err := br.Handler.Store.ListInvoices(ctx)
	if err != nil {
		br.Logger.Error().Err(err).Msg("listing invoices for overdue check")
		return 0, err
	}

	count := 0
	for _, inv := range billing.MarkOverdue(invoices, asOf.Time) {
		if _, err := br.Handler.Store.UpdateInvoiceStatus(ctx, inv.ID, billing.StatusOverdue); err != nil {
			br.Logger.Warn().Err(err).Str("invoice_id", string(inv.ID)).Msg("marking invoice overdue")
			continue
		}
		count++
	}
	return count, nil
}

func (br *BillingRunner) nextID() string {
	br.recMu.Lock()
	defer br.recMu.Unlock()
	br.seq++
	return fmt.Sprintf("run-%d-%d", time.Now().Unix(), br.seq)
}

func (br *BillingRunner) record(rec RunRecord) {
	br.recMu.Lock()
	defer br.recMu.Unlock()

	br.runs = append([]RunRecord{rec}, br.runs...)
	if len(br.runs) > MaxRuns {
		br.runs = br.runs[:MaxRuns]
	}
}

// Runs returns the recorded runs, newest first.
func (br *BillingRunner) Runs() []RunRecord {
	br.recMu.Lock()
	defer br.recMu.Unlock()
	return append([]RunRecord{}, br.runs...)
}
