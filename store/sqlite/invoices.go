package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// INVOICE STORE (billing.InvoiceStore interface)
// =============================================================================

const invoiceColumns = `id, number, client_id, contract_id, status, period_start, period_end,
	schedule, issue_date, due_date, subtotal, tax, total, idempotency_key`

// CreateInvoice stores an invoice and its lines atomically.
func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inv.ID, inv.Number, inv.ClientID, inv.ContractID, inv.Status,
			nullDate(inv.Period.Start), nullDate(inv.Period.End),
			inv.Schedule, inv.IssueDate.String(), nullDate(inv.DueDate),
			inv.Subtotal.Value.String(), inv.Tax.Value.String(), inv.Total.Value.String(),
			nullString(inv.IdempotencyKey), now, now,
		)
		if err != nil {
			return err
		}

		for i, l := range inv.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO invoice_lines (invoice_id, position, activity_id, description, quantity, unit_price, total)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, inv.ID, i, l.ActivityID, l.Description, l.Quantity.String(),
				l.UnitPrice.Value.String(), l.Total.Value.String()); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "invoices.idempotency_key") {
			return fmt.Errorf("%w: %s", generic.ErrPeriodAlreadyInvoiced, inv.IdempotencyKey)
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice with its lines.
func (s *Store) GetInvoice(ctx context.Context, id generic.InvoiceID) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getInvoice(ctx, s.db, id)
}

// ListInvoicesByContract returns a contract's invoices ordered by period start.
func (s *Store) ListInvoicesByContract(ctx context.Context, contractID generic.ContractID) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryInvoices(ctx, s.db, "WHERE contract_id = ? ORDER BY period_start, issue_date, id", contractID)
}

// ListInvoices returns every invoice, newest issue date first.
func (s *Store) ListInvoices(ctx context.Context) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryInvoices(ctx, s.db, "ORDER BY issue_date DESC, id")
}

// UpdateInvoiceStatus applies the status transition inside a transaction.
func (s *Store) UpdateInvoiceStatus(ctx context.Context, id generic.InvoiceID, to billing.InvoiceStatus) (*billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *billing.Invoice
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		inv, err := getInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := inv.Transition(to); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?",
			inv.Status, time.Now().UTC().Format(time.RFC3339), inv.ID); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func getInvoice(ctx context.Context, q querier, id generic.InvoiceID) (*billing.Invoice, error) {
	invoices, err := queryInvoices(ctx, q, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, notFound("invoice", string(id))
	}
	return &invoices[0], nil
}

func queryInvoices(ctx context.Context, q querier, tail string, args ...any) ([]billing.Invoice, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range invoices {
		lines, err := invoiceLines(ctx, q, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Lines = lines
	}
	return invoices, nil
}

func scanInvoice(rows *sql.Rows) (billing.Invoice, error) {
	var inv billing.Invoice
	var status, schedule, issue string
	var periodStart, periodEnd, due, key sql.NullString
	var subtotal, tax, total string

	if err := rows.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.ContractID, &status,
		&periodStart, &periodEnd, &schedule, &issue, &due,
		&subtotal, &tax, &total, &key); err != nil {
		return inv, err
	}

	inv.Status = billing.InvoiceStatus(status)
	inv.Schedule = billing.Schedule(schedule)
	inv.Period = generic.Period{Start: parseNullDate(periodStart), End: parseNullDate(periodEnd)}
	inv.IssueDate, _ = generic.ParseDate(issue)
	inv.DueDate = parseNullDate(due)
	inv.IdempotencyKey = key.String
	if err := parseAmounts([]*generic.Money{&inv.Subtotal, &inv.Tax, &inv.Total}, []string{subtotal, tax, total}); err != nil {
		return inv, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	return inv, nil
}

func invoiceLines(ctx context.Context, q querier, id generic.InvoiceID) ([]billing.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT activity_id, description, quantity, unit_price, total
		FROM invoice_lines WHERE invoice_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []billing.LineItem
	for rows.Next() {
		var l billing.LineItem
		var qty, unit, total string
		if err := rows.Scan(&l.ActivityID, &l.Description, &qty, &unit, &total); err != nil {
			return nil, err
		}
		l.Quantity, _ = decimal.NewFromString(qty)
		if err := parseAmounts([]*generic.Money{&l.UnitPrice, &l.Total}, []string{unit, total}); err != nil {
			return nil, fmt.Errorf("invoice %s line: %w", id, err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

type lineRecord struct {
	ActivityID  string `json:"activity_id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

// SaveCreditNote stores a credit note.
func (s *Store) SaveCreditNote(ctx context.Context, cn billing.CreditNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := json.Marshal(cn.InvoiceIDs)
	if err != nil {
		return err
	}
	records := make([]lineRecord, 0, len(cn.Lines))
	for _, l := range cn.Lines {
		records = append(records, lineRecord{
			ActivityID:  string(l.ActivityID),
			Description: l.Description,
			Quantity:    l.Quantity.String(),
			UnitPrice:   l.UnitPrice.Value.String(),
			Total:       l.Total.Value.String(),
		})
	}
	lines, err := json.Marshal(records)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_notes (id, client_id, invoice_ids_json, issue_date, lines_json, subtotal, tax, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cn.ID, cn.ClientID, string(ids), cn.IssueDate.String(), string(lines),
		cn.Subtotal.Value.String(), cn.Tax.Value.String(), cn.Total.Value.String(),
		time.Now().UTC().Format(time.RFC3339))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("credit note %s already exists", cn.ID)
	}
	return err
}

// GetCreditNote retrieves a credit note by ID.
func (s *Store) GetCreditNote(ctx context.Context, id string) (*billing.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cn billing.CreditNote
	var ids, issue, lines, subtotal, tax, total string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, invoice_ids_json, issue_date, lines_json, subtotal, tax, total
		FROM credit_notes WHERE id = ?
	`, id).Scan(&cn.ID, &cn.ClientID, &ids, &issue, &lines, &subtotal, &tax, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("credit note", id)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ids), &cn.InvoiceIDs); err != nil {
		return nil, fmt.Errorf("credit note %s: %w", id, err)
	}
	var records []lineRecord
	if err := json.Unmarshal([]byte(lines), &records); err != nil {
		return nil, fmt.Errorf("credit note %s: %w", id, err)
	}
	for _, r := range records {
		qty, _ := decimal.NewFromString(r.Quantity)
		l := billing.LineItem{
			ActivityID:  generic.ActivityID(r.ActivityID),
			Description: r.Description,
			Quantity:    qty,
		}
		if err := parseAmounts([]*generic.Money{&l.UnitPrice, &l.Total}, []string{r.UnitPrice, r.Total}); err != nil {
			return nil, fmt.Errorf("credit note %s line: %w", id, err)
		}
		cn.Lines = append(cn.Lines, l)
	}
	cn.IssueDate, _ = generic.ParseDate(issue)
	if err := parseAmounts([]*generic.Money{&cn.Subtotal, &cn.Tax, &cn.Total}, []string{subtotal, tax, total}); err != nil {
		return nil, fmt.Errorf("credit note %s: %w", id, err)
	}
	return &cn, nil
}
