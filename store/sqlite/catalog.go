package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// CLIENTS
// =============================================================================

// SaveClient inserts or renames a client.
func (s *Store) SaveClient(ctx context.Context, c billing.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, c.ID, c.Name, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ListClients returns all clients ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM clients ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []billing.Client
	for rows.Next() {
		var c billing.Client
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// =============================================================================
// ACTIVITIES
// =============================================================================

// SaveActivity inserts or updates an activity.
func (s *Store) SaveActivity(ctx context.Context, a billing.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, code, label, position)
		VALUES (?, ?, ?, (SELECT COUNT(*) FROM activities))
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, label = excluded.label
	`, a.ID, a.Code, a.Label)
	return err
}

// ListActivities returns activities in creation order.
func (s *Store) ListActivities(ctx context.Context) ([]billing.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, code, label FROM activities ORDER BY position, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []billing.Activity
	for rows.Next() {
		var a billing.Activity
		if err := rows.Scan(&a.ID, &a.Code, &a.Label); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// =============================================================================
// CONTRACTS
// =============================================================================

// monthlyShareRecord is the stored form of one Variable schedule month.
type monthlyShareRecord struct {
	Percentage string `json:"percentage"`
	DayOfMonth int    `json:"day_of_month"`
}

// SaveContract inserts or replaces a contract with its site and activity links.
func (s *Store) SaveContract(ctx context.Context, c billing.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := make([]monthlyShareRecord, 0, len(c.MonthlyBilling))
	for _, m := range c.MonthlyBilling {
		table = append(table, monthlyShareRecord{Percentage: m.Percentage.String(), DayOfMonth: m.DayOfMonth})
	}
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contracts
			(id, client_id, reference, schedule, start_date, end_date, monthly_billing_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				client_id = excluded.client_id,
				reference = excluded.reference,
				schedule = excluded.schedule,
				start_date = excluded.start_date,
				end_date = excluded.end_date,
				monthly_billing_json = excluded.monthly_billing_json,
				updated_at = excluded.updated_at
		`, c.ID, c.ClientID, c.Reference, c.Schedule, c.StartDate.String(), c.EndDate.String(),
			string(tableJSON), now, now)
		if err != nil {
			return fmt.Errorf("failed to save contract: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM contract_sites WHERE contract_id = ?", c.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM contract_activities WHERE contract_id = ?", c.ID); err != nil {
			return err
		}
		for i, siteID := range c.SiteIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO contract_sites (contract_id, site_id, position) VALUES (?, ?, ?)",
				c.ID, siteID, i); err != nil {
				return err
			}
		}
		for i, activityID := range c.ActivityIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO contract_activities (contract_id, activity_id, position) VALUES (?, ?, ?)",
				c.ID, activityID, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetContract retrieves a contract by ID.
func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (*billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts, err := s.queryContracts(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, notFound("contract", string(id))
	}
	return &contracts[0], nil
}

// ListContracts returns all contracts ordered by ID.
func (s *Store) ListContracts(ctx context.Context) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryContracts(ctx, "")
}

// DeleteContract removes a contract and its links. Invoices are kept.
func (s *Store) DeleteContract(ctx context.Context, id generic.ContractID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM contracts WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("contract", string(id))
	}
	return nil
}

func (s *Store) queryContracts(ctx context.Context, where string, args ...any) ([]billing.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, reference, schedule, start_date, end_date, monthly_billing_json
		FROM contracts `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}

	var contracts []billing.Contract
	for rows.Next() {
		var c billing.Contract
		var schedule, start, end string
		var tableJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Reference, &schedule, &start, &end, &tableJSON); err != nil {
			rows.Close()
			return nil, err
		}
		c.Schedule = billing.ParseSchedule(schedule)
		c.StartDate, _ = generic.ParseDate(start)
		c.EndDate, _ = generic.ParseDate(end)
		if tableJSON.Valid {
			var table []monthlyShareRecord
			if err := json.Unmarshal([]byte(tableJSON.String), &table); err == nil {
				for i := 0; i < len(table) && i < len(c.MonthlyBilling); i++ {
					pct, _ := decimal.NewFromString(table[i].Percentage)
					c.MonthlyBilling[i] = billing.MonthlyShare{Percentage: pct, DayOfMonth: table[i].DayOfMonth}
				}
			}
		}
		contracts = append(contracts, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// links are loaded after the contract rows are closed
	for i := range contracts {
		c := &contracts[i]
		if err := scanIDs(ctx, s.db, &c.SiteIDs,
			"SELECT site_id FROM contract_sites WHERE contract_id = ? ORDER BY position", c.ID); err != nil {
			return nil, err
		}
		if err := scanIDs(ctx, s.db, &c.ActivityIDs,
			"SELECT activity_id FROM contract_activities WHERE contract_id = ? ORDER BY position", c.ID); err != nil {
			return nil, err
		}
	}
	return contracts, nil
}

func scanIDs[T ~string](ctx context.Context, q querier, dest *[]T, query string, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		*dest = append(*dest, T(id))
	}
	return rows.Err()
}

// =============================================================================
// SITES
// =============================================================================

// SaveSite inserts or replaces a site and its annual amounts.
func (s *Store) SaveSite(ctx context.Context, site billing.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sites (id, client_id, contract_id, name) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				client_id = excluded.client_id,
				contract_id = excluded.contract_id,
				name = excluded.name
		`, site.ID, site.ClientID, site.ContractID, site.Name)
		if err != nil {
			return fmt.Errorf("failed to save site: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM site_amounts WHERE site_id = ?", site.ID); err != nil {
			return err
		}
		for _, a := range site.Amounts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO site_amounts (site_id, activity_id, amount) VALUES (?, ?, ?)
				ON CONFLICT(site_id, activity_id) DO UPDATE SET amount = excluded.amount
			`, site.ID, a.ActivityID, a.Amount.Value.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSites returns every site ordered by ID.
func (s *Store) ListSites(ctx context.Context) ([]billing.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySites(ctx, "")
}

// ListSitesByContract returns the sites attached to a contract, either
// through the contract's site list or the site's own contract reference.
func (s *Store) ListSitesByContract(ctx context.Context, contractID generic.ContractID) ([]billing.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySites(ctx, `
		WHERE contract_id = ?
		   OR id IN (SELECT site_id FROM contract_sites WHERE contract_id = ?)`,
		contractID, contractID)
}

func (s *Store) querySites(ctx context.Context, where string, args ...any) ([]billing.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, client_id, contract_id, name FROM sites "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}

	var sites []billing.Site
	for rows.Next() {
		var site billing.Site
		if err := rows.Scan(&site.ID, &site.ClientID, &site.ContractID, &site.Name); err != nil {
			rows.Close()
			return nil, err
		}
		sites = append(sites, site)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sites {
		amounts, err := s.siteAmounts(ctx, sites[i].ID)
		if err != nil {
			return nil, err
		}
		sites[i].Amounts = amounts
	}
	return sites, nil
}

func (s *Store) siteAmounts(ctx context.Context, siteID generic.SiteID) ([]billing.SiteAmount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT activity_id, amount FROM site_amounts WHERE site_id = ? ORDER BY activity_id", siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []billing.SiteAmount
	for rows.Next() {
		var a billing.SiteAmount
		var amount string
		if err := rows.Scan(&a.ActivityID, &amount); err != nil {
			return nil, err
		}
		if a.Amount, err = generic.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("site %s: %w", siteID, err)
		}
		amounts = append(amounts, a)
	}
	return amounts, rows.Err()
}
