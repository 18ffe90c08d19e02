/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates clients, activities, sites,
	contracts and indices through the factory, exactly like the admin UI.

AVAILABLE SCENARIOS:

	annual-maintenance:  Yearly contract, one boiler room, two years due
	quarterly-multisite: Quarterly contract over two sites and two activities
	variable-gas:        Gas supply billed monthly along a winter-heavy table
	indexation:          PEG and transport indices with calculated margins

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create clients and activities
 3. Create contracts and sites via factory JSON
 4. Optionally create indices and their monthly values

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "quarterly-multisite"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add it to the 'loaders' map

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/contract.go: Contract JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/factory"
	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/indexation"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "annual-maintenance",
		Name:        "Annual Maintenance",
		Description: "Yearly boiler maintenance contract started in 2024, one site",
		Category:    "billing",
	},
	{
		ID:          "quarterly-multisite",
		Name:        "Quarterly Multi-Site",
		Description: "Quarterly contract covering two sites with maintenance and monitoring",
		Category:    "billing",
	},
	{
		ID:          "variable-gas",
		Name:        "Variable Gas Supply",
		Description: "Monthly gas supply billed along a winter-heavy percentage table",
		Category:    "billing",
	},
	{
		ID:          "indexation",
		Name:        "Gas Indexation",
		Description: "Standard PEG and transport indices with calculated margin indices",
		Category:    "indexation",
	},
}

var loaders = map[string]func(ctx context.Context, h *Handler) error{
	"annual-maintenance":  loadAnnualMaintenanceScenario,
	"quarterly-multisite": loadQuarterlyMultisiteScenario,
	"variable-gas":        loadVariableGasScenario,
	"indexation":          loadIndexationScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeFailure(w, "Failed to reset database", err)
		return
	}
	if err := load(ctx, h); err != nil {
		h.writeFailure(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info().Str("scenario_id", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

// =============================================================================
// SHARED BUILDING BLOCKS
// =============================================================================

var demoActivities = []factory.ActivityJSON{
	{ID: "P1", Code: "MAINT", Label: "Maintenance préventive"},
	{ID: "P2", Code: "TELE", Label: "Télésurveillance"},
	{ID: "P3", Code: "GAZ", Label: "Fourniture de gaz"},
}

func saveCatalogue(ctx context.Context, h *Handler, clients ...billing.Client) error {
	for _, c := range clients {
		if err := h.Store.SaveClient(ctx, c); err != nil {
			return err
		}
	}
	for _, aj := range demoActivities {
		a, err := h.Factory.ActivityFromJSON(aj)
		if err != nil {
			return err
		}
		if err := h.Store.SaveActivity(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func saveContract(ctx context.Context, h *Handler, cj factory.ContractJSON) error {
	data, err := json.Marshal(cj)
	if err != nil {
		return err
	}
	c, err := h.Factory.ParseContract(data)
	if err != nil {
		return err
	}
	return h.Store.SaveContract(ctx, c)
}

func saveSite(ctx context.Context, h *Handler, sj factory.SiteJSON) error {
	data, err := json.Marshal(sj)
	if err != nil {
		return err
	}
	s, err := h.Factory.ParseSite(data)
	if err != nil {
		return err
	}
	return h.Store.SaveSite(ctx, s)
}

// =============================================================================
// BILLING SCENARIOS
// =============================================================================

func loadAnnualMaintenanceScenario(ctx context.Context, h *Handler) error {
	if err := saveCatalogue(ctx, h, billing.Client{ID: "cli-lyon", Name: "Ville de Lyon"}); err != nil {
		return err
	}
	if err := saveContract(ctx, h, factory.ContractJSON{
		ID:          "ctr-annuel",
		ClientID:    "cli-lyon",
		Reference:   "LYON-2024",
		SiteIDs:     []string{"site-chaufferie"},
		ActivityIDs: []string{"P1"},
		Schedule:    string(billing.ScheduleAnnual),
		StartDate:   "2024-01-01",
		EndDate:     "2026-12-31",
	}); err != nil {
		return err
	}
	return saveSite(ctx, h, factory.SiteJSON{
		ID:       "site-chaufferie",
		ClientID: "cli-lyon",
		Name:     "Chaufferie centrale",
		Amounts:  map[string]float64{"P1": 1200},
	})
}

func loadQuarterlyMultisiteScenario(ctx context.Context, h *Handler) error {
	if err := saveCatalogue(ctx, h, billing.Client{ID: "cli-hopital", Name: "Hôpital Nord"}); err != nil {
		return err
	}
	if err := saveContract(ctx, h, factory.ContractJSON{
		ID:          "ctr-trimestriel",
		ClientID:    "cli-hopital",
		Reference:   "HOP-2025",
		SiteIDs:     []string{"site-bat-a"},
		ActivityIDs: []string{"P1", "P2"},
		Schedule:    string(billing.ScheduleQuarterly),
		StartDate:   "2025-01-01",
		EndDate:     "2025-12-31",
	}); err != nil {
		return err
	}

	sites := []factory.SiteJSON{
		{ID: "site-bat-a", ClientID: "cli-hopital", Name: "Bâtiment A", Amounts: map[string]float64{"P1": 4000, "P2": 1000}},
		// Linked through contract_id rather than the contract's site list
		{ID: "site-bat-b", ClientID: "cli-hopital", ContractID: "ctr-trimestriel", Name: "Bâtiment B", Amounts: map[string]float64{"P1": 2000, "P3": 9000}},
	}
	for _, sj := range sites {
		if err := saveSite(ctx, h, sj); err != nil {
			return err
		}
	}
	return nil
}

// winterTable bills the heating season harder. Sums to 100.
var winterTable = [12]float64{15, 13, 11, 8, 5, 3, 2, 2, 4, 9, 13, 15}

func loadVariableGasScenario(ctx context.Context, h *Handler) error {
	if err := saveCatalogue(ctx, h, billing.Client{ID: "cli-lycee", Name: "Lycée Ampère"}); err != nil {
		return err
	}

	table := make([]factory.MonthlyShareJSON, 0, len(winterTable))
	for _, pct := range winterTable {
		table = append(table, factory.MonthlyShareJSON{Percentage: pct, DayOfMonth: 10})
	}
	if err := saveContract(ctx, h, factory.ContractJSON{
		ID:             "ctr-gaz",
		ClientID:       "cli-lycee",
		Reference:      "GAZ-2025",
		SiteIDs:        []string{"site-lycee"},
		ActivityIDs:    []string{"P3"},
		Schedule:       string(billing.ScheduleVariable),
		StartDate:      "2025-01-01",
		EndDate:        "2025-12-31",
		MonthlyBilling: table,
	}); err != nil {
		return err
	}
	return saveSite(ctx, h, factory.SiteJSON{
		ID:       "site-lycee",
		ClientID: "cli-lycee",
		Name:     "Lycée Ampère",
		Amounts:  map[string]float64{"P3": 24000},
	})
}

// =============================================================================
// INDEXATION SCENARIO
// =============================================================================

func loadIndexationScenario(ctx context.Context, h *Handler) error {
	two, three := 2, 3
	indices := []factory.IndexJSON{
		{Code: "PEG", Label: "PEG day-ahead", Unit: "€/MWh"},
		{Code: "TRANSPORT", Label: "Terme transport", Unit: "€/MWh"},
		{Code: "MARGE", Label: "Marge fournisseur", Unit: "€/MWh", Type: string(indexation.TypeCalculated), Formula: "PEG * 1.1", Decimals: &two},
		{Code: "GAZ_TOTAL", Label: "Prix gaz livré", Unit: "€/MWh", Type: string(indexation.TypeCalculated), Formula: "(PEG + TRANSPORT) * 1.05", Decimals: &three},
	}
	for _, ij := range indices {
		idx, err := h.Factory.IndexFromJSON(ij)
		if err != nil {
			return err
		}
		if err := h.Store.SaveIndex(ctx, idx); err != nil {
			return err
		}
	}

	// PEG has no March value: MARGE and GAZ_TOTAL skip 2025-03.
	values := map[string][]factory.IndexValueJSON{
		"peg": {
			{Period: "2025-01", Value: 40, Source: "Powernext"},
			{Period: "2025-02", Value: 42, Source: "Powernext"},
		},
		"transport": {
			{Period: "2025-01", Value: 3.2, Source: "GRTgaz"},
			{Period: "2025-02", Value: 3.2, Source: "GRTgaz"},
			{Period: "2025-03", Value: 3.4, Source: "GRTgaz"},
		},
	}
	for id, vs := range values {
		for _, vj := range vs {
			v, err := h.Factory.IndexValueFromJSON(generic.IndexID(id), vj)
			if err != nil {
				return err
			}
			if err := h.Store.SaveIndexValue(ctx, v); err != nil {
				return err
			}
		}
	}
	return nil
}
