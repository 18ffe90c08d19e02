/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the Billing Scheduler, batch invoicing and the Index Formula
  Evaluator via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the billing and indexation packages.

ENDPOINTS:
  Catalogue:
    GET    /api/clients                      List clients
    POST   /api/clients                      Create or rename client
    GET    /api/activities                   List activities
    POST   /api/activities                   Create activity
    GET    /api/sites                        List sites with annual amounts
    POST   /api/sites                        Create or replace site

  Contracts:
    GET    /api/contracts                    List contracts
    POST   /api/contracts                    Create contract from JSON
    GET    /api/contracts/{id}               Get contract
    DELETE /api/contracts/{id}               Delete contract (invoices kept)
    GET    /api/contracts/{id}/due?as_of=    Billable periods as of a date

  Billing:
    POST   /api/billing/run                  Batch invoicing of due periods
    GET    /api/billing/runs                 Recent runs of the periodic runner

  Invoices:
    GET    /api/invoices?contract_id=        List invoices
    GET    /api/invoices/{id}                Get invoice
    POST   /api/invoices/{id}/status         Status transition
    POST   /api/credit-notes                 Credit one or more invoices
    GET    /api/credit-notes/{id}            Get credit note

  Indexation:
    GET    /api/indices                      List indices
    POST   /api/indices                      Create index from JSON
    GET    /api/indices/{id}/values          Stored or evaluated values
    POST   /api/indices/{id}/values          Store values of a standard index

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: sqlite catalogue and invoice ledger
  - Factory: JSON to domain conversion with validation
  - Evaluator: memoized Index Formula Evaluator
  - Invoicing: tax rate, payment terms and batch concurrency

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid transitions, malformed input
  - 404: Resource not found
  - 409: Period already invoiced
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - scheduler.go: Periodic billing runner
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/factory"
	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/indexation"
	"github.com/warp/energy-billing/store/sqlite"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Invoicing groups the settings batch invoicing runs with.
type Invoicing struct {
	Options     billing.InvoiceOptions
	Concurrency int
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Factory   *factory.Factory
	Evaluator *indexation.CachedEvaluator
	Invoicing Invoicing
	Logger    zerolog.Logger

	// Runner is optional; GET /api/billing/runs is empty without it.
	Runner *BillingRunner

	// Now is the clock used for default dates.
	Now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and evaluator.
func NewHandler(store *sqlite.Store, evaluator *indexation.CachedEvaluator, invoicing Invoicing, logger zerolog.Logger) *Handler {
	if evaluator == nil {
		evaluator = indexation.NewCachedEvaluator(nil, 0, logger)
	}
	return &Handler{
		Store:     store,
		Factory:   factory.New(),
		Evaluator: evaluator,
		Invoicing: invoicing,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (h *Handler) today() generic.Date {
	return generic.DateOf(h.Now())
}

// =============================================================================
// CATALOGUE HANDLERS
// =============================================================================

// ListClients returns all clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, 0, len(clients))
	for _, c := range clients {
		dtos = append(dtos, ClientDTO{ID: string(c.ID), Name: c.Name})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient creates or renames a client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	if err := h.Store.SaveClient(r.Context(), billing.Client{ID: generic.ClientID(req.ID), Name: req.Name}); err != nil {
		h.writeFailure(w, "Failed to save client", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListActivities returns all billable activities.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.Store.ListActivities(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list activities", err)
		return
	}

	dtos := make([]factory.ActivityJSON, 0, len(activities))
	for _, a := range activities {
		dtos = append(dtos, factory.ActivityJSON{ID: string(a.ID), Code: a.Code, Label: a.Label})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateActivity creates or replaces an activity.
func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var req factory.ActivityJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	activity, err := h.Factory.ActivityFromJSON(req)
	if err != nil {
		h.writeFailure(w, "Invalid activity", err)
		return
	}
	if err := h.Store.SaveActivity(r.Context(), activity); err != nil {
		h.writeFailure(w, "Failed to save activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.ActivityJSON{ID: string(activity.ID), Code: activity.Code, Label: activity.Label})
}

// ListSites returns all sites.
func (h *Handler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Store.ListSites(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list sites", err)
		return
	}

	dtos := make([]factory.SiteJSON, 0, len(sites))
	for _, s := range sites {
		dtos = append(dtos, h.Factory.SiteToJSON(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSite creates or replaces a site and its annual amounts.
func (h *Handler) CreateSite(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	site, err := h.Factory.ParseSite(body)
	if err != nil {
		h.writeFailure(w, "Invalid site", err)
		return
	}
	if err := h.Store.SaveSite(r.Context(), site); err != nil {
		h.writeFailure(w, "Failed to save site", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.SiteToJSON(site))
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns all contracts.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list contracts", err)
		return
	}

	dtos := make([]factory.ContractJSON, 0, len(contracts))
	for _, c := range contracts {
		dtos = append(dtos, h.Factory.ContractToJSON(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract creates a contract from its JSON definition.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	contract, err := h.Factory.ParseContract(body)
	if err != nil {
		h.writeFailure(w, "Invalid contract", err)
		return
	}
	if err := h.Store.SaveContract(r.Context(), contract); err != nil {
		h.writeFailure(w, "Failed to save contract", err)
		return
	}

	h.Logger.Info().
		Str("contract_id", string(contract.ID)).
		Str("schedule", string(contract.Schedule)).
		Msg("contract saved")
	writeJSON(w, http.StatusCreated, h.Factory.ContractToJSON(contract))
}

// GetContract returns a single contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := h.Store.GetContract(r.Context(), generic.ContractID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ContractToJSON(*contract))
}

// DeleteContract removes a contract. Its invoices stay in the ledger.
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteContract(r.Context(), generic.ContractID(chi.URLParam(r, "id"))); err != nil {
		h.writeFailure(w, "Failed to delete contract", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDuePeriods returns the billing periods due for a contract.
func (h *Handler) GetDuePeriods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.ContractID(chi.URLParam(r, "id"))

	asOf, err := h.parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
		return
	}

	contract, err := h.Store.GetContract(ctx, id)
	if err != nil {
		h.writeFailure(w, "Failed to get contract", err)
		return
	}
	sites, err := h.Store.ListSitesByContract(ctx, id)
	if err != nil {
		h.writeFailure(w, "Failed to list sites", err)
		return
	}
	invoices, err := h.Store.ListInvoicesByContract(ctx, id)
	if err != nil {
		h.writeFailure(w, "Failed to list invoices", err)
		return
	}

	periods := billing.DueBillingPeriods(billing.SchedulerInput{
		Contract: *contract,
		Invoices: invoices,
		Sites:    sites,
		AsOf:     asOf,
	})

	dtos := make([]BillablePeriodDTO, 0, len(periods))
	for _, bp := range periods {
		dtos = append(dtos, toBillablePeriodDTO(bp))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// RunBilling invoices every due period of the selected contracts.
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	var req BillingRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asOf, err := h.parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
		return
	}

	ids := make([]generic.ContractID, 0, len(req.ContractIDs))
	for _, id := range req.ContractIDs {
		ids = append(ids, generic.ContractID(id))
	}

	report, err := h.Bill(r.Context(), asOf, ids, req.SkipZero)
	if err != nil {
		h.writeFailure(w, "Failed to run billing", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(asOf, report))
}

// Bill computes the due periods of the given contracts (all when empty) and
// creates their invoices concurrently. Item failures land in the report;
// the error is only set when the inputs could not be read.
func (h *Handler) Bill(ctx context.Context, asOf generic.Date, ids []generic.ContractID, skipZero bool) (billing.BatchReport, error) {
	contracts, err := h.Store.ListContracts(ctx)
	if err != nil {
		return billing.BatchReport{}, err
	}
	contracts, err = selectContracts(contracts, ids)
	if err != nil {
		return billing.BatchReport{}, err
	}

	sites, err := h.Store.ListSites(ctx)
	if err != nil {
		return billing.BatchReport{}, err
	}
	invoices, err := h.Store.ListInvoices(ctx)
	if err != nil {
		return billing.BatchReport{}, err
	}
	activities, err := h.Store.ListActivities(ctx)
	if err != nil {
		return billing.BatchReport{}, err
	}

	in := billing.BatchInput{
		Contracts:  make(map[generic.ContractID]billing.Contract, len(contracts)),
		Activities: make(map[generic.ActivityID]billing.Activity, len(activities)),
		Periods:    billing.DueForAll(contracts, sites, invoices, asOf),
		SkipZero:   skipZero,
	}
	for _, c := range contracts {
		in.Contracts[c.ID] = c
	}
	for _, a := range activities {
		in.Activities[a.ID] = a
	}

	opts := h.Invoicing.Options
	opts.IssueDate = asOf
	invoicer := &billing.BatchInvoicer{
		Creator:     h.Store,
		Options:     opts,
		Concurrency: h.Invoicing.Concurrency,
		Logger:      h.Logger.With().Str("as_of", asOf.String()).Logger(),
	}
	return invoicer.Run(ctx, in), nil
}

func selectContracts(all []billing.Contract, ids []generic.ContractID) ([]billing.Contract, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[generic.ContractID]billing.Contract, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	selected := make([]billing.Contract, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: contract %s", generic.ErrEntityNotFound, id)
		}
		selected = append(selected, c)
	}
	return selected, nil
}

// ListBillingRuns returns the periodic runner's recent runs, newest first.
func (h *Handler) ListBillingRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		writeJSON(w, http.StatusOK, []RunRecord{})
		return
	}
	writeJSON(w, http.StatusOK, h.Runner.Runs())
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices, optionally restricted to one contract.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	var (
		invoices []billing.Invoice
		err      error
	)
	if contractID := r.URL.Query().Get("contract_id"); contractID != "" {
		invoices, err = h.Store.ListInvoicesByContract(r.Context(), generic.ContractID(contractID))
	} else {
		invoices, err = h.Store.ListInvoices(r.Context())
	}
	if err != nil {
		h.writeFailure(w, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		dtos = append(dtos, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Store.GetInvoice(r.Context(), generic.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// UpdateInvoiceStatus applies a status transition.
func (h *Handler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required", nil)
		return
	}

	inv, err := h.Store.UpdateInvoiceStatus(r.Context(), generic.InvoiceID(chi.URLParam(r, "id")), billing.InvoiceStatus(req.Status))
	if err != nil {
		h.writeFailure(w, "Failed to update invoice status", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// CreateCreditNote cancels the given invoices with one credit note.
func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreditNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.InvoiceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invoice_ids is required", nil)
		return
	}
	issue, err := h.parseAsOf(req.IssueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid issue_date format (use YYYY-MM-DD)", err)
		return
	}

	invoices := make([]billing.Invoice, 0, len(req.InvoiceIDs))
	for _, id := range req.InvoiceIDs {
		inv, err := h.Store.GetInvoice(ctx, generic.InvoiceID(id))
		if err != nil {
			h.writeFailure(w, "Failed to get invoice", err)
			return
		}
		invoices = append(invoices, *inv)
	}

	cn, err := billing.NewCreditNote(uuid.NewString(), issue, invoices...)
	if err != nil {
		h.writeFailure(w, "Invalid credit note", err)
		return
	}
	if err := h.Store.SaveCreditNote(ctx, cn); err != nil {
		h.writeFailure(w, "Failed to save credit note", err)
		return
	}

	h.Logger.Info().
		Str("credit_note_id", cn.ID).
		Str("client_id", string(cn.ClientID)).
		Int("invoices", len(cn.InvoiceIDs)).
		Msg("credit note issued")
	writeJSON(w, http.StatusCreated, toCreditNoteDTO(cn))
}

// GetCreditNote returns a single credit note.
func (h *Handler) GetCreditNote(w http.ResponseWriter, r *http.Request) {
	cn, err := h.Store.GetCreditNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, "Failed to get credit note", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditNoteDTO(*cn))
}

// =============================================================================
// INDEXATION HANDLERS
// =============================================================================

// ListIndices returns the index catalogue.
func (h *Handler) ListIndices(w http.ResponseWriter, r *http.Request) {
	indices, err := h.Store.ListIndices(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list indices", err)
		return
	}
	if indices == nil {
		indices = []indexation.Index{}
	}
	writeJSON(w, http.StatusOK, indices)
}

// CreateIndex creates an index from its JSON definition.
func (h *Handler) CreateIndex(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	idx, err := h.Factory.ParseIndex(body)
	if err != nil {
		h.writeFailure(w, "Invalid index", err)
		return
	}
	if err := h.Store.SaveIndex(r.Context(), idx); err != nil {
		h.writeFailure(w, "Failed to save index", err)
		return
	}
	writeJSON(w, http.StatusCreated, idx)
}

// GetIndexValues returns stored values for a standard index and evaluated
// values for a calculated one.
func (h *Handler) GetIndexValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idx, err := h.Store.GetIndex(ctx, generic.IndexID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, "Failed to get index", err)
		return
	}

	resp := IndexValuesResponse{Index: *idx}
	if idx.IsCalculated() {
		indices, err := h.Store.ListIndices(ctx)
		if err != nil {
			h.writeFailure(w, "Failed to list indices", err)
			return
		}
		values, err := h.Store.ListIndexValues(ctx)
		if err != nil {
			h.writeFailure(w, "Failed to list index values", err)
			return
		}
		result := h.Evaluator.Evaluate(ctx, *idx, indices, values)
		resp.Values, resp.Skipped = result.Values, result.Skipped
	} else {
		resp.Values, err = h.Store.ListIndexValuesByIndex(ctx, idx.ID)
		if err != nil {
			h.writeFailure(w, "Failed to list index values", err)
			return
		}
	}
	if resp.Values == nil {
		resp.Values = []indexation.IndexValue{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddIndexValues stores monthly values of a standard index. The body is a
// JSON array of {period, value, source, comment}.
func (h *Handler) AddIndexValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req []factory.IndexValueJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	idx, err := h.Store.GetIndex(ctx, generic.IndexID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, "Failed to get index", err)
		return
	}
	if idx.IsCalculated() {
		writeError(w, http.StatusBadRequest, "Values of a calculated index are derived from its formula", nil)
		return
	}

	values := make([]indexation.IndexValue, 0, len(req))
	for _, vj := range req {
		v, err := h.Factory.IndexValueFromJSON(idx.ID, vj)
		if err != nil {
			h.writeFailure(w, "Invalid index value", err)
			return
		}
		values = append(values, v)
	}
	for _, v := range values {
		if err := h.Store.SaveIndexValue(ctx, v); err != nil {
			h.writeFailure(w, "Failed to save index value", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, values)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeFailure(w, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) parseAsOf(s string) (generic.Date, error) {
	if s == "" {
		return h.today(), nil
	}
	return generic.ParseDate(s)
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func decodeJSON(r *http.Request, dest any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with the status its kind maps to. Server-side
// failures are logged, client mistakes are not.
func (h *Handler) writeFailure(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}
