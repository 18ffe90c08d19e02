/*
Package factory provides JSON to Go conversion for billing definitions.

PURPOSE:
  Converts JSON contract, site and index definitions into billing and
  indexation types. The admin UI and the demo scenarios both speak this
  format, so the factory is where field validation and defaults live.

JSON SCHEMA (contract):
  {
    "id": "ctr-1",
    "client_id": "cli-1",
    "reference": "C001",
    "site_ids": ["site-1"],
    "activity_ids": ["P1", "P2"],
    "schedule": "Trimestriel",
    "start_date": "2025-01-01",
    "end_date": "2027-12-31",
    "monthly_billing": [
      {"percentage": 8.33, "day_of_month": 10},
      ... twelve entries, only read for "Variable"
    ]
  }

JSON SCHEMA (site):
  {
    "id": "site-1",
    "client_id": "cli-1",
    "contract_id": "ctr-1",
    "name": "Chaufferie Nord",
    "amounts": {"P1": 4000, "P2": 1000}
  }

DEFAULTS:
  - id:              generated (uuid) when absent
  - schedule:        "Annuel"; unknown labels also fall back to annual
  - monthly_billing: even split on the 1st when a Variable contract omits it

USAGE:
  f := factory.New()
  contract, err := f.ParseContract(data)
  if errors.Is(err, generic.ErrInvalidDefinition) { ... }   // field errors
  if errors.Is(err, generic.ErrInvalidContract) { ... }     // structural errors

SEE ALSO:
  - billing/types.go: Contract, Site, Activity
  - index.go:         Index definitions
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of a contract.
type ContractJSON struct {
	ID             string             `json:"id,omitempty"`
	ClientID       string             `json:"client_id" validate:"required"`
	Reference      string             `json:"reference,omitempty" validate:"max=64"`
	SiteIDs        []string           `json:"site_ids,omitempty" validate:"dive,required"`
	ActivityIDs    []string           `json:"activity_ids" validate:"min=1,dive,required"`
	Schedule       string             `json:"schedule,omitempty"`
	StartDate      string             `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string             `json:"end_date" validate:"required,datetime=2006-01-02"`
	MonthlyBilling []MonthlyShareJSON `json:"monthly_billing,omitempty" validate:"omitempty,len=12,dive"`
}

// MonthlyShareJSON is one month of a Variable schedule.
type MonthlyShareJSON struct {
	Percentage float64 `json:"percentage" validate:"gte=0,lte=100"`
	DayOfMonth int     `json:"day_of_month" validate:"gte=1,lte=31"`
}

// SiteJSON is the JSON representation of a site and its annual amounts.
type SiteJSON struct {
	ID         string             `json:"id,omitempty"`
	ClientID   string             `json:"client_id" validate:"required"`
	ContractID string             `json:"contract_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Amounts    map[string]float64 `json:"amounts" validate:"dive,keys,required,endkeys,gte=0"`
}

// ActivityJSON is the JSON representation of a billable activity.
type ActivityJSON struct {
	ID    string `json:"id" validate:"required"`
	Code  string `json:"code,omitempty"`
	Label string `json:"label" validate:"required"`
}

// DefaultVariableDay is the due day used when a Variable table is omitted.
const DefaultVariableDay = 1

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts JSON definitions to domain types.
type Factory struct {
	validate *validator.Validate
	newID    func() string
}

// New creates a factory. Validation messages use JSON field names.
func New() *Factory {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Factory{validate: v, newID: uuid.NewString}
}

// ParseContract parses and validates a JSON contract.
func (f *Factory) ParseContract(data []byte) (billing.Contract, error) {
	var cj ContractJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return billing.Contract{}, fmt.Errorf("%w: contract: %v", generic.ErrInvalidDefinition, err)
	}
	return f.ContractFromJSON(cj)
}

// ContractFromJSON validates fields, applies defaults and checks the
// contract's structural rules.
func (f *Factory) ContractFromJSON(cj ContractJSON) (billing.Contract, error) {
	if err := f.check("contract", cj.ID, cj); err != nil {
		return billing.Contract{}, err
	}
	if cj.ID == "" {
		cj.ID = f.newID()
	}

	c := billing.Contract{
		ID:          generic.ContractID(cj.ID),
		ClientID:    generic.ClientID(cj.ClientID),
		Reference:   cj.Reference,
		SiteIDs:     make([]generic.SiteID, 0, len(cj.SiteIDs)),
		ActivityIDs: make([]generic.ActivityID, 0, len(cj.ActivityIDs)),
		Schedule:    billing.ParseSchedule(cj.Schedule),
		StartDate:   generic.MustParseDate(cj.StartDate),
		EndDate:     generic.MustParseDate(cj.EndDate),
	}
	for _, id := range cj.SiteIDs {
		c.SiteIDs = append(c.SiteIDs, generic.SiteID(id))
	}
	for _, id := range cj.ActivityIDs {
		c.ActivityIDs = append(c.ActivityIDs, generic.ActivityID(id))
	}

	switch {
	case len(cj.MonthlyBilling) == 12:
		for i, m := range cj.MonthlyBilling {
			c.MonthlyBilling[i] = billing.MonthlyShare{
				Percentage: decimal.NewFromFloat(m.Percentage),
				DayOfMonth: m.DayOfMonth,
			}
		}
	case c.Schedule == billing.ScheduleVariable:
		c.MonthlyBilling = billing.EvenMonthlyBilling(DefaultVariableDay)
	}

	if err := c.Validate(); err != nil {
		return billing.Contract{}, err
	}
	return c, nil
}

// ContractToJSON converts a contract back to its JSON form.
func (f *Factory) ContractToJSON(c billing.Contract) ContractJSON {
	cj := ContractJSON{
		ID:        string(c.ID),
		ClientID:  string(c.ClientID),
		Reference: c.Reference,
		Schedule:  string(c.Schedule),
		StartDate: c.StartDate.String(),
		EndDate:   c.EndDate.String(),
	}
	for _, id := range c.SiteIDs {
		cj.SiteIDs = append(cj.SiteIDs, string(id))
	}
	for _, id := range c.ActivityIDs {
		cj.ActivityIDs = append(cj.ActivityIDs, string(id))
	}
	if c.Schedule == billing.ScheduleVariable {
		for _, m := range c.MonthlyBilling {
			pct, _ := m.Percentage.Float64()
			cj.MonthlyBilling = append(cj.MonthlyBilling, MonthlyShareJSON{Percentage: pct, DayOfMonth: m.DayOfMonth})
		}
	}
	return cj
}

// ParseSite parses and validates a JSON site.
func (f *Factory) ParseSite(data []byte) (billing.Site, error) {
	var sj SiteJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return billing.Site{}, fmt.Errorf("%w: site: %v", generic.ErrInvalidDefinition, err)
	}
	return f.SiteFromJSON(sj)
}

// SiteFromJSON converts a site. Amounts are ordered by activity ID.
func (f *Factory) SiteFromJSON(sj SiteJSON) (billing.Site, error) {
	if err := f.check("site", sj.ID, sj); err != nil {
		return billing.Site{}, err
	}
	if sj.ID == "" {
		sj.ID = f.newID()
	}

	activities := make([]string, 0, len(sj.Amounts))
	for a := range sj.Amounts {
		activities = append(activities, a)
	}
	sort.Strings(activities)

	site := billing.Site{
		ID:         generic.SiteID(sj.ID),
		ClientID:   generic.ClientID(sj.ClientID),
		ContractID: generic.ContractID(sj.ContractID),
		Name:       sj.Name,
	}
	for _, a := range activities {
		site.Amounts = append(site.Amounts, billing.SiteAmount{
			ActivityID: generic.ActivityID(a),
			Amount:     generic.NewMoney(sj.Amounts[a]).RoundCents(),
		})
	}
	return site, nil
}

// SiteToJSON converts a site back to its JSON form.
func (f *Factory) SiteToJSON(site billing.Site) SiteJSON {
	sj := SiteJSON{
		ID:         string(site.ID),
		ClientID:   string(site.ClientID),
		ContractID: string(site.ContractID),
		Name:       site.Name,
		Amounts:    make(map[string]float64, len(site.Amounts)),
	}
	for _, a := range site.Amounts {
		sj.Amounts[string(a.ActivityID)] = a.Amount.Float64()
	}
	return sj
}

// ActivityFromJSON converts an activity. Code defaults to the ID.
func (f *Factory) ActivityFromJSON(aj ActivityJSON) (billing.Activity, error) {
	if err := f.check("activity", aj.ID, aj); err != nil {
		return billing.Activity{}, err
	}
	if aj.Code == "" {
		aj.Code = aj.ID
	}
	return billing.Activity{ID: generic.ActivityID(aj.ID), Code: aj.Code, Label: aj.Label}, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// DefinitionError lists the field rules a JSON definition breaks.
type DefinitionError struct {
	Entity   string
	ID       string
	Problems []string
}

func (e *DefinitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Entity, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, strings.Join(e.Problems, "; "))
}

func (e *DefinitionError) Unwrap() error {
	return generic.ErrInvalidDefinition
}

func (f *Factory) check(entity, id string, v any) error {
	err := f.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s: %v", generic.ErrInvalidDefinition, entity, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return &DefinitionError{Entity: entity, ID: id, Problems: problems}
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "datetime":
		return fmt.Sprintf("%s must match %s", field, fe.Param())
	case "len", "min", "max", "gte", "lte", "oneof":
		return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}
