package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/energy-billing/generic"
	"github.com/warp/energy-billing/indexation"
)

// IndexJSON is the JSON representation of an index.
//
//	{"id": "marge", "code": "MARGE", "label": "Marge gaz", "unit": "€/MWh",
//	 "type": "calculated", "formula": "PEG * 1.1", "decimals": 2}
type IndexJSON struct {
	ID       string `json:"id,omitempty"`
	Code     string `json:"code" validate:"required,max=32"`
	Label    string `json:"label,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Type     string `json:"type" validate:"oneof=standard calculated"`
	Formula  string `json:"formula,omitempty" validate:"required_if=Type calculated,max=512"`
	Decimals *int   `json:"decimals,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// IndexValueJSON is one monthly value of a standard index.
type IndexValueJSON struct {
	Period  string  `json:"period" validate:"required,datetime=2006-01"`
	Value   float64 `json:"value"`
	Source  string  `json:"source,omitempty"`
	Comment string  `json:"comment,omitempty"`
}

// ParseIndex parses and validates a JSON index.
func (f *Factory) ParseIndex(data []byte) (indexation.Index, error) {
	var ij IndexJSON
	if err := json.Unmarshal(data, &ij); err != nil {
		return indexation.Index{}, fmt.Errorf("%w: index: %v", generic.ErrInvalidDefinition, err)
	}
	return f.IndexFromJSON(ij)
}

// IndexFromJSON converts an index. Type defaults to standard, the ID to the
// lower-cased code. Decimals stays unset so the evaluator default applies.
func (f *Factory) IndexFromJSON(ij IndexJSON) (indexation.Index, error) {
	ij.Code = strings.TrimSpace(ij.Code)
	if ij.Type == "" {
		ij.Type = string(indexation.TypeStandard)
	}
	if err := f.check("index", ij.ID, ij); err != nil {
		return indexation.Index{}, err
	}
	if ij.ID == "" {
		ij.ID = strings.ToLower(ij.Code)
	}
	if ij.Label == "" {
		ij.Label = ij.Code
	}

	idx := indexation.Index{
		ID:       generic.IndexID(ij.ID),
		Code:     ij.Code,
		Label:    ij.Label,
		Unit:     ij.Unit,
		Type:     indexation.IndexType(ij.Type),
		Decimals: ij.Decimals,
	}
	if idx.Type == indexation.TypeCalculated {
		idx.Formula = strings.TrimSpace(ij.Formula)
	}
	return idx, nil
}

// IndexToJSON converts an index back to its JSON form.
func (f *Factory) IndexToJSON(idx indexation.Index) IndexJSON {
	return IndexJSON{
		ID:       string(idx.ID),
		Code:     idx.Code,
		Label:    idx.Label,
		Unit:     idx.Unit,
		Type:     string(idx.Type),
		Formula:  idx.Formula,
		Decimals: idx.Decimals,
	}
}

// IndexValueFromJSON converts a value for the given standard index.
func (f *Factory) IndexValueFromJSON(indexID generic.IndexID, vj IndexValueJSON) (indexation.IndexValue, error) {
	if err := f.check("index value", string(indexID), vj); err != nil {
		return indexation.IndexValue{}, err
	}
	return indexation.IndexValue{
		ID:      indexation.ValueID(indexID, vj.Period),
		IndexID: indexID,
		Period:  vj.Period,
		Value:   vj.Value,
		Source:  vj.Source,
		Comment: vj.Comment,
	}, nil
}
