package records

import (
	"slices"
	"time"
)

// Filter is the operator's selection for a data load. Empty slices mean no
// restriction; a zero time leaves that end of the range open.
type Filter struct {
	From          time.Time     `mapstructure:"from" json:"from,omitempty"`
	To            time.Time     `mapstructure:"to" json:"to,omitempty"`
	ProductTypes  []ProductType `mapstructure:"product_types" json:"product_types,omitempty"`
	LegalEntities []string      `mapstructure:"legal_entities" json:"legal_entities,omitempty"`
	SourceSystems []string      `mapstructure:"source_systems" json:"source_systems,omitempty"`
}

// Match reports whether the trade falls inside the filter. The date range is
// applied to the business date, inclusive on both ends.
func (f Filter) Match(t Trade) bool {
	if !f.From.IsZero() && t.BusinessDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.BusinessDate.After(f.To) {
		return false
	}
	if len(f.ProductTypes) > 0 && !slices.Contains(f.ProductTypes, t.ProductType) {
		return false
	}
	if len(f.LegalEntities) > 0 && !slices.Contains(f.LegalEntities, t.LegalEntity) {
		return false
	}
	if len(f.SourceSystems) > 0 && !slices.Contains(f.SourceSystems, t.SourceSystem) {
		return false
	}
	return true
}

// ProductTypeStrings returns the product types as plain strings, for query
// parameters.
func (f Filter) ProductTypeStrings() []string {
	out := make([]string, 0, len(f.ProductTypes))
	for _, p := range f.ProductTypes {
		out = append(out, string(p))
	}
	return out
}
