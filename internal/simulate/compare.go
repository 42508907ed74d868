package simulate

import "fx-deviation-monitor/internal/threshold"

// EntityDelta is the per-entity change between two runs.
type EntityDelta struct {
	LegalEntity string   `json:"legal_entity"`
	Before      int      `json:"before"`
	After       int      `json:"after"`
	Added       []string `json:"added,omitempty"`
	Removed     []string `json:"removed,omitempty"`
}

// Comparison describes how the alert set moves from one column to another.
type Comparison struct {
	From     threshold.Column `json:"from"`
	To       threshold.Column `json:"to"`
	Before   int              `json:"before"`
	After    int              `json:"after"`
	Entities []EntityDelta    `json:"entities"`
}

// Compare diffs two results by trade id. Entities are listed in first-seen
// order across the base run then the other run.
func Compare(base, other Result) Comparison {
	cmp := Comparison{From: base.Column, To: other.Column, Before: len(base.Alerts), After: len(other.Alerts)}

	inBase := make(map[string]struct{}, len(base.Alerts))
	for _, t := range base.Alerts {
		inBase[t.TradeID] = struct{}{}
	}
	inOther := make(map[string]struct{}, len(other.Alerts))
	for _, t := range other.Alerts {
		inOther[t.TradeID] = struct{}{}
	}

	index := map[string]int{}
	row := func(entity string) *EntityDelta {
		if i, ok := index[entity]; ok {
			return &cmp.Entities[i]
		}
		index[entity] = len(cmp.Entities)
		cmp.Entities = append(cmp.Entities, EntityDelta{LegalEntity: entity})
		return &cmp.Entities[len(cmp.Entities)-1]
	}

	for _, t := range base.Alerts {
		d := row(t.LegalEntity)
		d.Before++
		if _, ok := inOther[t.TradeID]; !ok {
			d.Removed = append(d.Removed, t.TradeID)
		}
	}
	for _, t := range other.Alerts {
		d := row(t.LegalEntity)
		d.After++
		if _, ok := inBase[t.TradeID]; !ok {
			d.Added = append(d.Added, t.TradeID)
		}
	}
	return cmp
}
