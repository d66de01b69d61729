package pii

// Entity is a candidate PII span. Index is the ordinal of the word the match
// starts in, not a byte offset, so rewriting an earlier word does not move a
// later entity. The JSON shape is shared with remote detectors.
type Entity struct {
	Label Label  `json:"label"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Candidate is an entity whose label mapped to a redactable kind.
type Candidate struct {
	Entity Entity `json:"entity"`
	Kind   Kind   `json:"kind"`
}

// Classify maps entities to candidates, dropping labels with no kind.
func Classify(entities []Entity) []Candidate {
	out := make([]Candidate, 0, len(entities))
	for _, e := range entities {
		kind, ok := KindForLabel(e.Label)
		if !ok {
			continue
		}
		out = append(out, Candidate{Entity: e, Kind: kind})
	}
	return out
}

// GroupByKind buckets candidates by kind, keeping first-seen kind order.
func GroupByKind(candidates []Candidate) ([]Kind, map[Kind][]Candidate) {
	order := make([]Kind, 0, len(AllKinds))
	groups := make(map[Kind][]Candidate)
	for _, c := range candidates {
		if _, seen := groups[c.Kind]; !seen {
			order = append(order, c.Kind)
		}
		groups[c.Kind] = append(groups[c.Kind], c)
	}
	return order, groups
}
