package state

// ResultSlot is the union described in spec §3: either an inline value or a
// store reference, never both. Large results are offloaded by C6 step 8 and
// by the compactor (C9); inline results stay in state for cheap downstream
// reads.
type ResultSlot struct {
	Inline   map[string]any `json:"inline,omitempty"`
	Ref      *StoreRef      `json:"ref,omitempty"`
	Summary  string         `json:"summary,omitempty"`
}

// StoreRef points at a large result offloaded to the store (C8).
type StoreRef struct {
	StoredInStore bool   `json:"stored_in_store"`
	Namespace     string `json:"namespace"`
	Key           string `json:"key"`
	Summary       string `json:"summary,omitempty"`
	Count         int    `json:"count,omitempty"`
}

// InlineResult builds a slot holding the value directly in state.
func InlineResult(v map[string]any) *ResultSlot {
	return &ResultSlot{Inline: v}
}

// RefResult builds a slot pointing at an offloaded value.
func RefResult(namespace, key, summary string, count int) *ResultSlot {
	return &ResultSlot{Ref: &StoreRef{
		StoredInStore: true,
		Namespace:     namespace,
		Key:           key,
		Summary:       summary,
		Count:         count,
	}}
}

// IsEmpty reports whether the slot carries neither an inline value nor a
// reference — the "null" state invariant (i) and (ii) key off of.
func (r *ResultSlot) IsEmpty() bool {
	return r == nil || (r.Inline == nil && r.Ref == nil)
}

// IsRef reports whether this slot was offloaded to the store.
func (r *ResultSlot) IsRef() bool {
	return r != nil && r.Ref != nil
}
