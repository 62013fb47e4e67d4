package variation

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
)

var ErrNoMatch = errors.New("no selector matches the given context")

// Selector maps a variation property id to a concrete value id. A property
// absent from the map is unrestricted ("any"). The empty selector is the
// default that matches every context.
type Selector map[int64]int64

func (s Selector) MarshalJSON() ([]byte, error) {
	m := make(map[string]int64, len(s))
	for k, v := range s {
		m[strconv.FormatInt(k, 10)] = v
	}
	return json.Marshal(m)
}

func (s *Selector) UnmarshalJSON(data []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Selector, len(m))
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return err
		}
		out[id] = v
	}
	*s = out
	return nil
}

// Equal treats absence as "any", which is distinct from every concrete value:
// two selectors are equal iff they agree on every property present in either.
func (s Selector) Equal(other Selector) bool {
	if len(s) != len(other) {
		return false
	}
	for prop, val := range s {
		if ov, ok := other[prop]; !ok || ov != val {
			return false
		}
	}
	return true
}

// Matches reports whether the selector is compatible with a concrete context:
// it must agree wherever it is concrete. A property absent from the context
// counts as "any", not as a mismatch.
func (s Selector) Matches(ctx Selector) bool {
	for prop, val := range s {
		if cv, ok := ctx[prop]; ok && cv != val {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s Selector) Clone() Selector {
	out := make(Selector, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// compareSpecificity orders two context-compatible selectors. Properties are
// scanned in ascending priority; at the first property where exactly one
// selector is concrete, that selector is the more specific. Returns >0 when
// a wins, <0 when b wins, 0 when their concreteness agrees everywhere.
func compareSpecificity(a, b Selector, props []VariationProperty) int {
	ordered := make([]VariationProperty, len(props))
	copy(ordered, props)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, p := range ordered {
		_, aConcrete := a[p.ID]
		_, bConcrete := b[p.ID]
		if aConcrete && !bConcrete {
			return 1
		}
		if bConcrete && !aConcrete {
			return -1
		}
	}
	return 0
}

// Resolve returns the index of the most specific selector compatible with the
// context, or ErrNoMatch. Two live selectors under one key can never tie:
// equal concreteness plus compatibility with one context implies equal
// selectors, which the uniqueness invariant rules out.
func Resolve(selectors []Selector, ctx Selector, props []VariationProperty) (int, error) {
	best := -1
	for i, sel := range selectors {
		if !sel.Matches(ctx) {
			continue
		}
		if best < 0 || compareSpecificity(sel, selectors[best], props) > 0 {
			best = i
		}
	}
	if best < 0 {
		return 0, ErrNoMatch
	}
	return best, nil
}
