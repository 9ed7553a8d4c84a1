package workflow

import (
	"sort"
	"strings"
)

// Strategy is the execution matrix of a job. The effective item set is the
// Cartesian product of Matrix, plus Include entries not already present,
// minus Exclude matches. The empty strategy yields exactly one item with
// an empty mapping.
type Strategy struct {
	Matrix  map[string][]any `yaml:"matrix,omitempty"`
	Include []map[string]any `yaml:"include,omitempty"`
	Exclude []map[string]any `yaml:"exclude,omitempty"`
	// MaxParallel caps concurrently running items; 0 means bounded only
	// by the worker pool.
	MaxParallel int `yaml:"max_parallel,omitempty"`
	// FailFast cancels sibling items when one fails. Defaults to true.
	FailFast *bool `yaml:"fail_fast,omitempty"`
}

// Item is one expanded matrix combination.
type Item struct {
	// ID is the stable key of the item, derived from its values.
	ID string
	// Values maps dimension names to this combination's values.
	Values map[string]any
}

// IsEmpty reports whether the strategy declares no matrix.
func (s Strategy) IsEmpty() bool {
	return len(s.Matrix) == 0 && len(s.Include) == 0
}

// FailFastEnabled resolves the fail_fast default.
func (s Strategy) FailFastEnabled() bool {
	return s.FailFast == nil || *s.FailFast
}

// Expand computes the effective item list. The result is deterministic:
// dimensions iterate in sorted name order, values in declaration order,
// includes in declaration order.
func (s Strategy) Expand() []Item {
	if s.IsEmpty() {
		return []Item{{ID: "", Values: map[string]any{}}}
	}

	dims := make([]string, 0, len(s.Matrix))
	for d := range s.Matrix {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	combos := []map[string]any{{}}
	for _, d := range dims {
		var next []map[string]any
		for _, base := range combos {
			for _, v := range s.Matrix[d] {
				combo := make(map[string]any, len(base)+1)
				for k, bv := range base {
					combo[k] = bv
				}
				combo[d] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	if len(s.Matrix) == 0 {
		combos = nil
	}

	for _, inc := range s.Include {
		if !containsCombo(combos, inc) {
			combos = append(combos, inc)
		}
	}

	var items []Item
	for _, combo := range combos {
		if excluded(combo, s.Exclude) {
			continue
		}
		items = append(items, Item{ID: itemID(combo), Values: combo})
	}
	return items
}

// containsCombo reports whether any existing combination matches inc on
// inc's full key set.
func containsCombo(combos []map[string]any, inc map[string]any) bool {
	for _, c := range combos {
		if matchesOn(c, inc) {
			return true
		}
	}
	return false
}

// excluded reports whether combo matches any exclude entry on that entry's
// keys.
func excluded(combo map[string]any, excludes []map[string]any) bool {
	for _, ex := range excludes {
		if len(ex) > 0 && matchesOn(combo, ex) {
			return true
		}
	}
	return false
}

// matchesOn reports whether combo agrees with probe on every probe key.
func matchesOn(combo, probe map[string]any) bool {
	for k, pv := range probe {
		cv, ok := combo[k]
		if !ok || stringifyRaw(cv) != stringifyRaw(pv) {
			return false
		}
	}
	return true
}

// itemID concatenates the combination's values in sorted key order.
func itemID(combo map[string]any) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = stringifyRaw(combo[k])
	}
	return strings.Join(parts, "-")
}
