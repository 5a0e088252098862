// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mapping

// BalancingVectors holds the three load-balancing vectors derived from
// a mapping's locator set (spec §3): v4-only, v6-only, and combined.
// Entries are borrowed references into the mapping's own locator lists
// and must never outlive it; RecomputeBalance builds three fresh slices
// and assigns them in a single struct assignment rather than mutating
// the old slices in place, so a reader holding a copy of the old
// BalancingVectors value never observes a half-rebuilt vector.
type BalancingVectors struct {
	V4       []*Locator
	V6       []*Locator
	Combined []*Locator
}

// gcd is Euclid's algorithm over uint32 weights. math/big.Int.GCD is
// overkill for single machine words; see DESIGN.md for why this stays
// hand-rolled instead of pulling in an ecosystem bignum package.
func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// bestPriorityGroup returns the usable locators (state=UP, priority!=255)
// sharing the minimum priority observed among them, and that priority.
func bestPriorityGroup(locators []*Locator) (group []*Locator, minPriority uint8, ok bool) {
	minPriority = 255
	for _, l := range locators {
		if !l.Usable() {
			continue
		}
		if l.Priority < minPriority {
			minPriority = l.Priority
		}
	}
	if minPriority == 255 {
		return nil, 0, false
	}
	for _, l := range locators {
		if l.Usable() && l.Priority == minPriority {
			group = append(group, l)
		}
	}
	return group, minPriority, true
}

// weightedVector expands group into a flat vector where each locator
// appears weight/gcd(weights) times, or exactly once per locator if the
// total weight is zero (the "symmetric" case).
func weightedVector(group []*Locator) ([]*Locator, uint32) {
	if len(group) == 0 {
		return nil, 0
	}

	var totalWeight uint32
	g := uint32(0)
	for _, l := range group {
		totalWeight += uint32(l.Weight)
		g = gcd(g, uint32(l.Weight))
	}

	if totalWeight == 0 {
		return append([]*Locator(nil), group...), 0
	}

	// A locator with weight/gcd == 0 inside an otherwise-nonzero-weight
	// group is excluded entirely, matching lispd_mapping.c's
	// used_pos = locators[ctr]->weight/hcf — only the all-zero case above
	// gets every locator included once.
	var vec []*Locator
	for _, l := range group {
		reps := uint32(l.Weight) / g
		for i := uint32(0); i < reps; i++ {
			vec = append(vec, l)
		}
	}
	return vec, g
}

// RecomputeBalance rebuilds m.Balance from scratch following spec §4.B's
// five-step algorithm: per-family best-priority group and weighted
// vector, then a combined vector that concatenates both families when
// their minimum priorities tie, or aliases whichever family has the
// better (lower) minimum priority otherwise.
func RecomputeBalance(m *Mapping) {
	v4Group, v4MinPri, v4HasUsable := bestPriorityGroup(m.LocatorsV4)
	v6Group, v6MinPri, v6HasUsable := bestPriorityGroup(m.LocatorsV6)

	v4Vec, v4GCD := weightedVector(v4Group)
	v6Vec, v6GCD := weightedVector(v6Group)

	var combined []*Locator
	switch {
	case v4HasUsable && v6HasUsable && v4MinPri == v6MinPri:
		both := append(append([]*Locator(nil), v4Group...), v6Group...)
		combined, _ = weightedVector(both)
		_ = gcd(v4GCD, v6GCD)
	case v4HasUsable && (!v6HasUsable || v4MinPri < v6MinPri):
		combined = v4Vec
	case v6HasUsable:
		combined = v6Vec
	default:
		combined = nil
	}

	m.Balance = BalancingVectors{V4: v4Vec, V6: v6Vec, Combined: combined}
}
