// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package localdb is the database of locally owned EID-to-RLOC mappings
// the daemon registers to the mapping system: one longest-prefix-match
// trie per address family, each entry a *mapping.Mapping with a non-nil
// Registration. See original_source/lispd/lispd_local_db.c for the
// reference lookup/insert semantics this package reimplements over
// github.com/gaissmai/bart instead of a hand-rolled patricia trie.
package localdb

import (
	"fmt"
	"net/netip"

	"github.com/gaissmai/bart"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/mapping"
)

var log = logging.NewSubsys("localdb")

// DB holds every locally registered EID-prefix mapping, split by address
// family the way the teacher's IPv4/IPv6 cache tables are split, each
// backed by a bart.Table for constant-ish-time LPM.
type DB struct {
	v4 bart.Table[*mapping.Mapping]
	v6 bart.Table[*mapping.Mapping]
}

// New returns an empty local database.
func New() *DB {
	return &DB{}
}

func (d *DB) tableFor(is4 bool) *bart.Table[*mapping.Mapping] {
	if is4 {
		return &d.v4
	}
	return &d.v6
}

func toPrefix(addr netip.Addr, plen uint8) netip.Prefix {
	return netip.PrefixFrom(addr, int(plen)).Masked()
}

// Insert adds m, keyed by its own EID prefix, failing with
// ErrAlreadyExists if an entry for the exact same prefix is already
// present (an operator must Remove before re-registering a changed
// prefix).
func (d *DB) Insert(m *mapping.Mapping) error {
	addr, ok := eidAddr(m)
	if !ok {
		return fmt.Errorf("%w: local-db entries must key on a plain IP prefix", lisperr.ErrBadAfi)
	}
	pfx := toPrefix(addr, m.Plen)
	t := d.tableFor(addr.Is4())
	if _, exists := t.Get(pfx); exists {
		return fmt.Errorf("%w: %s already registered locally", lisperr.ErrAlreadyExists, pfx)
	}
	t.Insert(pfx, m)
	log.Debug("inserted local mapping", "eid", pfx.String())
	return nil
}

// Remove deletes the mapping for exactly prefix addr/plen, if present.
func (d *DB) Remove(addr netip.Addr, plen uint8) {
	pfx := toPrefix(addr, plen)
	d.tableFor(addr.Is4()).Delete(pfx)
}

// LookupExact returns the mapping registered for exactly addr/plen.
func (d *DB) LookupExact(addr netip.Addr, plen uint8) (*mapping.Mapping, bool) {
	return d.tableFor(addr.Is4()).Get(toPrefix(addr, plen))
}

// LookupBest performs a longest-prefix match for addr against the
// locally registered EID space (spec §4.D "is the EID locally owned").
// The daemon uses it to find the local mapping an inbound RLOC probe
// asks about.
func (d *DB) LookupBest(addr netip.Addr) (*mapping.Mapping, bool) {
	return d.tableFor(addr.Is4()).Lookup(addr)
}

// Walk calls fn for every registered mapping across both families, in
// no particular order. It stops early if fn returns false.
func (d *DB) Walk(fn func(m *mapping.Mapping) bool) {
	for _, m := range d.v4.All() {
		if !fn(m) {
			return
		}
	}
	for _, m := range d.v6.All() {
		if !fn(m) {
			return
		}
	}
}

// Len returns the total number of locally registered prefixes.
func (d *DB) Len() int {
	return d.v4.Size() + d.v6.Size()
}

// eidAddr extracts the underlying netip.Addr from the address.Address
// variants usable as an EID key (plain IP or IP prefix); LCAF variants
// cannot key a local-db entry, matching spec §4.A's "EID must resolve to
// a plain AFI address or prefix for local ownership".
func eidAddr(m *mapping.Mapping) (netip.Addr, bool) {
	switch a := m.EID.(type) {
	case address.IP:
		return a.Addr, true
	case address.IPPrefix:
		return a.Addr, true
	default:
		return netip.Addr{}, false
	}
}
