// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package mapcache is the learned-mapping cache: EID-prefixes resolved
// via Map-Request/Map-Reply (or installed negative on a lookup miss),
// each expiring on its advertised TTL through the shared timer wheel.
// No original_source file covers the map cache directly (the kept
// LISPmob sources are lispd.h, lispd_address.c, lispd_external.h,
// lispd_local_db.c, lispd_map_register.c, lispd_mapping.c); the
// cache/negative-entry/expiry semantics here are this module's own
// design against spec §4.D.
package mapcache

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/gaissmai/bart"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/timerwheel"
)

var log = logging.NewSubsys("mapcache")

// Cache is the map cache's LPM trie, one per address family, plus the
// timer wheel it schedules TTL expiry against.
type Cache struct {
	v4       bart.Table[*mapping.Mapping]
	v6       bart.Table[*mapping.Mapping]
	wheel    *timerwheel.Wheel
	onExpire func(m *mapping.Mapping)

	// OnInstall, if set, is invoked (on the single mutator goroutine)
	// after InstallOrRefresh installs or refreshes an entry, positive or
	// negative, so the daemon can forward the event to its
	// DataPlaneSink without mapcache depending on pkg/daemon.
	OnInstall func(m *mapping.Mapping)
}

// New returns an empty map cache. onExpire is invoked (on the single
// mutator goroutine) whenever a cached entry's TTL fires, after the
// entry has already been removed from the cache — it exists so the
// daemon can log or emit a metric without mapcache depending on those
// packages.
func New(wheel *timerwheel.Wheel, onExpire func(m *mapping.Mapping)) *Cache {
	return &Cache{wheel: wheel, onExpire: onExpire}
}

func (c *Cache) tableFor(is4 bool) *bart.Table[*mapping.Mapping] {
	if is4 {
		return &c.v4
	}
	return &c.v6
}

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

func toPrefix(addr netip.Addr, plen uint8) netip.Prefix {
	return netip.PrefixFrom(addr, int(plen)).Masked()
}

// InstallOrRefresh inserts m into the cache (replacing any existing
// entry for the exact same prefix) and (re)arms its TTL timer, per spec
// §4.D's "a Map-Reply always replaces and re-times the prior cache
// entry for the same EID-prefix, even if one was already present."
func (c *Cache) InstallOrRefresh(m *mapping.Mapping) error {
	addr, ok := eidAddr(m)
	if !ok {
		return fmt.Errorf("%w: map-cache entries must key on a plain IP prefix", lisperr.ErrBadAfi)
	}
	pfx := toPrefix(addr, m.Plen)
	t := c.tableFor(addr.Is4())

	if old, exists := t.Get(pfx); exists && old.Cache != nil {
		c.wheel.Cancel(timerwheel.Handle(handleOf(old.Cache.TimerHandle)))
	}

	if m.Cache == nil {
		m.Cache = &mapping.CacheState{}
	}
	m.Cache.InstalledAt = timeNow()
	h := c.wheel.Schedule(ttlOrDefault(m.TTLSeconds), func() { c.expire(addr, m.Plen) })
	m.Cache.TimerHandle = handleString(h)

	t.Insert(pfx, m)
	log.Debug("installed map-cache entry", "eid", pfx.String(), "negative", m.Cache.Negative, "ttl", m.TTLSeconds)
	if c.OnInstall != nil {
		c.OnInstall(m)
	}
	return nil
}

// InstallNegative installs a negative cache entry for pfx with the given
// action and TTL, the response to a Map-Reply with a zero locator count
// or to a local policy decision to not resolve an EID (spec §3, §4.D).
func (c *Cache) InstallNegative(pfx netip.Prefix, action mapping.Action, ttl uint32) *mapping.Mapping {
	m := mapping.New(address.IPPrefix{Addr: pfx.Addr(), Plen: uint8(pfx.Bits())}, uint8(pfx.Bits()), 0)
	m.Action = action
	m.TTLSeconds = ttl
	m.Cache = &mapping.CacheState{Negative: true}
	_ = c.InstallOrRefresh(m)
	return m
}

// LookupExact returns the cache entry for exactly addr/plen.
func (c *Cache) LookupExact(addr netip.Addr, plen uint8) (*mapping.Mapping, bool) {
	return c.tableFor(addr.Is4()).Get(toPrefix(addr, plen))
}

// LookupBest performs the longest-prefix match a data-plane lookup or a
// pending-Map-Request dedup check uses.
func (c *Cache) LookupBest(addr netip.Addr) (*mapping.Mapping, bool) {
	return c.tableFor(addr.Is4()).Lookup(addr)
}

// Remove deletes the cache entry for exactly addr/plen and cancels its
// TTL timer, if any.
func (c *Cache) Remove(addr netip.Addr, plen uint8) {
	t := c.tableFor(addr.Is4())
	pfx := toPrefix(addr, plen)
	if m, ok := t.Get(pfx); ok && m.Cache != nil {
		c.wheel.Cancel(timerwheel.Handle(handleOf(m.Cache.TimerHandle)))
	}
	t.Delete(pfx)
}

func (c *Cache) expire(addr netip.Addr, plen uint8) {
	t := c.tableFor(addr.Is4())
	pfx := toPrefix(addr, plen)
	m, ok := t.Get(pfx)
	if !ok {
		return
	}
	t.Delete(pfx)
	if c.onExpire != nil {
		c.onExpire(m)
	}
}

// Walk calls fn for every cached entry across both families.
func (c *Cache) Walk(fn func(m *mapping.Mapping) bool) {
	for _, m := range c.v4.All() {
		if !fn(m) {
			return
		}
	}
	for _, m := range c.v6.All() {
		if !fn(m) {
			return
		}
	}
}

// Len returns the total number of cached entries, positive and negative.
func (c *Cache) Len() int {
	return c.v4.Size() + c.v6.Size()
}

func ttlOrDefault(ttl uint32) time.Duration {
	if ttl == 0 {
		return time.Minute
	}
	return time.Duration(ttl) * time.Second
}

// handleString/handleOf round-trip a timerwheel.Handle through the
// mapping.CacheState.TimerHandle string field, which keeps pkg/mapping
// free of any import of pkg/timerwheel.
func handleString(h timerwheel.Handle) string {
	return fmt.Sprintf("%d", uint64(h))
}

func handleOf(s string) uint64 {
	var v uint64
	fmt.Sscanf(s, "%d", &v)
	return v
}

var timeNow = time.Now
