// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package localdb

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/mapping"
)

func prefixMapping(s string) *mapping.Mapping {
	pfx := netip.MustParsePrefix(s)
	return mapping.New(address.IPPrefix{Addr: pfx.Addr(), Plen: uint8(pfx.Bits())}, uint8(pfx.Bits()), 0)
}

func TestInsertAndLookupExact(t *testing.T) {
	db := New()
	m := prefixMapping("10.0.0.0/24")
	require.NoError(t, db.Insert(m))

	got, ok := db.LookupExact(netip.MustParseAddr("10.0.0.0"), 24)
	require.True(t, ok)
	require.Same(t, m, got)
}

func TestInsertDuplicatePrefixRejected(t *testing.T) {
	db := New()
	require.NoError(t, db.Insert(prefixMapping("10.0.0.0/24")))
	err := db.Insert(prefixMapping("10.0.0.0/24"))
	require.ErrorIs(t, err, lisperr.ErrAlreadyExists)
	require.Equal(t, 1, db.Len())
}

func TestLookupBestReturnsLongestMatch(t *testing.T) {
	db := New()
	wide := prefixMapping("10.0.0.0/8")
	narrow := prefixMapping("10.1.0.0/16")
	require.NoError(t, db.Insert(wide))
	require.NoError(t, db.Insert(narrow))

	got, ok := db.LookupBest(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	require.Same(t, narrow, got)

	got, ok = db.LookupBest(netip.MustParseAddr("10.2.2.3"))
	require.True(t, ok)
	require.Same(t, wide, got)
}

func TestLookupBestMissReturnsFalse(t *testing.T) {
	db := New()
	require.NoError(t, db.Insert(prefixMapping("10.0.0.0/24")))

	_, ok := db.LookupBest(netip.MustParseAddr("192.0.2.1"))
	require.False(t, ok)
}

func TestRemoveDeletesExactEntryOnly(t *testing.T) {
	db := New()
	wide := prefixMapping("10.0.0.0/8")
	narrow := prefixMapping("10.1.0.0/16")
	require.NoError(t, db.Insert(wide))
	require.NoError(t, db.Insert(narrow))

	db.Remove(netip.MustParseAddr("10.1.0.0"), 16)

	_, ok := db.LookupExact(netip.MustParseAddr("10.1.0.0"), 16)
	require.False(t, ok)

	got, ok := db.LookupBest(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	require.Same(t, wide, got)
}

func TestFamiliesAreIndependent(t *testing.T) {
	db := New()
	v4 := prefixMapping("10.0.0.0/24")
	pfx6 := netip.MustParsePrefix("2001:db8::/32")
	v6 := mapping.New(address.IPPrefix{Addr: pfx6.Addr(), Plen: uint8(pfx6.Bits())}, uint8(pfx6.Bits()), 0)
	require.NoError(t, db.Insert(v4))
	require.NoError(t, db.Insert(v6))

	require.Equal(t, 2, db.Len())
	_, ok := db.LookupBest(netip.MustParseAddr("2001:db8::1"))
	require.True(t, ok)
}

func TestWalkVisitsEveryEntry(t *testing.T) {
	db := New()
	require.NoError(t, db.Insert(prefixMapping("10.0.0.0/24")))
	require.NoError(t, db.Insert(prefixMapping("10.0.1.0/24")))

	count := 0
	db.Walk(func(m *mapping.Mapping) bool {
		count++
		return true
	})
	require.Equal(t, 2, count)
}

func TestWalkStopsEarlyWhenFnReturnsFalse(t *testing.T) {
	db := New()
	require.NoError(t, db.Insert(prefixMapping("10.0.0.0/24")))
	require.NoError(t, db.Insert(prefixMapping("10.0.1.0/24")))

	count := 0
	db.Walk(func(m *mapping.Mapping) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}
