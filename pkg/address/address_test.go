// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package address

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, a Address) Address {
	t.Helper()
	buf := make([]byte, a.SizeOnWire())
	n, err := Write(buf, a)
	require.NoError(t, err)
	require.Equal(t, a.SizeOnWire(), n)

	got, n2, err := Read(buf)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	return got
}

func TestRoundTripPlain(t *testing.T) {
	cases := []Address{
		NoAddr{},
		IP{Addr: netip.MustParseAddr("192.0.2.1")},
		IP{Addr: netip.MustParseAddr("2001:db8::1")},
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		require.Equal(t, c.String(), got.String())
		require.Equal(t, c.AFI(), got.AFI())
	}
}

func TestRoundTripIPPrefixEncodesBareAddress(t *testing.T) {
	p := IPPrefix{Addr: netip.MustParseAddr("10.0.0.0"), Plen: 24}
	got := roundTrip(t, p)
	ip, ok := got.(IP)
	require.True(t, ok)
	require.Equal(t, "10.0.0.0", ip.Addr.String())
}

func TestRoundTripLCAFVariants(t *testing.T) {
	src := IP{Addr: netip.MustParseAddr("203.0.113.5")}
	grp := IP{Addr: netip.MustParseAddr("239.1.1.1")}
	mi := MulticastInfo{IID: 42, SPlen: 32, GPlen: 32, Source: src, Group: grp}
	got := roundTrip(t, mi).(MulticastInfo)
	require.Equal(t, mi.IID, got.IID)
	require.Equal(t, mi.SPlen, got.SPlen)
	require.Equal(t, mi.GPlen, got.GPlen)
	require.Equal(t, src.String(), got.Source.String())
	require.Equal(t, grp.String(), got.Group.String())

	nt := NatTraversal{
		MSPort:    4342,
		ETRPort:   4341,
		GlobalETR: IP{Addr: netip.MustParseAddr("198.51.100.1")},
		MS:        IP{Addr: netip.MustParseAddr("192.0.2.5")},
		PrivETR:   IP{Addr: netip.MustParseAddr("10.0.0.2")},
		RTRList: []Address{
			IP{Addr: netip.MustParseAddr("198.51.100.10")},
			IP{Addr: netip.MustParseAddr("198.51.100.11")},
		},
	}
	gotNT := roundTrip(t, nt).(NatTraversal)
	require.Equal(t, nt.MSPort, gotNT.MSPort)
	require.Equal(t, nt.ETRPort, gotNT.ETRPort)
	require.Len(t, gotNT.RTRList, 2)
	require.Equal(t, nt.RTRList[0].String(), gotNT.RTRList[0].String())
	require.Equal(t, nt.RTRList[1].String(), gotNT.RTRList[1].String())

	inst := InstanceID{IID: 7, Inner: IP{Addr: netip.MustParseAddr("10.1.1.1")}}
	gotInst := roundTrip(t, inst).(InstanceID)
	require.Equal(t, inst.IID, gotInst.IID)
	require.Equal(t, inst.Inner.String(), gotInst.Inner.String())

	app := AppData{
		Protocol:       6,
		IPTOS:          0,
		LocalPortLow:   80,
		LocalPortHigh:  80,
		RemotePortLow:  0,
		RemotePortHigh: 65535,
		Inner:          IP{Addr: netip.MustParseAddr("10.2.2.2")},
	}
	gotApp := roundTrip(t, app).(AppData)
	require.Equal(t, app.Protocol, gotApp.Protocol)
	require.Equal(t, app.LocalPortLow, gotApp.LocalPortLow)
	require.Equal(t, app.Inner.String(), gotApp.Inner.String())

	elp := ExplicitLocatorPath{Hops: []LocatorPathHop{
		{Locator: IP{Addr: netip.MustParseAddr("10.3.3.1")}, Strict: true},
		{Locator: IP{Addr: netip.MustParseAddr("10.3.3.2")}, RLOC: true, Lookup: true},
	}}
	gotELP := roundTrip(t, elp).(ExplicitLocatorPath)
	require.Len(t, gotELP.Hops, 2)
	require.True(t, gotELP.Hops[0].Strict)
	require.True(t, gotELP.Hops[1].RLOC)
	require.True(t, gotELP.Hops[1].Lookup)
}

func TestCanonicalMasksBitsOutsidePlen(t *testing.T) {
	p := IPPrefix{Addr: netip.MustParseAddr("10.0.0.17"), Plen: 24}
	c := p.Canonical()
	require.Equal(t, "10.0.0.0", c.Addr.String())
}

func TestCompareOrdersByTagThenBytesThenPlen(t *testing.T) {
	a := IPPrefix{Addr: netip.MustParseAddr("10.0.0.0"), Plen: 24}
	b := IPPrefix{Addr: netip.MustParseAddr("10.0.0.0"), Plen: 16}
	require.Equal(t, 1, Compare(a, b))
	require.Equal(t, -1, Compare(b, a))
	require.Equal(t, 0, Compare(a, a))

	ip := IP{Addr: netip.MustParseAddr("10.0.0.0")}
	require.Equal(t, -1, Compare(ip, a))
}

func TestUnknownAfiReturnsBadAfi(t *testing.T) {
	buf := []byte{0x00, 0x63, 0x01, 0x02}
	_, _, err := Read(buf)
	require.Error(t, err)
}

func TestTruncatedReturnsTruncated(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x0a}
	_, _, err := Read(buf)
	require.Error(t, err)
}
