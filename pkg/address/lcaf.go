// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package address

import "fmt"

// LCAF type codes (RFC 8060 section 4).
const (
	lcafTypeInstanceID           = 2
	lcafTypeAppData              = 4
	lcafTypeNatTraversal         = 7
	lcafTypeMulticastInfo        = 9
	lcafTypeExplicitLocatorPath  = 10
)

// lcafHeaderLen is the fixed 6-byte LCAF preamble: rsvd1, flags, type,
// rsvd2, length(2).
const lcafHeaderLen = 6

// MulticastInfo is the LCAF Multicast Info variant: a (source, group)
// pair scoped to an instance ID, each with its own mask length.
type MulticastInfo struct {
	IID    uint32
	SPlen  uint8
	GPlen  uint8
	Source Address
	Group  Address
}

func (MulticastInfo) AFI() uint16 { return AFILCAF }
func (m MulticastInfo) SizeOnWire() int {
	return lcafHeaderLen + 1 + 1 + 4 + 1 + 1 + 1 + m.Source.SizeOnWire() + m.Group.SizeOnWire()
}
func (m MulticastInfo) String() string {
	return fmt.Sprintf("lcaf-multicast(iid=%d,src=%s/%d,grp=%s/%d)",
		m.IID, m.Source.String(), m.SPlen, m.Group.String(), m.GPlen)
}
func (MulticastInfo) isAddress() {}

// NatTraversal is the LCAF NAT-Traversal variant carrying the ports and
// RLOCs needed to reach an ETR behind address/port translation.
type NatTraversal struct {
	MSPort    uint16
	ETRPort   uint16
	GlobalETR Address
	MS        Address
	PrivETR   Address
	RTRList   []Address
}

func (NatTraversal) AFI() uint16 { return AFILCAF }
func (n NatTraversal) SizeOnWire() int {
	size := lcafHeaderLen + 2 + 2 + n.GlobalETR.SizeOnWire() + n.MS.SizeOnWire() + n.PrivETR.SizeOnWire()
	for _, r := range n.RTRList {
		size += r.SizeOnWire()
	}
	return size
}
func (n NatTraversal) String() string {
	return fmt.Sprintf("lcaf-nat(ms=%d,etr=%d,global=%s,rtrs=%d)",
		n.MSPort, n.ETRPort, n.GlobalETR.String(), len(n.RTRList))
}
func (NatTraversal) isAddress() {}

// InstanceID is the LCAF Instance ID variant: a 32-bit instance scoping
// an inner address, used to disambiguate overlapping EID spaces.
type InstanceID struct {
	IID   uint32
	Inner Address
}

func (InstanceID) AFI() uint16        { return AFILCAF }
func (i InstanceID) SizeOnWire() int  { return lcafHeaderLen + 4 + i.Inner.SizeOnWire() }
func (i InstanceID) String() string   { return fmt.Sprintf("lcaf-iid(%d,%s)", i.IID, i.Inner.String()) }
func (InstanceID) isAddress()         {}

// AppData is the LCAF Application Data variant, qualifying an inner
// address with the IP protocol and port range of the traffic it covers.
type AppData struct {
	Protocol      uint8
	IPTOS         uint8
	LocalPortLow  uint16
	LocalPortHigh uint16
	RemotePortLow uint16
	RemotePortHigh uint16
	Inner         Address
}

func (AppData) AFI() uint16 { return AFILCAF }
func (a AppData) SizeOnWire() int {
	return lcafHeaderLen + 1 + 1 + 2 + 2 + 2 + 2 + a.Inner.SizeOnWire()
}
func (a AppData) String() string {
	return fmt.Sprintf("lcaf-appdata(proto=%d,%s)", a.Protocol, a.Inner.String())
}
func (AppData) isAddress() {}

// LocatorPathHop is one hop of an ExplicitLocatorPath: a locator address
// plus the Lookup/RLOC-probe/Strict bits from RFC 8060 section 4.6.
type LocatorPathHop struct {
	Locator Address
	Lookup  bool
	RLOC    bool
	Strict  bool
}

// ExplicitLocatorPath is the LCAF Explicit Locator Path variant: an
// ordered list of RLOC hops a packet must traverse.
type ExplicitLocatorPath struct {
	Hops []LocatorPathHop
}

func (ExplicitLocatorPath) AFI() uint16 { return AFILCAF }
func (e ExplicitLocatorPath) SizeOnWire() int {
	size := lcafHeaderLen
	for _, h := range e.Hops {
		size += 1 + h.Locator.SizeOnWire()
	}
	return size
}
func (e ExplicitLocatorPath) String() string {
	return fmt.Sprintf("lcaf-elp(%d hops)", len(e.Hops))
}
func (ExplicitLocatorPath) isAddress() {}
