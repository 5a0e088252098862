// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package address implements the LISP typed address model: a tagged
// variant covering plain IPv4/IPv6 addresses and prefixes plus the LCAF
// (LISP Canonical Address Format) extensions used for multicast,
// NAT-traversal, instance IDs, application data, and explicit locator
// paths. See RFC 6830 section 5.3 and RFC 8060 for the wire encodings
// this package implements.
package address

import (
	"fmt"
	"net/netip"
)

// AFI values as assigned by IANA and reused on the LISP control-plane
// wire (RFC 6830 section 5.1).
const (
	AFINone = 0
	AFIIPv4 = 1
	AFIIPv6 = 2
	AFILCAF = 16387
)

// Address is the tagged union of everything that can appear in an
// EID-AFI/EID or LOC-AFI/Locator wire field. The concrete type carries
// its own accessors; asserting the wrong concrete type from an Address
// of a different tag is a programming error, as it would be on the
// original C tagged union.
type Address interface {
	// AFI returns the wire AFI this address encodes as.
	AFI() uint16
	// SizeOnWire returns the number of bytes Write will produce,
	// including the AFI field for plain addresses or the LCAF header
	// for LCAF addresses.
	SizeOnWire() int
	// String returns a stable, human-readable form.
	String() string

	isAddress()
}

// NoAddr is the zero address (AFI 0), used where LISP wire formats allow
// an absent address (e.g. an ITR-RLOC count of zero, a NAT private ETR
// not yet learned).
type NoAddr struct{}

func (NoAddr) AFI() uint16     { return AFINone }
func (NoAddr) SizeOnWire() int { return 2 }
func (NoAddr) String() string  { return "no-address" }
func (NoAddr) isAddress()      {}

// IP is a plain, unprefixed IPv4 or IPv6 address.
type IP struct {
	Addr netip.Addr
}

func (a IP) AFI() uint16 {
	if a.Addr.Is4() {
		return AFIIPv4
	}
	return AFIIPv6
}

func (a IP) SizeOnWire() int {
	if a.Addr.Is4() {
		return 2 + 4
	}
	return 2 + 16
}

func (a IP) String() string { return a.Addr.String() }
func (IP) isAddress()       {}

// IPPrefix is an EID or RLOC prefix: an address plus a prefix length.
// Canonical zeroes the bits outside Plen before any compare or hash, as
// required by spec invariant "IDs and prefixes canonicalize the address
// bits outside plen to zero".
type IPPrefix struct {
	Addr netip.Addr
	Plen uint8
}

func (p IPPrefix) AFI() uint16 {
	if p.Addr.Is4() {
		return AFIIPv4
	}
	return AFIIPv6
}

func (p IPPrefix) SizeOnWire() int {
	if p.Addr.Is4() {
		return 2 + 4
	}
	return 2 + 16
}

func (p IPPrefix) String() string {
	return fmt.Sprintf("%s/%d", p.Addr.String(), p.Plen)
}

func (IPPrefix) isAddress() {}

// Canonical returns p with every bit outside Plen masked to zero.
func (p IPPrefix) Canonical() IPPrefix {
	prefix := netip.PrefixFrom(p.Addr, int(p.Plen)).Masked()
	return IPPrefix{Addr: prefix.Addr(), Plen: p.Plen}
}

// MaxPlen returns the address-family bound on Plen (32 for v4, 128 for
// v6), per spec invariant "plen within family bounds".
func (p IPPrefix) MaxPlen() uint8 {
	if p.Addr.Is4() {
		return 32
	}
	return 128
}
