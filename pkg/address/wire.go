// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package address

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cilium/lispd/pkg/lisperr"
)

// Write encodes addr into buf starting at offset 0 and returns the
// number of bytes written. buf must be at least addr.SizeOnWire() long.
//
// A plain address is a 16-bit AFI in network order followed by its raw
// bytes; prefix length, when one applies, travels in the enclosing
// record and is never part of an address's own wire form. An LCAF
// address is the 6-byte LCAF header followed by its type-specific body.
func Write(buf []byte, addr Address) (int, error) {
	switch a := addr.(type) {
	case NoAddr:
		if len(buf) < 2 {
			return 0, lisperr.ErrTruncated
		}
		binary.BigEndian.PutUint16(buf, AFINone)
		return 2, nil
	case IP:
		return writePlain(buf, a.Addr)
	case IPPrefix:
		return writePlain(buf, a.Addr)
	case MulticastInfo:
		return writeMulticastInfo(buf, a)
	case NatTraversal:
		return writeNatTraversal(buf, a)
	case InstanceID:
		return writeInstanceID(buf, a)
	case AppData:
		return writeAppData(buf, a)
	case ExplicitLocatorPath:
		return writeExplicitLocatorPath(buf, a)
	default:
		return 0, fmt.Errorf("%w: %T", lisperr.ErrUnsupportedLcafType, addr)
	}
}

func writePlain(buf []byte, ip netip.Addr) (int, error) {
	raw := ip.As16()
	n := 16
	afi := uint16(AFIIPv6)
	if ip.Is4() {
		a4 := ip.As4()
		n = 4
		afi = AFIIPv4
		if len(buf) < 2+n {
			return 0, lisperr.ErrTruncated
		}
		binary.BigEndian.PutUint16(buf, afi)
		copy(buf[2:], a4[:])
		return 2 + n, nil
	}
	if len(buf) < 2+n {
		return 0, lisperr.ErrTruncated
	}
	binary.BigEndian.PutUint16(buf, afi)
	copy(buf[2:], raw[:])
	return 2 + n, nil
}

func lcafHeader(buf []byte, typ uint8, bodyLen int) (int, error) {
	if len(buf) < lcafHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = 0 // rsvd1
	buf[1] = 0 // flags
	buf[2] = typ
	buf[3] = 0 // rsvd2
	binary.BigEndian.PutUint16(buf[4:6], uint16(bodyLen))
	return lcafHeaderLen, nil
}

func writeAddr(buf []byte, off int, a Address) (int, error) {
	n, err := Write(buf[off:], a)
	if err != nil {
		return off, err
	}
	return off + n, nil
}

func writeMulticastInfo(buf []byte, m MulticastInfo) (int, error) {
	total := m.SizeOnWire()
	if len(buf) < total {
		return 0, lisperr.ErrTruncated
	}
	bodyLen := total - lcafHeaderLen
	off, err := lcafHeader(buf, lcafTypeMulticastInfo, bodyLen)
	if err != nil {
		return 0, err
	}
	buf[off] = 0 // rsvd3
	off++
	buf[off] = 0 // flags
	off++
	binary.BigEndian.PutUint32(buf[off:off+4], m.IID)
	off += 4
	buf[off] = 0 // rsvd4
	off++
	buf[off] = m.SPlen
	off++
	buf[off] = m.GPlen
	off++
	off, err = writeAddr(buf, off, m.Source)
	if err != nil {
		return 0, err
	}
	off, err = writeAddr(buf, off, m.Group)
	if err != nil {
		return 0, err
	}
	return off, nil
}

func writeNatTraversal(buf []byte, n NatTraversal) (int, error) {
	total := n.SizeOnWire()
	if len(buf) < total {
		return 0, lisperr.ErrTruncated
	}
	bodyLen := total - lcafHeaderLen
	off, err := lcafHeader(buf, lcafTypeNatTraversal, bodyLen)
	if err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint16(buf[off:off+2], n.MSPort)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], n.ETRPort)
	off += 2
	off, err = writeAddr(buf, off, n.GlobalETR)
	if err != nil {
		return 0, err
	}
	off, err = writeAddr(buf, off, n.MS)
	if err != nil {
		return 0, err
	}
	off, err = writeAddr(buf, off, n.PrivETR)
	if err != nil {
		return 0, err
	}
	for _, r := range n.RTRList {
		off, err = writeAddr(buf, off, r)
		if err != nil {
			return 0, err
		}
	}
	return off, nil
}

func writeInstanceID(buf []byte, i InstanceID) (int, error) {
	total := i.SizeOnWire()
	if len(buf) < total {
		return 0, lisperr.ErrTruncated
	}
	bodyLen := total - lcafHeaderLen
	off, err := lcafHeader(buf, lcafTypeInstanceID, bodyLen)
	if err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(buf[off:off+4], i.IID)
	off += 4
	return writeAddr(buf, off, i.Inner)
}

func writeAppData(buf []byte, a AppData) (int, error) {
	total := a.SizeOnWire()
	if len(buf) < total {
		return 0, lisperr.ErrTruncated
	}
	bodyLen := total - lcafHeaderLen
	off, err := lcafHeader(buf, lcafTypeAppData, bodyLen)
	if err != nil {
		return 0, err
	}
	buf[off] = a.Protocol
	off++
	buf[off] = a.IPTOS
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], a.LocalPortLow)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], a.LocalPortHigh)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], a.RemotePortLow)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], a.RemotePortHigh)
	off += 2
	return writeAddr(buf, off, a.Inner)
}

func writeExplicitLocatorPath(buf []byte, e ExplicitLocatorPath) (int, error) {
	total := e.SizeOnWire()
	if len(buf) < total {
		return 0, lisperr.ErrTruncated
	}
	bodyLen := total - lcafHeaderLen
	off, err := lcafHeader(buf, lcafTypeExplicitLocatorPath, bodyLen)
	if err != nil {
		return 0, err
	}
	for _, h := range e.Hops {
		var flags uint8
		if h.Lookup {
			flags |= 0x4
		}
		if h.RLOC {
			flags |= 0x2
		}
		if h.Strict {
			flags |= 0x1
		}
		buf[off] = flags
		off++
		off, err = writeAddr(buf, off, h.Locator)
		if err != nil {
			return 0, err
		}
	}
	return off, nil
}
