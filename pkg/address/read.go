// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package address

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cilium/lispd/pkg/lisperr"
)

// Read decodes an Address from the front of buf and returns it along
// with the number of bytes consumed.
func Read(buf []byte) (Address, int, error) {
	if len(buf) < 2 {
		return nil, 0, lisperr.ErrTruncated
	}
	afi := binary.BigEndian.Uint16(buf)
	switch afi {
	case AFINone:
		return NoAddr{}, 2, nil
	case AFIIPv4:
		if len(buf) < 2+4 {
			return nil, 0, lisperr.ErrTruncated
		}
		a := netip.AddrFrom4([4]byte(buf[2:6]))
		return IP{Addr: a}, 2 + 4, nil
	case AFIIPv6:
		if len(buf) < 2+16 {
			return nil, 0, lisperr.ErrTruncated
		}
		var b [16]byte
		copy(b[:], buf[2:18])
		a := netip.AddrFrom16(b)
		return IP{Addr: a}, 2 + 16, nil
	case AFILCAF:
		return readLcaf(buf)
	default:
		return nil, 0, fmt.Errorf("%w: afi=%d", lisperr.ErrBadAfi, afi)
	}
}

func readLcaf(buf []byte) (Address, int, error) {
	if len(buf) < lcafHeaderLen {
		return nil, 0, lisperr.ErrTruncated
	}
	typ := buf[2]
	bodyLen := int(binary.BigEndian.Uint16(buf[4:6]))
	total := lcafHeaderLen + bodyLen
	if len(buf) < total {
		return nil, 0, lisperr.ErrTruncated
	}
	body := buf[lcafHeaderLen:total]

	switch typ {
	case lcafTypeMulticastInfo:
		return readMulticastInfo(body, total)
	case lcafTypeNatTraversal:
		return readNatTraversal(body, total)
	case lcafTypeInstanceID:
		return readInstanceID(body, total)
	case lcafTypeAppData:
		return readAppData(body, total)
	case lcafTypeExplicitLocatorPath:
		return readExplicitLocatorPath(body, total)
	default:
		return nil, 0, fmt.Errorf("%w: lcaf-type=%d", lisperr.ErrUnsupportedLcafType, typ)
	}
}

func readMulticastInfo(body []byte, total int) (Address, int, error) {
	if len(body) < 9 {
		return nil, 0, lisperr.ErrTruncated
	}
	iid := binary.BigEndian.Uint32(body[2:6])
	splen := body[7]
	gplen := body[8]
	off := 9
	src, n, err := Read(body[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	grp, n, err := Read(body[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	_ = off
	return MulticastInfo{IID: iid, SPlen: splen, GPlen: gplen, Source: src, Group: grp}, total, nil
}

func readNatTraversal(body []byte, total int) (Address, int, error) {
	if len(body) < 4 {
		return nil, 0, lisperr.ErrTruncated
	}
	msPort := binary.BigEndian.Uint16(body[0:2])
	etrPort := binary.BigEndian.Uint16(body[2:4])
	off := 4

	globalETR, n, err := Read(body[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	ms, n, err := Read(body[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	privETR, n, err := Read(body[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	var rtrs []Address
	for off < len(body) {
		rtr, n, err := Read(body[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		rtrs = append(rtrs, rtr)
	}

	return NatTraversal{
		MSPort:    msPort,
		ETRPort:   etrPort,
		GlobalETR: globalETR,
		MS:        ms,
		PrivETR:   privETR,
		RTRList:   rtrs,
	}, total, nil
}

func readInstanceID(body []byte, total int) (Address, int, error) {
	if len(body) < 4 {
		return nil, 0, lisperr.ErrTruncated
	}
	iid := binary.BigEndian.Uint32(body[0:4])
	inner, _, err := Read(body[4:])
	if err != nil {
		return nil, 0, err
	}
	return InstanceID{IID: iid, Inner: inner}, total, nil
}

func readAppData(body []byte, total int) (Address, int, error) {
	if len(body) < 10 {
		return nil, 0, lisperr.ErrTruncated
	}
	a := AppData{
		Protocol:       body[0],
		IPTOS:          body[1],
		LocalPortLow:   binary.BigEndian.Uint16(body[2:4]),
		LocalPortHigh:  binary.BigEndian.Uint16(body[4:6]),
		RemotePortLow:  binary.BigEndian.Uint16(body[6:8]),
		RemotePortHigh: binary.BigEndian.Uint16(body[8:10]),
	}
	inner, _, err := Read(body[10:])
	if err != nil {
		return nil, 0, err
	}
	a.Inner = inner
	return a, total, nil
}

func readExplicitLocatorPath(body []byte, total int) (Address, int, error) {
	var hops []LocatorPathHop
	off := 0
	for off < len(body) {
		if off+1 > len(body) {
			return nil, 0, lisperr.ErrTruncated
		}
		flags := body[off]
		off++
		loc, n, err := Read(body[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		hops = append(hops, LocatorPathHop{
			Locator: loc,
			Lookup:  flags&0x4 != 0,
			RLOC:    flags&0x2 != 0,
			Strict:  flags&0x1 != 0,
		})
	}
	return ExplicitLocatorPath{Hops: hops}, total, nil
}
