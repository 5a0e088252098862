// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"encoding/binary"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
)

// InfoMessage is the type=7 Info-Request/Info-Reply control message,
// distinguished by the Reply flag (R bit). Info-Request carries a zero
// EID-prefix/RTR-list and asks the far end for our translated address;
// Info-Reply answers with the observed public address and the RTR list
// to use (spec §4.F, §3's NAT-status machinery).
type InfoMessage struct {
	Reply bool // R bit: 0 = request, 1 = reply

	Nonce    uint64
	KeyID    KeyID
	AuthData []byte

	TTL       uint32
	EIDPrefix address.IPPrefix

	// RTRLocators is populated on an Info-Reply to tell the querying
	// xTR which RTRs to use for NAT-aware registration (spec §3's
	// NATStatus.RTRLocators).
	RTRLocators []address.Address
}

// infoHeaderLen is flags(1) + rsvd(3) + nonce(8) + key-id(2) +
// auth-data-len(2) + ttl(4).
const infoHeaderLen = 1 + 3 + 8 + 2 + 2 + 4

func (m InfoMessage) Encode(buf []byte) (int, error) {
	if len(buf) < infoHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = byte(TypeInfo) << 4
	if m.Reply {
		buf[0] |= 0x08
	}
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.BigEndian.PutUint64(buf[4:12], m.Nonce)
	binary.BigEndian.PutUint16(buf[12:14], uint16(m.KeyID))
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(m.AuthData)))
	binary.BigEndian.PutUint32(buf[16:20], m.TTL)

	off := infoHeaderLen
	if len(buf) < off+len(m.AuthData) {
		return 0, lisperr.ErrTruncated
	}
	copy(buf[off:], m.AuthData)
	off += len(m.AuthData)

	if len(buf) < off+1 {
		return 0, lisperr.ErrTruncated
	}
	buf[off] = m.EIDPrefix.Plen
	off++
	n, err := address.Write(buf[off:], address.IP{Addr: m.EIDPrefix.Addr})
	if err != nil {
		return 0, err
	}
	off += n

	if len(buf) < off+1 {
		return 0, lisperr.ErrTruncated
	}
	buf[off] = uint8(len(m.RTRLocators))
	off++
	for _, rtr := range m.RTRLocators {
		n, err := address.Write(buf[off:], rtr)
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

func (m InfoMessage) Size() int {
	n := infoHeaderLen + len(m.AuthData) + 1 + address.IP{Addr: m.EIDPrefix.Addr}.SizeOnWire() + 1
	for _, rtr := range m.RTRLocators {
		n += rtr.SizeOnWire()
	}
	return n
}

// DecodeInfoMessage parses buf (starting at the type byte).
func DecodeInfoMessage(buf []byte) (InfoMessage, int, error) {
	if len(buf) < infoHeaderLen {
		return InfoMessage{}, 0, lisperr.ErrTruncated
	}
	if MessageType(buf[0]>>4) != TypeInfo {
		return InfoMessage{}, 0, lisperr.ErrUnknownType
	}
	m := InfoMessage{Reply: buf[0]&0x08 != 0}
	m.Nonce = binary.BigEndian.Uint64(buf[4:12])
	m.KeyID = KeyID(binary.BigEndian.Uint16(buf[12:14]))
	authLen := int(binary.BigEndian.Uint16(buf[14:16]))
	m.TTL = binary.BigEndian.Uint32(buf[16:20])

	off := infoHeaderLen
	if len(buf) < off+authLen {
		return InfoMessage{}, 0, lisperr.ErrTruncated
	}
	m.AuthData = append([]byte(nil), buf[off:off+authLen]...)
	off += authLen

	if len(buf) < off+1 {
		return InfoMessage{}, 0, lisperr.ErrTruncated
	}
	plen := buf[off]
	off++
	eidAddr, n, err := address.Read(buf[off:])
	if err != nil {
		return InfoMessage{}, 0, err
	}
	ipAddr, ok := eidAddr.(address.IP)
	if !ok {
		return InfoMessage{}, 0, lisperr.ErrBadAfi
	}
	m.EIDPrefix = address.IPPrefix{Addr: ipAddr.Addr, Plen: plen}
	off += n

	if len(buf) < off+1 {
		return InfoMessage{}, 0, lisperr.ErrTruncated
	}
	rtrCount := int(buf[off])
	off++
	for i := 0; i < rtrCount; i++ {
		rtr, n, err := address.Read(buf[off:])
		if err != nil {
			return InfoMessage{}, 0, err
		}
		m.RTRLocators = append(m.RTRLocators, rtr)
		off += n
	}

	return m, off, nil
}
