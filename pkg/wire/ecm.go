// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
)

// EncapsulatedControl is the type=8 Encapsulated Control Message: a
// lightweight outer header around an inner IP+UDP+control message
// (spec §4.F). The inner source/destination addresses are carried
// literally rather than reconstructed from socket state, since an ECM's
// inner message may be addressed to a different peer than the one the
// outer UDP datagram was sent to (the RTR-relay case in spec §4.I).
type EncapsulatedControl struct {
	Security bool // S bit
	DDT      bool // D bit

	InnerSource address.Address
	InnerDest   address.Address
	InnerUDPSrc uint16
	InnerUDPDst uint16

	// InnerMessage is the raw encoded bytes of the wrapped control
	// message (a MapRegister, MapRequest, etc.), opaque to this layer.
	InnerMessage []byte
}

// ecmHeaderLen is flags(1) + rsvd(3) + inner-udp-src(2) + inner-udp-dst(2).
const ecmHeaderLen = 1 + 3 + 2 + 2

func (e EncapsulatedControl) Encode(buf []byte) (int, error) {
	if len(buf) < ecmHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = byte(TypeECM) << 4
	if e.Security {
		buf[0] |= 0x08
	}
	if e.DDT {
		buf[0] |= 0x04
	}
	buf[1], buf[2], buf[3] = 0, 0, 0
	putUint16(buf[4:6], e.InnerUDPSrc)
	putUint16(buf[6:8], e.InnerUDPDst)

	off := ecmHeaderLen
	n, err := address.Write(buf[off:], e.InnerSource)
	if err != nil {
		return 0, err
	}
	off += n
	n, err = address.Write(buf[off:], e.InnerDest)
	if err != nil {
		return 0, err
	}
	off += n

	if len(buf) < off+len(e.InnerMessage) {
		return 0, lisperr.ErrTruncated
	}
	copy(buf[off:], e.InnerMessage)
	off += len(e.InnerMessage)
	return off, nil
}

func (e EncapsulatedControl) Size() int {
	return ecmHeaderLen + e.InnerSource.SizeOnWire() + e.InnerDest.SizeOnWire() + len(e.InnerMessage)
}

// DecodeEncapsulatedControl parses buf (starting at the type byte),
// leaving InnerMessage undecoded — the caller dispatches it by peeking
// its own type byte via PeekType/the matching Decode* function.
func DecodeEncapsulatedControl(buf []byte) (EncapsulatedControl, int, error) {
	if len(buf) < ecmHeaderLen {
		return EncapsulatedControl{}, 0, lisperr.ErrTruncated
	}
	if MessageType(buf[0]>>4) != TypeECM {
		return EncapsulatedControl{}, 0, lisperr.ErrUnknownType
	}
	e := EncapsulatedControl{
		Security: buf[0]&0x08 != 0,
		DDT:      buf[0]&0x04 != 0,
	}
	e.InnerUDPSrc = getUint16(buf[4:6])
	e.InnerUDPDst = getUint16(buf[6:8])

	off := ecmHeaderLen
	src, n, err := address.Read(buf[off:])
	if err != nil {
		return EncapsulatedControl{}, 0, err
	}
	e.InnerSource = src
	off += n

	dst, n, err := address.Read(buf[off:])
	if err != nil {
		return EncapsulatedControl{}, 0, err
	}
	e.InnerDest = dst
	off += n

	e.InnerMessage = append([]byte(nil), buf[off:]...)
	return e, len(buf), nil
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func getUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
