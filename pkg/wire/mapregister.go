// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"encoding/binary"

	"github.com/cilium/lispd/pkg/lisperr"
)

// registerCommon is the header/trailer layout shared by Map-Register
// and Map-Notify (spec §4.F: "Map-Notify: same layout as Map-Register
// minus the P semantics; authenticated identically").
type registerCommon struct {
	XTRIDPresent bool // I bit
	RTR          bool // R bit

	Nonce    uint64
	KeyID    KeyID
	AuthData []byte
	Records  []MappingRecord

	XTRID  [16]byte
	SiteID uint64
}

// registerHeaderLen is flags(4) + nonce(8) + key-id(2) + auth-data-len(2).
const registerHeaderLen = 4 + 8 + 2 + 2
const xtrIDTrailerLen = 16 + 8

func (c registerCommon) encode(buf []byte, typ MessageType, proxyReply bool) (int, error) {
	if len(buf) < registerHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = byte(typ) << 4
	if proxyReply {
		buf[0] |= 0x08
	}
	if c.XTRIDPresent {
		buf[0] |= 0x04
	}
	if c.RTR {
		buf[0] |= 0x02
	}
	buf[1] = 0
	buf[2] = uint8(len(c.Records))
	buf[3] = 0
	binary.BigEndian.PutUint64(buf[4:12], c.Nonce)
	binary.BigEndian.PutUint16(buf[12:14], uint16(c.KeyID))
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(c.AuthData)))

	off := registerHeaderLen
	if len(buf) < off+len(c.AuthData) {
		return 0, lisperr.ErrTruncated
	}
	copy(buf[off:], c.AuthData)
	off += len(c.AuthData)

	for _, rec := range c.Records {
		n, err := writeMappingRecord(buf[off:], rec)
		if err != nil {
			return 0, err
		}
		off += n
	}

	if c.XTRIDPresent {
		if len(buf) < off+xtrIDTrailerLen {
			return 0, lisperr.ErrTruncated
		}
		copy(buf[off:off+16], c.XTRID[:])
		binary.BigEndian.PutUint64(buf[off+16:off+24], c.SiteID)
		off += xtrIDTrailerLen
	}

	return off, nil
}

func (c registerCommon) size() int {
	n := registerHeaderLen + len(c.AuthData)
	for _, rec := range c.Records {
		n += sizeOfMappingRecord(rec)
	}
	if c.XTRIDPresent {
		n += xtrIDTrailerLen
	}
	return n
}

func decodeRegisterCommon(buf []byte, wantType MessageType) (registerCommon, bool, int, error) {
	if len(buf) < registerHeaderLen {
		return registerCommon{}, false, 0, lisperr.ErrTruncated
	}
	if MessageType(buf[0]>>4) != wantType {
		return registerCommon{}, false, 0, lisperr.ErrUnknownType
	}
	proxyReply := buf[0]&0x08 != 0
	c := registerCommon{
		XTRIDPresent: buf[0]&0x04 != 0,
		RTR:          buf[0]&0x02 != 0,
	}
	recordCount := int(buf[2])
	c.Nonce = binary.BigEndian.Uint64(buf[4:12])
	c.KeyID = KeyID(binary.BigEndian.Uint16(buf[12:14]))
	authLen := int(binary.BigEndian.Uint16(buf[14:16]))

	off := registerHeaderLen
	if len(buf) < off+authLen {
		return registerCommon{}, false, 0, lisperr.ErrTruncated
	}
	c.AuthData = append([]byte(nil), buf[off:off+authLen]...)
	off += authLen

	for i := 0; i < recordCount; i++ {
		rec, n, err := readMappingRecord(buf[off:])
		if err != nil {
			return registerCommon{}, false, 0, err
		}
		c.Records = append(c.Records, rec)
		off += n
	}
	if err := validateRecordCount(recordCount, len(c.Records)); err != nil {
		return registerCommon{}, false, 0, err
	}

	if c.XTRIDPresent {
		if len(buf) < off+xtrIDTrailerLen {
			return registerCommon{}, false, 0, lisperr.ErrTruncated
		}
		copy(c.XTRID[:], buf[off:off+16])
		c.SiteID = binary.BigEndian.Uint64(buf[off+16 : off+24])
		off += xtrIDTrailerLen
	}

	return c, proxyReply, off, nil
}

// authDataOffset returns the byte offset of the auth-data field within
// an encoded registerCommon/MapRegister/MapNotify buffer, so a caller
// computing or verifying the HMAC can zero it in place first (spec
// §4.F: "HMAC over the whole control message with the auth-data field
// zeroed during computation").
func authDataOffset() int { return registerHeaderLen }

// MapRegister is the type=3 control message.
type MapRegister struct {
	ProxyReply bool // P bit
	registerCommon
}

func (m MapRegister) Encode(buf []byte) (int, error) {
	return m.registerCommon.encode(buf, TypeMapRegister, m.ProxyReply)
}

func (m MapRegister) Size() int { return m.registerCommon.size() }

// DecodeMapRegister parses buf (starting at the type byte).
func DecodeMapRegister(buf []byte) (MapRegister, int, error) {
	c, proxyReply, n, err := decodeRegisterCommon(buf, TypeMapRegister)
	if err != nil {
		return MapRegister{}, 0, err
	}
	return MapRegister{ProxyReply: proxyReply, registerCommon: c}, n, nil
}

// MapNotify is the type=4 control message; it carries no P semantics.
type MapNotify struct {
	registerCommon
}

func (m MapNotify) Encode(buf []byte) (int, error) {
	return m.registerCommon.encode(buf, TypeMapNotify, false)
}

func (m MapNotify) Size() int { return m.registerCommon.size() }

// DecodeMapNotify parses buf (starting at the type byte).
func DecodeMapNotify(buf []byte) (MapNotify, int, error) {
	c, _, n, err := decodeRegisterCommon(buf, TypeMapNotify)
	if err != nil {
		return MapNotify{}, 0, err
	}
	return MapNotify{registerCommon: c}, n, nil
}

// ZeroAuthData returns a copy of buf with its auth-data field zeroed,
// ready for HMAC computation or verification, per spec §4.F.
func ZeroAuthData(buf []byte, authDataLen int) []byte {
	out := append([]byte(nil), buf...)
	off := authDataOffset()
	for i := 0; i < authDataLen && off+i < len(out); i++ {
		out[off+i] = 0
	}
	return out
}
