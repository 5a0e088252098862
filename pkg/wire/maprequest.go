// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"encoding/binary"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
)

// EIDRecord is one of a Map-Request's target EID-prefix records.
type EIDRecord struct {
	MaskLen uint8
	EID     address.Address
}

// MapRequest is the type=1 control message (spec §4.F).
type MapRequest struct {
	// Authoritative asks for an authoritative answer (A bit).
	Authoritative bool
	// MapDataPresent indicates a Map-Reply record is appended after the
	// EID records, used when this request doubles as an RLOC probe (M
	// bit).
	MapDataPresent bool
	// Probe marks this as an RLOC probe request (P bit).
	Probe bool
	// SMR marks this as a solicited map request (S bit).
	SMR bool
	// PITR marks the sender as a Proxy-ITR (p bit).
	PITR bool
	// SMRInvoked marks this request as sent in response to an SMR (s bit).
	SMRInvoked bool
	// XTRIDPresent indicates an xTR-ID/site-ID trailer (I bit); unused
	// by this implementation's Map-Requests but preserved for wire
	// compatibility with peers that set it.
	XTRIDPresent bool

	Nonce     uint64
	SourceEID address.Address
	ITRRLOCs  []address.Address
	Records   []EIDRecord

	// ProbeReply, when non-nil, is the Map-Reply record this request
	// carries because MapDataPresent is set (spec §4.F "Optionally
	// carries a Map-Reply record when used as RLOC probe").
	ProbeReply *MappingRecord
}

const mapRequestHeaderLen = 2 + 1 + 1 + 8 // flags(2) + ITRRLOCCount(1) + RecordCount(1) + nonce(8)

// Encode serializes m into buf, returning the number of bytes written.
func (m MapRequest) Encode(buf []byte) (int, error) {
	if len(buf) < mapRequestHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = byte(TypeMapRequest) << 4
	if m.Authoritative {
		buf[0] |= 0x08
	}
	if m.MapDataPresent {
		buf[0] |= 0x04
	}
	if m.Probe {
		buf[0] |= 0x02
	}
	if m.SMR {
		buf[0] |= 0x01
	}
	buf[1] = 0
	if m.PITR {
		buf[1] |= 0x80
	}
	if m.SMRInvoked {
		buf[1] |= 0x40
	}
	if m.XTRIDPresent {
		buf[1] |= 0x20
	}

	buf[2] = uint8(len(m.ITRRLOCs))
	buf[3] = uint8(len(m.Records))
	binary.BigEndian.PutUint64(buf[4:12], m.Nonce)

	off := mapRequestHeaderLen
	n, err := address.Write(buf[off:], m.SourceEID)
	if err != nil {
		return 0, err
	}
	off += n

	for _, rloc := range m.ITRRLOCs {
		n, err := address.Write(buf[off:], rloc)
		if err != nil {
			return 0, err
		}
		off += n
	}

	for _, rec := range m.Records {
		if len(buf) < off+1 {
			return 0, lisperr.ErrTruncated
		}
		buf[off] = rec.MaskLen
		off++
		n, err := address.Write(buf[off:], rec.EID)
		if err != nil {
			return 0, err
		}
		off += n
	}

	if m.MapDataPresent && m.ProbeReply != nil {
		n, err := writeMappingRecord(buf[off:], *m.ProbeReply)
		if err != nil {
			return 0, err
		}
		off += n
	}

	return off, nil
}

// Size returns the number of bytes Encode will write.
func (m MapRequest) Size() int {
	n := mapRequestHeaderLen + m.SourceEID.SizeOnWire()
	for _, rloc := range m.ITRRLOCs {
		n += rloc.SizeOnWire()
	}
	for _, rec := range m.Records {
		n += 1 + rec.EID.SizeOnWire()
	}
	if m.MapDataPresent && m.ProbeReply != nil {
		n += sizeOfMappingRecord(*m.ProbeReply)
	}
	return n
}

// DecodeMapRequest parses buf (which must start at the type byte) into a
// MapRequest.
func DecodeMapRequest(buf []byte) (MapRequest, int, error) {
	if len(buf) < mapRequestHeaderLen {
		return MapRequest{}, 0, lisperr.ErrTruncated
	}
	typ := MessageType(buf[0] >> 4)
	if typ != TypeMapRequest {
		return MapRequest{}, 0, lisperr.ErrUnknownType
	}

	m := MapRequest{
		Authoritative:  buf[0]&0x08 != 0,
		MapDataPresent: buf[0]&0x04 != 0,
		Probe:          buf[0]&0x02 != 0,
		SMR:            buf[0]&0x01 != 0,
		PITR:           buf[1]&0x80 != 0,
		SMRInvoked:     buf[1]&0x40 != 0,
		XTRIDPresent:   buf[1]&0x20 != 0,
	}
	itrCount := int(buf[2])
	recordCount := int(buf[3])
	m.Nonce = binary.BigEndian.Uint64(buf[4:12])

	off := mapRequestHeaderLen
	srcEID, n, err := address.Read(buf[off:])
	if err != nil {
		return MapRequest{}, 0, err
	}
	m.SourceEID = srcEID
	off += n

	for i := 0; i < itrCount; i++ {
		rloc, n, err := address.Read(buf[off:])
		if err != nil {
			return MapRequest{}, 0, err
		}
		m.ITRRLOCs = append(m.ITRRLOCs, rloc)
		off += n
	}

	for i := 0; i < recordCount; i++ {
		if len(buf) < off+1 {
			return MapRequest{}, 0, lisperr.ErrTruncated
		}
		maskLen := buf[off]
		off++
		eid, n, err := address.Read(buf[off:])
		if err != nil {
			return MapRequest{}, 0, err
		}
		m.Records = append(m.Records, EIDRecord{MaskLen: maskLen, EID: eid})
		off += n
	}
	if err := validateRecordCount(recordCount, len(m.Records)); err != nil {
		return MapRequest{}, 0, err
	}

	if m.MapDataPresent && off < len(buf) {
		rec, n, err := readMappingRecord(buf[off:])
		if err != nil {
			return MapRequest{}, 0, err
		}
		m.ProbeReply = &rec
		off += n
	}

	return m, off, nil
}
