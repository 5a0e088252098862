// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/mapping"
)

// LocatorRecord is one locator entry inside a MappingRecord.
type LocatorRecord struct {
	Priority  uint8
	Weight    uint8
	MPriority uint8
	MWeight   uint8
	Local     bool // L bit: locator is local to the sender
	Probe     bool // p bit: this locator should be RLOC-probed
	Reachable bool // R bit: sender believes this locator reachable
	Locator   address.Address
}

// MappingRecord is the shared record format carried by Map-Register,
// Map-Notify, and Map-Reply (spec §4.F "Mapping record").
type MappingRecord struct {
	TTL           uint32
	MaskLen       uint8
	Action        mapping.Action
	Authoritative bool
	EID           address.Address
	Locators      []LocatorRecord
}

// recordHeaderLen is ttl(4) + locator_count(1) + mask_len(1) +
// action/A/rsvd(1) + rsvd(1) + version_hi/rsvd(1) + version_low(1) = 10
// bytes before the EID-AFI/EID field.
const recordHeaderLen = 10

func writeMappingRecord(buf []byte, r MappingRecord) (int, error) {
	if len(buf) < recordHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	binary.BigEndian.PutUint32(buf[0:4], r.TTL)
	buf[4] = uint8(len(r.Locators))
	buf[5] = r.MaskLen

	b6 := uint8(r.Action&0x07) << 5
	if r.Authoritative {
		b6 |= 0x10
	}
	buf[6] = b6
	buf[7] = 0
	buf[8] = 0
	buf[9] = 0

	off := recordHeaderLen
	n, err := address.Write(buf[off:], r.EID)
	if err != nil {
		return 0, err
	}
	off += n

	for _, l := range r.Locators {
		ln, err := writeLocatorRecord(buf[off:], l)
		if err != nil {
			return 0, err
		}
		off += ln
	}
	return off, nil
}

// locatorRecordHeaderLen is priority+weight+mpriority+mweight+unused+flags = 6
// bytes before the loc-AFI/locator field.
const locatorRecordHeaderLen = 6

func writeLocatorRecord(buf []byte, l LocatorRecord) (int, error) {
	if len(buf) < locatorRecordHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = l.Priority
	buf[1] = l.Weight
	buf[2] = l.MPriority
	buf[3] = l.MWeight
	buf[4] = 0

	var flags uint8
	if l.Local {
		flags |= 0x04
	}
	if l.Probe {
		flags |= 0x02
	}
	if l.Reachable {
		flags |= 0x01
	}
	buf[5] = flags

	n, err := address.Write(buf[locatorRecordHeaderLen:], l.Locator)
	if err != nil {
		return 0, err
	}
	return locatorRecordHeaderLen + n, nil
}

func readMappingRecord(buf []byte) (MappingRecord, int, error) {
	if len(buf) < recordHeaderLen {
		return MappingRecord{}, 0, lisperr.ErrTruncated
	}
	r := MappingRecord{
		TTL:     binary.BigEndian.Uint32(buf[0:4]),
		MaskLen: buf[5],
	}
	locatorCount := int(buf[4])
	r.Action = mapping.Action((buf[6] >> 5) & 0x07)
	r.Authoritative = buf[6]&0x10 != 0

	off := recordHeaderLen
	eid, n, err := address.Read(buf[off:])
	if err != nil {
		return MappingRecord{}, 0, err
	}
	r.EID = eid
	off += n

	for i := 0; i < locatorCount; i++ {
		lr, n, err := readLocatorRecord(buf[off:])
		if err != nil {
			return MappingRecord{}, 0, err
		}
		r.Locators = append(r.Locators, lr)
		off += n
	}
	return r, off, nil
}

func readLocatorRecord(buf []byte) (LocatorRecord, int, error) {
	if len(buf) < locatorRecordHeaderLen {
		return LocatorRecord{}, 0, lisperr.ErrTruncated
	}
	l := LocatorRecord{
		Priority:  buf[0],
		Weight:    buf[1],
		MPriority: buf[2],
		MWeight:   buf[3],
	}
	flags := buf[5]
	l.Local = flags&0x04 != 0
	l.Probe = flags&0x02 != 0
	l.Reachable = flags&0x01 != 0

	loc, n, err := address.Read(buf[locatorRecordHeaderLen:])
	if err != nil {
		return LocatorRecord{}, 0, err
	}
	l.Locator = loc
	return l, locatorRecordHeaderLen + n, nil
}

func sizeOfMappingRecord(r MappingRecord) int {
	n := recordHeaderLen + r.EID.SizeOnWire()
	for _, l := range r.Locators {
		n += locatorRecordHeaderLen + l.Locator.SizeOnWire()
	}
	return n
}

// validateRecordCount returns ErrRecordCountMismatch if the declared
// count does not match the number of records actually parsed, the
// cross-check spec §4.F requires for every multi-record message.
func validateRecordCount(declared, parsed int) error {
	if declared != parsed {
		return fmt.Errorf("%w: declared %d, parsed %d", lisperr.ErrRecordCountMismatch, declared, parsed)
	}
	return nil
}
