// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"encoding/binary"

	"github.com/cilium/lispd/pkg/lisperr"
)

// MapReply is the type=2 control message (spec §4.F).
type MapReply struct {
	// Probe echoes the P bit of the Map-Request this replies to, so the
	// resolver engine knows to treat it as an RLOC-probe reply (spec
	// §4.J step 4).
	Probe bool
	// EchoNonce requests nonce echoing on future data-plane packets (E bit).
	EchoNonce bool
	// Security indicates this reply is covered by security data (S bit).
	Security bool

	Nonce   uint64
	Records []MappingRecord
}

const mapReplyHeaderLen = 1 + 1 + 2 + 8 // flags(1) + rsvd(1) + rsvd+count(2, only low byte used) + nonce(8)

// Encode serializes r into buf.
func (r MapReply) Encode(buf []byte) (int, error) {
	if len(buf) < mapReplyHeaderLen {
		return 0, lisperr.ErrTruncated
	}
	buf[0] = byte(TypeMapReply) << 4
	if r.Probe {
		buf[0] |= 0x08
	}
	if r.EchoNonce {
		buf[0] |= 0x04
	}
	if r.Security {
		buf[0] |= 0x02
	}
	buf[1] = 0
	buf[2] = 0
	buf[3] = uint8(len(r.Records))
	binary.BigEndian.PutUint64(buf[4:12], r.Nonce)

	off := mapReplyHeaderLen
	for _, rec := range r.Records {
		n, err := writeMappingRecord(buf[off:], rec)
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

// Size returns the number of bytes Encode will write.
func (r MapReply) Size() int {
	n := mapReplyHeaderLen
	for _, rec := range r.Records {
		n += sizeOfMappingRecord(rec)
	}
	return n
}

// DecodeMapReply parses buf (starting at the type byte) into a MapReply.
func DecodeMapReply(buf []byte) (MapReply, int, error) {
	if len(buf) < mapReplyHeaderLen {
		return MapReply{}, 0, lisperr.ErrTruncated
	}
	if MessageType(buf[0]>>4) != TypeMapReply {
		return MapReply{}, 0, lisperr.ErrUnknownType
	}

	r := MapReply{
		Probe:     buf[0]&0x08 != 0,
		EchoNonce: buf[0]&0x04 != 0,
		Security:  buf[0]&0x02 != 0,
	}
	recordCount := int(buf[3])
	r.Nonce = binary.BigEndian.Uint64(buf[4:12])

	off := mapReplyHeaderLen
	for i := 0; i < recordCount; i++ {
		rec, n, err := readMappingRecord(buf[off:])
		if err != nil {
			return MapReply{}, 0, err
		}
		r.Records = append(r.Records, rec)
		off += n
	}
	if err := validateRecordCount(recordCount, len(r.Records)); err != nil {
		return MapReply{}, 0, err
	}
	return r, off, nil
}
