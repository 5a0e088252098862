// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package wire implements the control-message codecs of spec §4.F:
// Map-Request, Map-Reply, Map-Register, Map-Notify, Info-Request/Reply,
// Encapsulated Control Message, and the shared mapping-record encoding,
// plus the HMAC authentication those messages carry. See
// original_source/lispd/lispd_lib.c and lispd_map_register.c for the
// reference header layouts this package reimplements; byte offsets
// follow RFC 6830/6833 and the NAT-traversal draft's bitfield packing.
package wire

import "github.com/cilium/lispd/pkg/lisperr"

// MessageType is the first 4 bits of every control message.
type MessageType uint8

const (
	TypeMapRequest  MessageType = 1
	TypeMapReply    MessageType = 2
	TypeMapRegister MessageType = 3
	TypeMapNotify   MessageType = 4
	TypeInfo        MessageType = 7
	TypeECM         MessageType = 8
)

// PeekType reads the message type nibble without consuming buf, so a
// dispatcher can route to the right decoder.
func PeekType(buf []byte) (MessageType, error) {
	if len(buf) < 1 {
		return 0, lisperr.ErrTruncated
	}
	return MessageType(buf[0] >> 4), nil
}
