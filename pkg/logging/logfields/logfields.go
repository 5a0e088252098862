// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package logfields holds slog attribute-key constants shared by every
// subsystem, so call sites read consistently and grep finds every
// producer of a given field.
package logfields

const (
	EID         = "eid"
	Prefix      = "prefix"
	Locator     = "locator"
	Peer        = "peer"
	MapServer   = "mapServer"
	MapResolver = "mapResolver"
	RTR         = "rtr"
	Nonce       = "nonce"
	TTL         = "ttl"
	KeyID       = "keyID"
	Retransmit  = "retransmit"
	Interface   = "interface"
	Action      = "action"
	MessageType = "messageType"
	Error       = "error"
)
