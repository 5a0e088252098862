// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package lisperr defines the sentinel error kinds shared by every
// control-plane component, so callers can classify a failure with
// errors.Is instead of string matching.
package lisperr

import "errors"

var (
	// ErrBadAfi is returned when a wire value names an address family
	// the codec does not understand.
	ErrBadAfi = errors.New("bad address family identifier")

	// ErrTruncated is returned when a buffer ends before a codec has
	// finished decoding the field it started.
	ErrTruncated = errors.New("truncated message")

	// ErrBadAuth is returned when an incoming control message's HMAC
	// does not verify, or names an unknown key-id.
	ErrBadAuth = errors.New("authentication failed")

	// ErrUnknownType is returned for a control message type byte this
	// daemon does not implement.
	ErrUnknownType = errors.New("unknown message type")

	// ErrUnsupportedLcafType is returned for an LCAF type value this
	// daemon does not implement.
	ErrUnsupportedLcafType = errors.New("unsupported LCAF type")

	// ErrRecordCountMismatch is returned when a message's declared
	// record count does not match the records actually present.
	ErrRecordCountMismatch = errors.New("record count mismatch")

	// ErrAlreadyExists is returned by insert operations that collide
	// with an existing exact-match entry.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned by lookup/remove operations that find no
	// matching entry.
	ErrNotFound = errors.New("not found")

	// ErrAllocFailure marks a failed allocation inside a handler; the
	// handler logs and continues rather than propagating a crash.
	ErrAllocFailure = errors.New("allocation failure")

	// ErrSocketError wraps a non-blocking send/receive failure that is
	// accounted to the message's retransmission policy, not retried
	// inline.
	ErrSocketError = errors.New("socket error")

	// ErrControlInterfaceMissing is returned by resolver.Engine.Resolve
	// when no Map Resolver is configured to send a Map-Request to. A
	// local mapping that names a nonexistent interface is not checked
	// and does not produce it.
	ErrControlInterfaceMissing = errors.New("control interface missing")

	// ErrNatStatusUnknown is returned when a NAT-aware decision needs a
	// locator's NAT status and it has not yet been learned.
	ErrNatStatusUnknown = errors.New("NAT status unknown")
)
