// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package protoconst holds the named protocol constants from
// original_source/lispd/lispd.h and lispd_external.h that the rest of
// this module's engines schedule against. They are collected in one
// leaf package (its only import is the standard library's time) so every component agrees on the
// same numbers without a cyclic import.
package protoconst

import "time"

const (
	// LISPControlPort is the UDP port carrying non-encapsulated control
	// messages.
	LISPControlPort = 4342

	// LISPDataPort is the UDP port used as the ECM's outer destination
	// in NAT mode.
	LISPDataPort = 4341

	// LISPDMaxRetransmits bounds the plain and NAT-aware Map-Register
	// retry ladder before falling back to the long reschedule interval.
	LISPDMaxRetransmits = 5

	// LISPDInitialMRTimeout is the fixed (non-backing-off) delay between
	// Map-Register retransmits.
	LISPDInitialMRTimeout = 3 * time.Second

	// MapRegisterInterval is the steady-state registration period once
	// a mapping is confirmed registered, or once retries are exhausted.
	MapRegisterInterval = 60 * time.Second

	// LISPDMaxMRRetransmit bounds Map-Request retransmits before the
	// pending request is abandoned.
	LISPDMaxMRRetransmit = 2

	// LISPDInitialMRQTimeout is the delay between Map-Request
	// retransmits.
	LISPDInitialMRQTimeout = 2 * time.Second

	// LISPDMaxSMRRetransmit bounds SMR Map-Request retransmits.
	LISPDMaxSMRRetransmit = 2

	// LISPDSMRTimeout is how long the probe engine waits after an
	// interface event for addressing to stabilize before emitting SMRs.
	LISPDSMRTimeout = 6 * time.Second

	// RLOCProbingInterval is the steady-state RLOC reachability probe
	// period.
	RLOCProbingInterval = 30 * time.Second

	// DefaultRLOCProbingRetries bounds missed probe replies before a
	// locator is marked DOWN.
	DefaultRLOCProbingRetries = 2

	// DefaultRLOCProbingRetriesInterval is the delay between probe
	// retries.
	DefaultRLOCProbingRetriesInterval = 5 * time.Second

	// DefaultMapRequestRetries bounds Info-Request retries before a
	// locator's NAT status becomes NoInfoReply.
	DefaultMapRequestRetries = 3
)
