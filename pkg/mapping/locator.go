// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package mapping implements the EID-prefix-to-locator-set data model:
// Locator, Mapping, and the balancing vectors derived from a mapping's
// locator set. See original_source/lispd/lispd_mapping.c for the
// reference locator-list and balancing-vector algorithms this package
// reimplements.
package mapping

import (
	"sync/atomic"
	"time"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/nonce"
)

// LocatorState is UP or DOWN, as determined by RLOC probing or Map-Notify
// processing. It is held behind an atomic so a balancing-vector reader
// and the probe engine's writer never need a lock, matching the "state:
// shared UP|DOWN" field in spec §3.
type LocatorState int32

const (
	StateDown LocatorState = iota
	StateUp
)

func (s LocatorState) String() string {
	if s == StateUp {
		return "up"
	}
	return "down"
}

// LocatorKind classifies how a locator was learned.
type LocatorKind uint8

const (
	KindStatic LocatorKind = iota
	KindDynamic
	KindPetr
	KindLocal
)

// NATStatusKind is the NAT-detection state machine from spec §3.
type NATStatusKind uint8

const (
	NATUnknown NATStatusKind = iota
	NATNone
	NATPresent
	NATNoInfoReply
)

func (k NATStatusKind) String() string {
	switch k {
	case NATNone:
		return "no-nat"
	case NATPresent:
		return "nat"
	case NATNoInfoReply:
		return "no-info-reply"
	default:
		return "unknown"
	}
}

// NATStatus tracks one locator's NAT-traversal state: whether it sits
// behind translation, the RTRs it was told to use, its learned public
// address, and the nonce tracks for the Info-Request and NAT-aware
// Map-Register exchanges that drive its transitions.
type NATStatus struct {
	Status              NATStatusKind
	RTRLocators         []address.Address
	PublicAddr          address.Address
	InfoRequestNonces   nonce.Track
	EmapRegisterNonces  nonce.Track
	infoRequestAttempts int
}

// RecordInfoRequestTimeout increments the Info-Request retry count and
// transitions to NoInfoReply once DEFAULT_MAP_REQUEST_RETRIES has been
// exceeded with no reply, per spec §3's NAT status transitions.
func (n *NATStatus) RecordInfoRequestTimeout(maxRetries int) {
	n.infoRequestAttempts++
	if n.infoRequestAttempts > maxRetries {
		n.Status = NATNoInfoReply
	}
}

// RecordInfoReply transitions the NAT status on receipt of an
// Info-Reply: nat=true means the reply indicated translation occurred
// (public address differs from what we sent).
func (n *NATStatus) RecordInfoReply(nat bool, public address.Address, rtrs []address.Address) {
	n.infoRequestAttempts = 0
	n.PublicAddr = public
	n.RTRLocators = rtrs
	if nat {
		n.Status = NATPresent
	} else {
		n.Status = NATNone
	}
}

// LocalExt carries the locator extensions that apply only to locators we
// originate (backing interface name, NAT status).
type LocalExt struct {
	NAT       *NATStatus
	Interface string
}

// RemoteExt carries the locator extensions that apply only to RLOCs
// learned from a peer (RLOC-probing timer handle, last reply time).
type RemoteExt struct {
	ProbeTimerHandle string
	LastReply        time.Time
	ProbeFailures     int
}

// Locator is one RLOC entry of a Mapping's locator set.
type Locator struct {
	Address   address.Address
	Priority  uint8
	Weight    uint8
	MPriority uint8
	MWeight   uint8
	Kind      LocatorKind

	state atomic.Int32

	Local  *LocalExt
	Remote *RemoteExt
}

// NewLocator constructs a Locator with its initial state, defaulting to
// Up the way a freshly configured or freshly learned RLOC starts.
func NewLocator(addr address.Address, priority, weight, mpriority, mweight uint8, kind LocatorKind) *Locator {
	l := &Locator{
		Address:   addr,
		Priority:  priority,
		Weight:    weight,
		MPriority: mpriority,
		MWeight:   mweight,
		Kind:      kind,
	}
	l.state.Store(int32(StateUp))
	return l
}

// State returns the locator's current reachability state.
func (l *Locator) State() LocatorState {
	return LocatorState(l.state.Load())
}

// SetState updates the locator's reachability state.
func (l *Locator) SetState(s LocatorState) {
	l.state.Store(int32(s))
}

// Usable reports whether l may appear in a balancing vector: up and not
// priority 255 (spec's "unused" sentinel priority).
func (l *Locator) Usable() bool {
	return l.State() == StateUp && l.Priority != 255
}
