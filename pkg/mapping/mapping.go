// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mapping

import (
	"fmt"
	"time"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/nonce"
)

// Action is the negative-map-reply / miss action carried on a mapping
// record (spec §3, §4.D).
type Action uint8

const (
	ActionNoAction Action = iota
	ActionNativeForward
	ActionSendMapRequest
	ActionDrop
)

// LocalRegState is the Map Register engine's per-mapping state: the
// retransmit counter and nonce track from spec §4.I, plus whether the
// mapping has a confirmed registration.
type LocalRegState struct {
	Retransmits uint8
	Nonces      nonce.Track
	Registered  bool
}

// CacheState is the map-cache bookkeeping attached to a learned mapping:
// when it was installed and the timer-wheel handle backing its TTL.
type CacheState struct {
	InstalledAt time.Time
	TimerHandle string
	Negative    bool
}

// Mapping is an EID-prefix-to-locator-set record, either locally owned
// (Registration != nil) or learned into the map cache (Cache != nil).
type Mapping struct {
	EID          address.Address
	Plen         uint8
	IID          uint32
	LocatorsV4   []*Locator
	LocatorsV6   []*Locator
	LocatorCount uint16
	Action       Action
	Authoritative bool
	TTLSeconds   uint32
	Balance      BalancingVectors

	Registration *LocalRegState
	Cache        *CacheState
}

// New constructs an empty mapping for eid/plen in the given instance ID.
func New(eid address.Address, plen uint8, iid uint32) *Mapping {
	return &Mapping{EID: eid, Plen: plen, IID: iid}
}

// familyOf determines which family list a locator belongs in: its own
// IP AFI, or for an LCAF multicast-info locator, the group address's
// family (spec §4.B).
func familyOf(l *Locator) (isV4 bool, err error) {
	switch a := l.Address.(type) {
	case address.IP:
		return a.Addr.Is4(), nil
	case address.IPPrefix:
		return a.Addr.Is4(), nil
	case address.MulticastInfo:
		return familyOf(&Locator{Address: a.Group})
	default:
		return false, fmt.Errorf("%w: locator address %T has no determinable family", lisperr.ErrBadAfi, l.Address)
	}
}

func contains(list []*Locator, l *Locator) bool {
	for _, existing := range list {
		if address.Compare(existing.Address, l.Address) == 0 {
			return true
		}
	}
	return false
}

// AddLocator routes l into the correct per-family list by inspecting its
// address, rejecting an exact address duplicate within that family.
// Every successful add recomputes the mapping's balancing vectors.
func AddLocator(m *Mapping, l *Locator) error {
	isV4, err := familyOf(l)
	if err != nil {
		return err
	}

	if isV4 {
		if contains(m.LocatorsV4, l) {
			return lisperr.ErrAlreadyExists
		}
		m.LocatorsV4 = insertSorted(m.LocatorsV4, l)
	} else {
		if contains(m.LocatorsV6, l) {
			return lisperr.ErrAlreadyExists
		}
		m.LocatorsV6 = insertSorted(m.LocatorsV6, l)
	}

	m.LocatorCount = uint16(len(m.LocatorsV4) + len(m.LocatorsV6))
	RecomputeBalance(m)
	return nil
}

// insertSorted inserts l into list, which is kept in ascending address
// order, in a single linear pass.
func insertSorted(list []*Locator, l *Locator) []*Locator {
	idx := len(list)
	for i, existing := range list {
		if address.Compare(l.Address, existing.Address) < 0 {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = l
	return list
}

// SortLocatorsOnChange re-orders the family list containing the locator
// whose address used to be changedAddr after that address has mutated in
// place, restoring ascending order with a single linear pass: it locates
// the moved node and removes it, then re-inserts via insertSorted. The
// list head is naturally updated by the slice reassignment.
func SortLocatorsOnChange(m *Mapping, moved *Locator, changedAddr address.Address) {
	if removeFrom(&m.LocatorsV4, moved, changedAddr) {
		m.LocatorsV4 = insertSorted(m.LocatorsV4, moved)
		return
	}
	if removeFrom(&m.LocatorsV6, moved, changedAddr) {
		m.LocatorsV6 = insertSorted(m.LocatorsV6, moved)
	}
}

func removeFrom(list *[]*Locator, moved *Locator, oldAddr address.Address) bool {
	for i, existing := range *list {
		if existing == moved || address.Compare(existing.Address, oldAddr) == 0 {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Dump produces a deterministic, human-readable table of m's locators,
// for diagnostics.
func Dump(m *Mapping) string {
	s := fmt.Sprintf("%s (iid=%d, ttl=%ds, action=%d)\n", m.EID.String(), m.IID, m.TTLSeconds, m.Action)
	s += "  v4:\n"
	for _, l := range m.LocatorsV4 {
		s += fmt.Sprintf("    %-20s pri=%-3d w=%-3d state=%s\n", l.Address.String(), l.Priority, l.Weight, l.State())
	}
	s += "  v6:\n"
	for _, l := range m.LocatorsV6 {
		s += fmt.Sprintf("    %-20s pri=%-3d w=%-3d state=%s\n", l.Address.String(), l.Priority, l.Weight, l.State())
	}
	return s
}
