// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package nonce

import "github.com/cilium/lispd/pkg/address"

// RequestKind distinguishes why a pending Map-Request was sent, so the
// resolver engine can route its reply correctly (spec §3).
type RequestKind uint8

const (
	KindNormal RequestKind = iota
	KindSMR
	KindProbe
)

// PendingRequest is one outstanding Map-Request awaiting a reply.
type PendingRequest struct {
	Nonce                uint64
	EIDToResolve         address.Address
	SourceEID            address.Address
	RetransmitsRemaining int
	TimerHandle          string
	MapResolverChosen    address.Address
	Kind                 RequestKind
}

// PendingTable indexes PendingRequests by nonce, with a secondary index
// by the EID being resolved so a second resolve() for an EID already in
// flight can be satisfied idempotently instead of firing a duplicate
// request (spec §3, §4.J).
type PendingTable struct {
	byNonce map[uint64]*PendingRequest
	byEID   map[string][]uint64
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		byNonce: make(map[uint64]*PendingRequest),
		byEID:   make(map[string][]uint64),
	}
}

// Add records a new pending request, indexed by both its nonce and its
// EID-to-resolve.
func (t *PendingTable) Add(req *PendingRequest) {
	t.byNonce[req.Nonce] = req
	key := req.EIDToResolve.String()
	t.byEID[key] = append(t.byEID[key], req.Nonce)
}

// Lookup returns the pending request for nonce, if any.
func (t *PendingTable) Lookup(n uint64) (*PendingRequest, bool) {
	req, ok := t.byNonce[n]
	return req, ok
}

// Remove deletes the pending request for nonce from both indexes. It is
// called on reply match, on final-retransmit abandonment, and on timer
// cancellation; it is a no-op if nonce is not present.
func (t *PendingTable) Remove(n uint64) {
	req, ok := t.byNonce[n]
	if !ok {
		return
	}
	delete(t.byNonce, n)

	key := req.EIDToResolve.String()
	nonces := t.byEID[key]
	for i, existing := range nonces {
		if existing == n {
			nonces = append(nonces[:i], nonces[i+1:]...)
			break
		}
	}
	if len(nonces) == 0 {
		delete(t.byEID, key)
	} else {
		t.byEID[key] = nonces
	}
}

// Pending returns any already-outstanding requests for eidKey (the
// string form of the EID being resolved), letting a caller avoid
// issuing a duplicate Map-Request for an EID already in flight.
func (t *PendingTable) Pending(eidKey string) []*PendingRequest {
	nonces := t.byEID[eidKey]
	if len(nonces) == 0 {
		return nil
	}
	reqs := make([]*PendingRequest, 0, len(nonces))
	for _, n := range nonces {
		if req, ok := t.byNonce[n]; ok {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// Len returns the number of outstanding pending requests.
func (t *PendingTable) Len() int {
	return len(t.byNonce)
}
