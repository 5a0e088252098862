// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package nonce

import "github.com/cilium/lispd/pkg/protoconst"

// historyLen is LISPD_MAX_RETRANSMITS+1: the full retransmit history is
// retained so a reply delayed past the latest retransmit still
// correlates (spec §3, §9 "Nonces as retransmit history arrays").
const historyLen = protoconst.LISPDMaxRetransmits + 1

// Track is the retransmission history for one in-flight registration or
// request: every nonce sent so far, plus how many retransmits have
// occurred.
type Track struct {
	nonces      [historyLen]uint64
	count       int
	Retransmits uint8
}

// Record appends n to the track's history, as a new retransmit is sent.
func (t *Track) Record(n uint64) {
	if t.count < historyLen {
		t.nonces[t.count] = n
		t.count++
		return
	}
	// History is full; shift left and drop the oldest, preserving the
	// most recent historyLen nonces.
	copy(t.nonces[:historyLen-1], t.nonces[1:historyLen])
	t.nonces[historyLen-1] = n
}

// Matches reports whether n equals any nonce currently retained in the
// track's history.
func (t *Track) Matches(n uint64) bool {
	for i := 0; i < t.count; i++ {
		if t.nonces[i] == n {
			return true
		}
	}
	return false
}

// Reset clears the history and retransmit counter, as happens when a
// registration is reconfirmed or abandoned.
func (t *Track) Reset() {
	*t = Track{}
}
