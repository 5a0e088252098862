// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package timerwheel implements the single-mutator timer queue the event
// loop drives its 1-second tick against (spec §5): every retransmit,
// TTL expiry, and RLOC-probe schedule in this module goes through one
// Wheel rather than a goroutine-per-timer. No original_source file
// covers timer scheduling directly (the kept LISPmob sources are
// lispd.h, lispd_address.c, lispd_external.h, lispd_local_db.c,
// lispd_map_register.c, lispd_mapping.c); this single-mutator shape is
// this module's own design against the event loop's single-consumer
// model.
package timerwheel

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled timer so it can be cancelled or
// rescheduled before it fires. It stays valid even after the timer has
// fired or been cancelled; operating on a stale handle is a no-op.
type Handle uint64

// Callback is invoked by Advance when a timer's deadline has
// passed. It runs on the single mutator goroutine, so it may freely
// touch localdb/mapcache/nonce state without locking.
type Callback func()

type entry struct {
	handle   Handle
	deadline time.Time
	cb       Callback
	index    int
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a min-heap of pending callbacks ordered by deadline. The zero
// value is not usable; construct with New. Wheel is not safe for
// concurrent use: all methods must be called from the single mutator
// goroutine (spec §5).
type Wheel struct {
	heap    entryHeap
	byHandl map[Handle]*entry
	next    Handle
	now     func() time.Time
}

// New returns an empty Wheel. now lets tests substitute a deterministic
// clock; production callers pass time.Now.
func New(now func() time.Time) *Wheel {
	return &Wheel{
		byHandl: make(map[Handle]*entry),
		now:     now,
	}
}

// Schedule arranges for cb to run no earlier than d from now, returning
// a Handle that Cancel or Reschedule can later address.
func (w *Wheel) Schedule(d time.Duration, cb Callback) Handle {
	w.next++
	h := w.next
	e := &entry{handle: h, deadline: w.now().Add(d), cb: cb}
	w.byHandl[h] = e
	heap.Push(&w.heap, e)
	return h
}

// Cancel prevents the timer identified by h from firing, if it hasn't
// already. It is a no-op for an unknown or already-fired handle, so
// callers never need to check Pending first (spec §9's cancellation-safe
// generation-counter requirement, implemented here via a canceled flag
// instead of a live heap removal, which container/heap cannot do in
// better than O(n) without an index — the flag keeps Cancel O(1) and
// lets Advance skip stale entries cheaply).
func (w *Wheel) Cancel(h Handle) {
	e, ok := w.byHandl[h]
	if !ok {
		return
	}
	e.canceled = true
	delete(w.byHandl, h)
}

// Reschedule moves the timer identified by h to fire d from now,
// reusing its existing callback. It returns the new Handle callers must
// use for any future Cancel/Reschedule; ok is false if h did not refer
// to a live timer.
func (w *Wheel) Reschedule(h Handle, d time.Duration) (newHandle Handle, ok bool) {
	e, found := w.byHandl[h]
	if !found {
		return 0, false
	}
	e.canceled = true
	delete(w.byHandl, h)
	return w.Schedule(d, e.cb), true
}

// Pending reports whether h still refers to a live, uncancelled timer.
func (w *Wheel) Pending(h Handle) bool {
	_, ok := w.byHandl[h]
	return ok
}

// Len returns the number of live (non-canceled) timers.
func (w *Wheel) Len() int {
	return len(w.byHandl)
}

// Now returns the wheel's notion of the current time, letting callers
// stamp bookkeeping fields (e.g. a locator's last-reply time) against
// the same clock Schedule uses instead of calling time.Now directly.
func (w *Wheel) Now() time.Time {
	return w.now()
}

// Advance runs every callback whose deadline is at or before now,
// popping them off the heap in deadline order. It is called once per
// event-loop tick (spec §4.H's 1-second ticker).
func (w *Wheel) Advance() {
	now := w.now()
	for w.heap.Len() > 0 {
		top := w.heap[0]
		if top.deadline.After(now) {
			return
		}
		e := heap.Pop(&w.heap).(*entry)
		if e.canceled {
			continue
		}
		delete(w.byHandl, e.handle)
		e.cb()
	}
}
