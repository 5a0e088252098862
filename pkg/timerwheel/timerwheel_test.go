// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package timerwheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestScheduleFiresAtOrAfterDeadline(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := New(clock.now)

	fired := false
	w.Schedule(5*time.Second, func() { fired = true })

	w.Advance()
	require.False(t, fired, "must not fire before deadline")

	clock.advance(5 * time.Second)
	w.Advance()
	require.True(t, fired)
}

func TestFiresInDeadlineOrder(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := New(clock.now)

	var order []int
	w.Schedule(3*time.Second, func() { order = append(order, 3) })
	w.Schedule(1*time.Second, func() { order = append(order, 1) })
	w.Schedule(2*time.Second, func() { order = append(order, 2) })

	clock.advance(10 * time.Second)
	w.Advance()

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestCancelPreventsFiring(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := New(clock.now)

	fired := false
	h := w.Schedule(1*time.Second, func() { fired = true })
	w.Cancel(h)

	clock.advance(5 * time.Second)
	w.Advance()

	require.False(t, fired)
	require.False(t, w.Pending(h))
}

func TestCancelUnknownHandleIsNoop(t *testing.T) {
	w := New(time.Now)
	w.Cancel(Handle(999))
	require.Equal(t, 0, w.Len())
}

func TestRescheduleMovesDeadlineAndInvalidatesOldHandle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := New(clock.now)

	fireCount := 0
	h := w.Schedule(1*time.Second, func() { fireCount++ })

	newHandle, ok := w.Reschedule(h, 10*time.Second)
	require.True(t, ok)
	require.NotEqual(t, h, newHandle)

	clock.advance(2 * time.Second)
	w.Advance()
	require.Equal(t, 0, fireCount, "original deadline must not fire after reschedule")

	clock.advance(10 * time.Second)
	w.Advance()
	require.Equal(t, 1, fireCount)
}

func TestRescheduleUnknownHandleReturnsFalse(t *testing.T) {
	w := New(time.Now)
	_, ok := w.Reschedule(Handle(42), time.Second)
	require.False(t, ok)
}

func TestLenTracksLiveTimersOnly(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := New(clock.now)

	h1 := w.Schedule(1*time.Second, func() {})
	w.Schedule(2*time.Second, func() {})
	require.Equal(t, 2, w.Len())

	w.Cancel(h1)
	require.Equal(t, 1, w.Len())
}
