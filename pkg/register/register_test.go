// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package register

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/protoconst"
	"github.com/cilium/lispd/pkg/timerwheel"
	"github.com/cilium/lispd/pkg/wire"
)

type sentMsg struct {
	dst  netip.Addr
	port uint16
	buf  []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (f *fakeSender) Send(dst netip.Addr, port uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{dst: dst, port: port, buf: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeSender) last() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func plainMapping(eid string, loc string) *mapping.Mapping {
	mp := mapping.New(address.IP{Addr: netip.MustParseAddr(eid)}, 32, 0)
	mp.TTLSeconds = 1440
	l := mapping.NewLocator(address.IP{Addr: netip.MustParseAddr(loc)}, 1, 100, 1, 100, mapping.KindLocal)
	l.Local = &mapping.LocalExt{Interface: "eth0"}
	if err := mapping.AddLocator(mp, l); err != nil {
		panic(err)
	}
	return mp
}

func natMapping(eid, loc, rtr string, status mapping.NATStatusKind) *mapping.Mapping {
	mp := mapping.New(address.IP{Addr: netip.MustParseAddr(eid)}, 32, 0)
	mp.TTLSeconds = 1440
	l := mapping.NewLocator(address.IP{Addr: netip.MustParseAddr(loc)}, 1, 100, 1, 100, mapping.KindLocal)
	l.Local = &mapping.LocalExt{
		Interface: "eth0",
		NAT: &mapping.NATStatus{
			Status:      status,
			RTRLocators: []address.Address{address.IP{Addr: netip.MustParseAddr(rtr)}},
		},
	}
	if err := mapping.AddLocator(mp, l); err != nil {
		panic(err)
	}
	return mp
}

func TestScheduleInitialSendsPlainRegisterImmediately(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1")}
	e := NewEngine(w, sender, []Server{srv}, nil)

	mp := plainMapping("10.0.0.1", "192.0.2.1")
	e.ScheduleInitial(mp)
	w.Advance()

	require.Equal(t, 1, sender.count())
	got := sender.last()
	require.Equal(t, srv.Addr, got.dst)

	decoded, _, err := wire.DecodeMapRegister(got.buf)
	require.NoError(t, err)
	require.Len(t, decoded.Records, 1)
	require.Equal(t, "10.0.0.1", decoded.Records[0].EID.String())
}

func TestPlainRegisterArmsRetransmitOnNoNotify(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1")}
	e := NewEngine(w, sender, []Server{srv}, nil)

	mp := plainMapping("10.0.0.2", "192.0.2.2")
	e.ScheduleInitial(mp)
	w.Advance()
	require.Equal(t, 1, sender.count())

	now = now.Add(4 * time.Second)
	w.Advance()
	require.Equal(t, 2, sender.count(), "retransmit should have fired")
	require.Equal(t, uint8(2), mp.Registration.Retransmits)
}

// TestRetransmitLadderThenFallsBackToSteadyStateInterval drives the full
// six-send fixed-interval ladder with every Map-Notify dropped, then
// checks the engine falls back to the 60s steady-state interval rather
// than continuing to retransmit every 3s forever.
func TestRetransmitLadderThenFallsBackToSteadyStateInterval(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1")}
	e := NewEngine(w, sender, []Server{srv}, nil)

	mp := plainMapping("10.0.0.9", "192.0.2.9")
	e.ScheduleInitial(mp)

	for range []int{0, 3, 6, 9, 12, 15} {
		w.Advance()
		now = now.Add(3 * time.Second)
	}
	require.Equal(t, 6, sender.count(), "exactly six registrations on the fixed 3s ladder")

	// The next tick is scheduled 60s out, not 3s: advancing by only 3s
	// must not produce a seventh send.
	w.Advance()
	require.Equal(t, 6, sender.count(), "no further send until the 60s steady-state interval elapses")

	now = now.Add(57 * time.Second)
	w.Advance()
	require.Equal(t, 7, sender.count(), "steady-state registration fires once the 60s interval elapses")
}

func TestHandleMapNotifyClearsRetransmitState(t *testing.T) {
	mp := plainMapping("10.0.0.3", "192.0.2.3")
	mp.Registration = &mapping.LocalRegState{}
	mp.Registration.Nonces.Record(77)
	mp.Registration.Retransmits = 2

	ok := HandleMapNotify(mp, 77)
	require.True(t, ok)
	require.True(t, mp.Registration.Registered)
	require.False(t, mp.Registration.Nonces.Matches(77))
}

func TestHandleMapNotifyRejectsUnknownNonce(t *testing.T) {
	mp := plainMapping("10.0.0.4", "192.0.2.4")
	mp.Registration = &mapping.LocalRegState{}
	mp.Registration.Nonces.Record(1)

	ok := HandleMapNotify(mp, 999)
	require.False(t, ok)
	require.False(t, mp.Registration.Registered)
}

func TestNATUnknownDefersRegistration(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1")}
	e := NewEngine(w, sender, []Server{srv}, nil)

	mp := natMapping("10.0.0.5", "192.168.1.2", "198.51.100.1", mapping.NATUnknown)
	e.ScheduleInitial(mp)
	w.Advance()

	require.Equal(t, 0, sender.count(), "no registration should be sent while NAT status is unknown")
	require.Equal(t, 1, w.Len(), "a recheck timer should be armed")
}

func TestNATPresentSendsECMWrappedRegisterToRTR(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1")}
	e := NewEngine(w, sender, []Server{srv}, nil)

	rtrAddr := "198.51.100.1"
	mp := natMapping("10.0.0.6", "192.168.1.2", rtrAddr, mapping.NATPresent)
	e.ScheduleInitial(mp)
	w.Advance()

	require.Equal(t, 1, sender.count())
	got := sender.last()
	require.Equal(t, netip.MustParseAddr(rtrAddr), got.dst)

	ecm, _, err := wire.DecodeEncapsulatedControl(got.buf)
	require.NoError(t, err)
	require.Equal(t, uint16(protoconst.LISPDataPort), got.port, "the outer ECM is sent to the data port")
	require.Equal(t, uint16(protoconst.LISPControlPort), ecm.InnerUDPSrc)
	require.Equal(t, uint16(protoconst.LISPControlPort), ecm.InnerUDPDst, "the inner Map-Register always carries the control port, even inside an ECM")

	typ, err := wire.PeekType(ecm.InnerMessage)
	require.NoError(t, err)
	require.Equal(t, wire.TypeMapRegister, typ)

	inner, _, err := wire.DecodeMapRegister(ecm.InnerMessage)
	require.NoError(t, err)
	require.True(t, inner.RTR)
	require.True(t, inner.XTRIDPresent)
	require.NotZero(t, inner.Nonce, "ECM-wrapped registers always draw a fresh nonzero nonce")
}

func TestNATNoneFallsBackToPlainRegister(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1")}
	e := NewEngine(w, sender, []Server{srv}, nil)

	mp := natMapping("10.0.0.7", "192.0.2.7", "198.51.100.1", mapping.NATNone)
	e.ScheduleInitial(mp)
	w.Advance()

	require.Equal(t, 1, sender.count())
	require.Equal(t, srv.Addr, sender.last().dst)
}

func TestPlainRegisterSignsWithConfiguredKey(t *testing.T) {
	now := time.Unix(0, 0)
	w := timerwheel.New(func() time.Time { return now })
	sender := &fakeSender{}

	key := []byte("shared-secret")
	srv := Server{Addr: netip.MustParseAddr("203.0.113.1"), KeyID: wire.KeyIDHMACSHA1, Key: key}
	e := NewEngine(w, sender, []Server{srv}, nil)

	mp := plainMapping("10.0.0.8", "192.0.2.8")
	e.ScheduleInitial(mp)
	w.Advance()

	got := sender.last().buf
	zeroed := wire.ZeroAuthData(got, 12)
	decoded, _, err := wire.DecodeMapRegister(got)
	require.NoError(t, err)
	ok, err := wire.Verify(wire.KeyIDHMACSHA1, key, zeroed, decoded.AuthData)
	require.NoError(t, err)
	require.True(t, ok)
}
