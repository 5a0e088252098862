// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package daemon

import (
	"encoding/hex"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/localdb"
	"github.com/cilium/lispd/pkg/mapcache"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/option"
	"github.com/cilium/lispd/pkg/probe"
	"github.com/cilium/lispd/pkg/register"
	"github.com/cilium/lispd/pkg/resolver"
	"github.com/cilium/lispd/pkg/timerwheel"
	"github.com/cilium/lispd/pkg/wire"
)

type sentMsg struct {
	dst netip.Addr
	buf []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (f *fakeSender) Send(dst netip.Addr, port uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{dst: dst, buf: append([]byte(nil), payload...)})
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

type recordingSink struct {
	NoopSink
	installed   int
	evicted     int
	transitions []bool
}

func (s *recordingSink) OnCacheInstall(*mapping.Mapping) { s.installed++ }
func (s *recordingSink) OnCacheEvict(*mapping.Mapping)   { s.evicted++ }
func (s *recordingSink) OnLocatorStateChange(eid, locator address.Address, up bool) {
	s.transitions = append(s.transitions, up)
}

// testDaemon wires a Daemon's engines directly against a fakeSender,
// bypassing New's real eventloop/socket construction so tests can drive
// dispatch and inspect state without opening a UDP socket.
func testDaemon(now *time.Time, sink DataPlaneSink, servers []register.Server) (*Daemon, *fakeSender) {
	w := timerwheel.New(func() time.Time { return *now })
	sender := &fakeSender{}
	if sink == nil {
		sink = NoopSink{}
	}

	d := &Daemon{sink: sink, wheel: w, sender: sender}
	d.localdb = localdb.New()
	d.cache = mapcache.New(w, d.onCacheExpire)
	d.cache.OnInstall = d.onCacheInstall
	d.register = register.NewEngine(w, sender, servers, nil)
	d.resolver = resolver.NewEngine(w, sender, []netip.Addr{netip.MustParseAddr("203.0.113.53")}, d.cache, nil)
	d.probe = probe.NewEngine(w, sender, d.resolver, d.cache, d.localdb, nil)
	d.probe.OnStateChange = sink.OnLocatorStateChange
	return d, sender
}

func ip(s string) address.Address {
	return address.IP{Addr: netip.MustParseAddr(s)}
}

func localMapping(eid, loc string) *mapping.Mapping {
	m := mapping.New(ip(eid), 32, 0)
	m.TTLSeconds = 1440
	l := mapping.NewLocator(ip(loc), 1, 100, 1, 100, mapping.KindLocal)
	l.Local = &mapping.LocalExt{Interface: "eth0"}
	if err := mapping.AddLocator(m, l); err != nil {
		panic(err)
	}
	return m
}

func TestAddLocalMappingRefreshesITRRLOCs(t *testing.T) {
	now := time.Unix(0, 0)
	d, _ := testDaemon(&now, nil, nil)

	m := localMapping("198.51.100.1", "192.0.2.1")
	require.NoError(t, d.AddLocalMapping(m))

	require.Len(t, d.resolver.ITRRLOCs, 1)
	require.Equal(t, "192.0.2.1", d.resolver.ITRRLOCs[0].String())
	require.Len(t, d.probe.ITRRLOCs, 1)
	require.Equal(t, "198.51.100.1", d.resolver.SourceEID.String())
}

func TestDispatchMapReplyInstallsCacheEntryAndNotifiesSink(t *testing.T) {
	now := time.Unix(0, 0)
	sink := &recordingSink{}
	d, _ := testDaemon(&now, sink, nil)

	eid := ip("198.51.100.2")
	require.NoError(t, d.resolver.Resolve(eid, 32))

	pending := d.resolver.Pending().Pending(eid.String())
	require.Len(t, pending, 1)
	reqNonce := pending[0].Nonce

	reply := wire.MapReply{
		Nonce: reqNonce,
		Records: []wire.MappingRecord{{
			TTL:     1440,
			MaskLen: 32,
			EID:     eid,
			Locators: []wire.LocatorRecord{{
				Priority:  1,
				Weight:    100,
				Reachable: true,
				Locator:   ip("192.0.2.2"),
			}},
		}},
	}
	buf := make([]byte, reply.Size())
	_, err := reply.Encode(buf)
	require.NoError(t, err)

	d.dispatch(buf, netip.MustParseAddr("203.0.113.53"))

	_, hit := d.cache.LookupBest(netip.MustParseAddr("198.51.100.2"))
	require.True(t, hit)
	require.Equal(t, 1, sink.installed)
}

func TestDispatchProbeMapRequestAnswersWithLocalLocators(t *testing.T) {
	now := time.Unix(0, 0)
	d, sender := testDaemon(&now, nil, nil)

	m := localMapping("198.51.100.3", "192.0.2.3")
	require.NoError(t, d.AddLocalMapping(m))

	req := wire.MapRequest{
		Probe:   true,
		Nonce:   42,
		Records: []wire.EIDRecord{{MaskLen: 32, EID: ip("198.51.100.3")}},
	}
	buf := make([]byte, req.Size())
	_, err := req.Encode(buf)
	require.NoError(t, err)

	d.dispatch(buf, netip.MustParseAddr("203.0.113.9"))

	require.Equal(t, 1, sender.count())
	got := sender.last()
	require.Equal(t, netip.MustParseAddr("203.0.113.9"), got.dst)

	reply, _, err := wire.DecodeMapReply(got.buf)
	require.NoError(t, err)
	require.True(t, reply.Probe)
	require.Equal(t, uint64(42), reply.Nonce)
	require.Len(t, reply.Records, 1)
	require.Equal(t, "192.0.2.3", reply.Records[0].Locators[0].Locator.String())
}

func TestDispatchMapNotifyClearsRegistrationState(t *testing.T) {
	now := time.Unix(0, 0)
	servers := []register.Server{{Addr: netip.MustParseAddr("198.51.100.254"), KeyID: wire.KeyIDNone}}
	d, _ := testDaemon(&now, nil, servers)

	m := localMapping("198.51.100.4", "192.0.2.4")
	require.NoError(t, d.AddLocalMapping(m))
	d.wheel.Advance() // fire the immediate plain-register tick, nonce 0
	require.NotNil(t, m.Registration)
	require.False(t, m.Registration.Registered)

	var notify wire.MapNotify
	notify.Nonce = 0
	notify.KeyID = wire.KeyIDNone
	buf := make([]byte, notify.Size())
	_, err := notify.Encode(buf)
	require.NoError(t, err)

	d.dispatch(buf, netip.MustParseAddr("198.51.100.254"))

	require.True(t, m.Registration.Registered)
}

func TestDispatchECMUnwrapsInnerMessage(t *testing.T) {
	now := time.Unix(0, 0)
	d, sender := testDaemon(&now, nil, nil)

	m := localMapping("198.51.100.5", "192.0.2.5")
	require.NoError(t, d.AddLocalMapping(m))

	inner := wire.MapRequest{
		Probe:   true,
		Nonce:   7,
		Records: []wire.EIDRecord{{MaskLen: 32, EID: ip("198.51.100.5")}},
	}
	innerBuf := make([]byte, inner.Size())
	_, err := inner.Encode(innerBuf)
	require.NoError(t, err)

	ecm := wire.EncapsulatedControl{
		InnerSource:  ip("203.0.113.77"),
		InnerDest:    ip("198.51.100.5"),
		InnerMessage: innerBuf,
	}
	outerBuf := make([]byte, ecm.Size())
	_, err = ecm.Encode(outerBuf)
	require.NoError(t, err)

	d.dispatch(outerBuf, netip.MustParseAddr("203.0.113.1"))

	require.Equal(t, 1, sender.count())
	got := sender.last()
	// The reply must target the ECM's inner source, not the outer relay.
	require.Equal(t, netip.MustParseAddr("203.0.113.77"), got.dst)
}

func TestBuildServersUsesConfiguredPSKVerbatimAsHMACKey(t *testing.T) {
	cfg := &option.Config{
		MapServers: []netip.Addr{netip.MustParseAddr("203.0.113.1")},
		KeyID:      uint16(wire.KeyIDHMACSHA1),
		PSKHex:     hex.EncodeToString([]byte("shared-secret")),
	}

	servers, err := buildServers(cfg)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, []byte("shared-secret"), servers[0].Key, "the PSK must be used as-is, with no KDF step, to match a Map Server configured with the same plain key")
}

func TestBuildLocalMappingConvertsConfigIntoMapping(t *testing.T) {
	lm := option.LocalMapping{
		EID: netip.MustParsePrefix("198.51.100.0/24"),
		TTL: 1440,
		Locators: []option.LocalLocator{
			{Addr: netip.MustParseAddr("192.0.2.10"), Interface: "eth0", Priority: 1, Weight: 100},
		},
	}

	m, err := BuildLocalMapping(lm)
	require.NoError(t, err)
	require.Equal(t, uint8(24), m.Plen)
	require.Equal(t, uint32(1440), m.TTLSeconds)
	require.Len(t, m.LocatorsV4, 1)
	require.Equal(t, "192.0.2.10", m.LocatorsV4[0].Address.(address.IP).Addr.String())
	require.Equal(t, "eth0", m.LocatorsV4[0].Local.Interface)
}

func TestResolveForwardingFallsBackToSinkOnMiss(t *testing.T) {
	now := time.Unix(0, 0)
	sink := &recordingSink{}
	d, _ := testDaemon(&now, sink, nil)

	_, ok := d.ResolveForwarding(netip.MustParseAddr("198.51.100.9"), 32)
	require.False(t, ok)
}
