// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package probe implements RLOC reachability probing and
// interface-event-driven SMR (spec §4.K): periodic Map-Request probes
// against every UP locator of every map-cache entry, locator
// UP/DOWN transitions on reply/timeout, and a debounced burst of
// Solicit-Map-Request notifications to recently corresponded peers
// after a local interface changes. No original_source file covers SMR
// or probing directly (the kept LISPmob sources are lispd.h,
// lispd_address.c, lispd_external.h, lispd_local_db.c,
// lispd_map_register.c, lispd_mapping.c); the debounce-then-fan-out
// shape here is built from spec §4.K's own description.
package probe

import (
	"fmt"
	"net/netip"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/eventloop"
	"github.com/cilium/lispd/pkg/localdb"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/logging/logfields"
	"github.com/cilium/lispd/pkg/mapcache"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/metrics"
	"github.com/cilium/lispd/pkg/nonce"
	"github.com/cilium/lispd/pkg/protoconst"
	"github.com/cilium/lispd/pkg/resolver"
	"github.com/cilium/lispd/pkg/timerwheel"
	"github.com/cilium/lispd/pkg/wire"
)

var log = logging.NewSubsys("probe")

// recentPeersSize bounds the "recently corresponded peers" set an
// interface event fans SMRs out to; the teacher's NAT-translation table
// and conntrack caches use a similarly small fixed bound rather than
// growing unboundedly with every peer ever seen.
const recentPeersSize = 1024

// Sender abstracts sending an already-encoded control message, mirroring
// pkg/register's and pkg/resolver's Sender so all three engines can
// share one event-loop socket.
type Sender interface {
	Send(dst netip.Addr, port uint16, payload []byte) error
}

// Engine drives RLOC probing and SMR. It shares its nonce-correlated
// pending-request table with a *resolver.Engine rather than keeping a
// second one, since spec §4.J's Map-Reply handling already dispatches
// probe replies back to this engine via OnProbeReply.
type Engine struct {
	wheel    *timerwheel.Wheel
	sender   Sender
	resolver *resolver.Engine
	cache    *mapcache.Cache
	localdb  *localdb.DB
	metrics  *metrics.Registry

	recentPeers *lru.Cache[netip.Addr, time.Time]
	sendTimes   map[uint64]time.Time

	smrTimerHandle string

	// ITRRLOCs and SourceEID are carried on every outbound probe and SMR
	// Map-Request, as in pkg/resolver.
	ITRRLOCs  []address.Address
	SourceEID address.Address

	// OnStateChange, if set, is invoked whenever a locator transitions
	// UP or DOWN, letting the daemon forward the event to its
	// DataPlaneSink without this package depending on pkg/daemon.
	OnStateChange func(eid address.Address, locator address.Address, up bool)
}

// NewEngine constructs a probe engine. res's OnProbeReply is wired to
// this engine so a Map-Reply to a pending probe request resets the
// probed locator's backoff without pkg/resolver depending on pkg/probe.
func NewEngine(wheel *timerwheel.Wheel, sender Sender, res *resolver.Engine, cache *mapcache.Cache, ldb *localdb.DB, m *metrics.Registry) *Engine {
	peers, _ := lru.New[netip.Addr, time.Time](recentPeersSize)
	e := &Engine{
		wheel:       wheel,
		sender:      sender,
		resolver:    res,
		cache:       cache,
		localdb:     ldb,
		metrics:     m,
		recentPeers: peers,
		sendTimes:   make(map[uint64]time.Time),
	}
	res.OnProbeReply = e.handleProbeReply
	return e
}

// RecordPeer notes addr as a recently corresponded peer, making it an
// SMR target the next time a local interface event fires. The daemon
// calls this for the source address of every inbound control message,
// regardless of type.
func (e *Engine) RecordPeer(addr netip.Addr) {
	e.recentPeers.Add(addr, e.wheel.Now())
}

// Start arms the first steady-state probe tick; probeTick reschedules
// itself every call, so this need only be called once.
func (e *Engine) Start() {
	e.wheel.Schedule(protoconst.RLOCProbingInterval, e.probeTick)
}

func (e *Engine) probeTick() {
	e.cache.Walk(func(m *mapping.Mapping) bool {
		for _, l := range m.LocatorsV4 {
			if l.State() == mapping.StateUp {
				e.probeLocator(m, l)
			}
		}
		for _, l := range m.LocatorsV6 {
			if l.State() == mapping.StateUp {
				e.probeLocator(m, l)
			}
		}
		return true
	})
	e.wheel.Schedule(protoconst.RLOCProbingInterval, e.probeTick)
}

func (e *Engine) probeLocator(m *mapping.Mapping, l *mapping.Locator) {
	if l.Remote == nil {
		l.Remote = &mapping.RemoteExt{}
	}
	req := &nonce.PendingRequest{
		Nonce:                e.resolver.NewNonce(),
		EIDToResolve:         l.Address,
		RetransmitsRemaining: protoconst.DefaultRLOCProbingRetries,
		Kind:                 nonce.KindProbe,
	}
	e.resolver.Pending().Add(req)
	e.sendTimes[req.Nonce] = e.wheel.Now()
	e.sendProbe(req, m, l)
	e.armProbeRetry(req, m, l)
}

func (e *Engine) sendProbe(req *nonce.PendingRequest, m *mapping.Mapping, l *mapping.Locator) {
	addr, ok := netAddrOf(l.Address)
	if !ok {
		return
	}
	msg := wire.MapRequest{
		Probe:     true,
		Nonce:     req.Nonce,
		SourceEID: sourceEIDOrNone(e.SourceEID),
		ITRRLOCs:  e.ITRRLOCs,
		Records:   []wire.EIDRecord{{MaskLen: m.Plen, EID: m.EID}},
	}
	buf := make([]byte, msg.Size())
	if _, err := msg.Encode(buf); err != nil {
		log.Error("failed to encode RLOC probe", logfields.Error, err)
		return
	}
	if err := e.sender.Send(addr, protoconst.LISPControlPort, buf); err != nil {
		log.Error("failed to send RLOC probe", logfields.Locator, addr, logfields.Error, err)
		e.countProbe("send-error")
		return
	}
	e.countProbe("sent")
}

func (e *Engine) armProbeRetry(req *nonce.PendingRequest, m *mapping.Mapping, l *mapping.Locator) {
	h := e.wheel.Schedule(protoconst.DefaultRLOCProbingRetriesInterval, func() { e.retryProbe(req, m, l) })
	l.Remote.ProbeTimerHandle = handleString(h)
}

func (e *Engine) cancelProbeTimer(l *mapping.Locator) {
	if l.Remote == nil {
		return
	}
	if v, ok := handleOf(l.Remote.ProbeTimerHandle); ok {
		e.wheel.Cancel(v)
	}
	l.Remote.ProbeTimerHandle = ""
}

func (e *Engine) retryProbe(req *nonce.PendingRequest, m *mapping.Mapping, l *mapping.Locator) {
	if _, ok := e.resolver.Pending().Lookup(req.Nonce); !ok {
		return // already answered
	}
	if req.RetransmitsRemaining <= 0 {
		e.resolver.Pending().Remove(req.Nonce)
		delete(e.sendTimes, req.Nonce)
		if l.State() == mapping.StateUp {
			l.SetState(mapping.StateDown)
			l.Remote.ProbeFailures++
			mapping.RecomputeBalance(m)
			e.countTransition("down")
			if e.OnStateChange != nil {
				e.OnStateChange(m.EID, l.Address, false)
			}
		}
		return
	}
	req.RetransmitsRemaining--
	e.sendProbe(req, m, l)
	e.armProbeRetry(req, m, l)
}

// handleProbeReply is invoked by the resolver engine when a Map-Reply
// with P=1 matches a pending probe request: it marks the probed locator
// UP, resets its failure count, and records probe RTT (spec §4.J step
// 4, §4.K).
func (e *Engine) handleProbeReply(probed address.Address, replyNonce uint64) {
	addr, ok := netAddrOf(probed)
	if !ok {
		return
	}
	e.cache.Walk(func(m *mapping.Mapping) bool {
		for _, l := range append(append([]*mapping.Locator{}, m.LocatorsV4...), m.LocatorsV6...) {
			la, ok := netAddrOf(l.Address)
			if !ok || la != addr {
				continue
			}
			e.cancelProbeTimer(l)
			wasDown := l.State() == mapping.StateDown
			l.SetState(mapping.StateUp)
			if l.Remote != nil {
				l.Remote.LastReply = e.wheel.Now()
				l.Remote.ProbeFailures = 0
			}
			if wasDown {
				mapping.RecomputeBalance(m)
				e.countTransition("up")
				if e.OnStateChange != nil {
					e.OnStateChange(m.EID, l.Address, true)
				}
			}
			return false
		}
		return true
	})
	e.observeRTT(addr, replyNonce)
}

func (e *Engine) observeRTT(addr netip.Addr, replyNonce uint64) {
	sent, ok := e.sendTimes[replyNonce]
	if !ok {
		return
	}
	delete(e.sendTimes, replyNonce)
	if e.metrics != nil {
		e.metrics.RLOCProbeRTT.WithLabelValues(addr.String()).Observe(e.wheel.Now().Sub(sent).Seconds())
	}
}

// OnInterfaceEvent debounces ev behind LISPDSMRTimeout: repeated events
// within the debounce window collapse into a single SMR burst once
// addressing has had time to stabilize (spec §4.K).
func (e *Engine) OnInterfaceEvent(ev eventloop.LinkEvent) {
	if v, ok := handleOf(e.smrTimerHandle); ok {
		e.wheel.Cancel(v)
	}
	h := e.wheel.Schedule(protoconst.LISPDSMRTimeout, e.fireSMR)
	e.smrTimerHandle = handleString(h)
}

func (e *Engine) fireSMR() {
	e.smrTimerHandle = ""
	if e.localdb == nil {
		return
	}
	e.localdb.Walk(func(m *mapping.Mapping) bool {
		mapping.RecomputeBalance(m)
		return true
	})
	e.localdb.Walk(func(m *mapping.Mapping) bool {
		for _, peer := range e.recentPeers.Keys() {
			e.sendSMR(m, peer)
		}
		return true
	})
}

func (e *Engine) sendSMR(m *mapping.Mapping, peer netip.Addr) {
	req := &nonce.PendingRequest{
		Nonce:                e.resolver.NewNonce(),
		EIDToResolve:         m.EID,
		RetransmitsRemaining: protoconst.LISPDMaxSMRRetransmit,
		Kind:                 nonce.KindSMR,
	}
	e.resolver.Pending().Add(req)
	e.dispatchSMR(req, m, peer)
	h := e.wheel.Schedule(protoconst.LISPDSMRTimeout, func() { e.retrySMR(req, m, peer) })
	req.TimerHandle = handleString(h)
}

func (e *Engine) dispatchSMR(req *nonce.PendingRequest, m *mapping.Mapping, peer netip.Addr) {
	msg := wire.MapRequest{
		SMR:       true,
		Nonce:     req.Nonce,
		SourceEID: sourceEIDOrNone(e.SourceEID),
		ITRRLOCs:  e.ITRRLOCs,
		Records:   []wire.EIDRecord{{MaskLen: m.Plen, EID: m.EID}},
	}
	buf := make([]byte, msg.Size())
	if _, err := msg.Encode(buf); err != nil {
		log.Error("failed to encode SMR", logfields.Error, err)
		return
	}
	if err := e.sender.Send(peer, protoconst.LISPControlPort, buf); err != nil {
		log.Error("failed to send SMR", logfields.Error, err)
		e.countProbe("smr-send-error")
		return
	}
	e.countProbe("smr-sent")
}

func (e *Engine) retrySMR(req *nonce.PendingRequest, m *mapping.Mapping, peer netip.Addr) {
	if _, ok := e.resolver.Pending().Lookup(req.Nonce); !ok {
		return // the peer's own Map-Request refresh satisfied it, or it already timed out
	}
	if req.RetransmitsRemaining <= 0 {
		e.resolver.Pending().Remove(req.Nonce)
		e.countProbe("smr-abandoned")
		return
	}
	req.RetransmitsRemaining--
	e.dispatchSMR(req, m, peer)
	h := e.wheel.Schedule(protoconst.LISPDSMRTimeout, func() { e.retrySMR(req, m, peer) })
	req.TimerHandle = handleString(h)
}

func (e *Engine) countProbe(outcome string) {
	if e.metrics != nil {
		e.metrics.MapRequestsTotal.WithLabelValues("probe", outcome).Inc()
	}
}

func (e *Engine) countTransition(state string) {
	if e.metrics != nil {
		e.metrics.RLOCStateTransitions.WithLabelValues(state).Inc()
	}
}

func handleString(h timerwheel.Handle) string {
	return fmt.Sprintf("%d", uint64(h))
}

func handleOf(s string) (timerwheel.Handle, bool) {
	if s == "" {
		return 0, false
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, false
	}
	return timerwheel.Handle(v), true
}

func sourceEIDOrNone(a address.Address) address.Address {
	if a == nil {
		return address.NoAddr{}
	}
	return a
}

func netAddrOf(a address.Address) (netip.Addr, bool) {
	switch v := a.(type) {
	case address.IP:
		return v.Addr, true
	case address.IPPrefix:
		return v.Addr, true
	default:
		return netip.Addr{}, false
	}
}
