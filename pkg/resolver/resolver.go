// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package resolver implements the Map Request / resolver engine of spec
// §4.J: outbound EID resolution against a round-robin set of Map
// Resolvers, nonce-correlated Map-Reply processing into the map cache,
// and SMR-request handling. See
// original_source/lispd/lispd_map_request.c for the reference
// resolve/retransmit/install logic this package reimplements.
package resolver

import (
	"fmt"
	"net/netip"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/logging/logfields"
	"github.com/cilium/lispd/pkg/mapcache"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/metrics"
	"github.com/cilium/lispd/pkg/nonce"
	"github.com/cilium/lispd/pkg/protoconst"
	"github.com/cilium/lispd/pkg/timerwheel"
	"github.com/cilium/lispd/pkg/wire"
)

var log = logging.NewSubsys("resolver")

// Sender abstracts sending an already-encoded control message, mirroring
// pkg/register's Sender so both engines can share one event-loop socket
// without a shared dependency.
type Sender interface {
	Send(dst netip.Addr, port uint16, payload []byte) error
}

// Engine drives outbound EID resolution and inbound Map-Reply/SMR
// processing against a round-robin set of Map Resolvers.
type Engine struct {
	wheel   *timerwheel.Wheel
	sender  Sender
	nonces  *nonce.Generator
	pending *nonce.PendingTable
	cache   *mapcache.Cache
	metrics *metrics.Registry

	resolvers    []netip.Addr
	nextResolver int

	// ITRRLOCs are this daemon's own RLOCs, carried in every outbound
	// Map-Request as the ITR-RLOC list (spec §4.F).
	ITRRLOCs []address.Address
	// SourceEID is carried as the outbound Map-Request's source-EID
	// field; the zero value (address.NoAddr{}) is valid for a daemon
	// with no EID of its own to advertise.
	SourceEID address.Address

	// NegativeOnTimeout installs a short-TTL NATIVE_FORWARD negative
	// cache entry when a pending request exhausts its retransmit budget
	// with no reply (spec §4.J).
	NegativeOnTimeout bool
	NegativeTTL       uint32

	// OnProbeReply, if set, is invoked for a P=1 reply to a pending
	// request of nonce.KindProbe, after any records the reply carries
	// have been installed (a reply with no records still invokes it),
	// letting pkg/probe reset a locator's reachability backoff without
	// this package depending on pkg/probe. replyNonce is passed through
	// so the caller can correlate the reply against its own send-time
	// bookkeeping (e.g. for RTT).
	OnProbeReply func(probed address.Address, replyNonce uint64)
}

// NewEngine constructs a resolver engine. resolvers must be non-empty for
// Resolve to do anything useful.
func NewEngine(wheel *timerwheel.Wheel, sender Sender, resolvers []netip.Addr, cache *mapcache.Cache, m *metrics.Registry) *Engine {
	return &Engine{
		wheel:             wheel,
		sender:            sender,
		nonces:            nonce.NewGenerator(),
		pending:           nonce.NewPendingTable(),
		cache:             cache,
		metrics:           m,
		resolvers:         resolvers,
		NegativeOnTimeout: true,
		NegativeTTL:       15,
	}
}

// Resolve consults the map cache for eid/plen; on a miss, with no
// request already in flight for the same EID, it issues a Map-Request
// to the next resolver in round-robin order and arms a retransmission
// timer (spec §4.J "Outbound").
func (e *Engine) Resolve(eid address.Address, plen uint8) error {
	addr, ok := netAddrOf(eid)
	if !ok {
		return lisperr.ErrBadAfi
	}
	if _, hit := e.cache.LookupBest(addr); hit {
		return nil
	}
	if len(e.pending.Pending(eid.String())) > 0 {
		return nil
	}
	if len(e.resolvers) == 0 {
		return lisperr.ErrControlInterfaceMissing
	}

	req := &nonce.PendingRequest{
		Nonce:                e.nonces.New(),
		EIDToResolve:         eid,
		SourceEID:            e.SourceEID,
		RetransmitsRemaining: protoconst.LISPDMaxMRRetransmit,
		Kind:                 nonce.KindNormal,
	}
	e.dispatch(req, plen)
	e.pending.Add(req)
	e.arm(req, plen)
	return nil
}

func (e *Engine) dispatch(req *nonce.PendingRequest, plen uint8) {
	resolverAddr := e.nextResolverAddr()
	req.MapResolverChosen = address.IP{Addr: resolverAddr}

	msg := wire.MapRequest{
		Nonce:     req.Nonce,
		SourceEID: sourceEIDOrNone(req.SourceEID),
		ITRRLOCs:  e.ITRRLOCs,
		Records:   []wire.EIDRecord{{MaskLen: plen, EID: req.EIDToResolve}},
	}
	buf := make([]byte, msg.Size())
	if _, err := msg.Encode(buf); err != nil {
		log.Error("failed to encode map-request", logfields.Error, err)
		return
	}
	if err := e.sender.Send(resolverAddr, protoconst.LISPControlPort, buf); err != nil {
		log.Error("failed to send map-request", logfields.MapResolver, resolverAddr, logfields.Error, err)
		e.count("send-error")
		return
	}
	e.count("sent")
}

func (e *Engine) arm(req *nonce.PendingRequest, plen uint8) {
	h := e.wheel.Schedule(protoconst.LISPDInitialMRQTimeout, func() { e.retransmit(req, plen) })
	req.TimerHandle = fmt.Sprintf("%d", uint64(h))
}

func (e *Engine) cancelTimer(req *nonce.PendingRequest) {
	var v uint64
	if _, err := fmt.Sscanf(req.TimerHandle, "%d", &v); err == nil {
		e.wheel.Cancel(timerwheel.Handle(v))
	}
}

func (e *Engine) retransmit(req *nonce.PendingRequest, plen uint8) {
	if _, ok := e.pending.Lookup(req.Nonce); !ok {
		return // already satisfied by a reply, or already abandoned
	}
	if req.RetransmitsRemaining <= 0 {
		e.abandon(req)
		return
	}
	req.RetransmitsRemaining--
	e.dispatch(req, plen)
	e.arm(req, plen)
}

// abandon removes req from the pending table after its retransmit
// budget is exhausted, optionally installing a short-TTL negative cache
// entry so subsequent lookups don't re-trigger resolution immediately
// (spec §4.J).
func (e *Engine) abandon(req *nonce.PendingRequest) {
	e.pending.Remove(req.Nonce)
	e.cancelTimer(req)
	e.count("timeout")
	if !e.NegativeOnTimeout {
		return
	}
	addr, ok := netAddrOf(req.EIDToResolve)
	if !ok {
		return
	}
	plen := fullPlen(addr)
	e.cache.InstallNegative(netip.PrefixFrom(addr, plen), mapping.ActionNativeForward, e.NegativeTTL)
}

// HandleMapReply correlates an inbound Map-Reply against the pending
// table and installs each carried record into the map cache, per the
// four numbered steps of spec §4.J. It returns false if the reply's
// nonce matched no pending request (a drop, per spec §7).
func (e *Engine) HandleMapReply(msg wire.MapReply) bool {
	req, ok := e.pending.Lookup(msg.Nonce)
	if !ok {
		e.count("unmatched-reply")
		return false
	}
	e.pending.Remove(msg.Nonce)
	e.cancelTimer(req)

	for _, rec := range msg.Records {
		if len(rec.Locators) == 0 {
			addr, ok := netAddrOf(rec.EID)
			if !ok {
				continue
			}
			e.cache.InstallNegative(netip.PrefixFrom(addr, int(rec.MaskLen)).Masked(), rec.Action, rec.TTL)
			continue
		}
		m := mappingFromRecord(rec)
		if err := e.cache.InstallOrRefresh(m); err != nil {
			log.Error("failed to install map-cache entry", logfields.EID, rec.EID.String(), logfields.Error, err)
			continue
		}
	}

	if req.Kind == nonce.KindProbe && msg.Probe && e.OnProbeReply != nil {
		e.OnProbeReply(req.EIDToResolve, msg.Nonce)
	}
	e.count("replied")
	return true
}

// HandleSMR responds to an inbound solicited Map-Request (S=1) by
// sending a fresh Map-Request (never a Map-Reply) with S cleared,
// targeting the sender's own source EID so the sender refreshes its
// cache, addressed to a Map Resolver rather than back to the sender
// directly (spec §4.J "SMR handling"). It returns false if msg did not
// carry S=1.
func (e *Engine) HandleSMR(msg wire.MapRequest) bool {
	if !msg.SMR {
		return false
	}
	if len(e.resolvers) == 0 {
		return false
	}
	resolverAddr := e.nextResolverAddr()

	srcAddr, ok := netAddrOf(msg.SourceEID)
	plen := uint8(32)
	if ok {
		plen = uint8(fullPlen(srcAddr))
	}

	resp := wire.MapRequest{
		SMR:       false,
		SMRInvoked: true,
		Nonce:     e.nonces.New(),
		SourceEID: sourceEIDOrNone(e.SourceEID),
		ITRRLOCs:  e.ITRRLOCs,
		Records:   []wire.EIDRecord{{MaskLen: plen, EID: msg.SourceEID}},
	}
	buf := make([]byte, resp.Size())
	if _, err := resp.Encode(buf); err != nil {
		log.Error("failed to encode SMR response", logfields.Error, err)
		return false
	}
	if err := e.sender.Send(resolverAddr, protoconst.LISPControlPort, buf); err != nil {
		log.Error("failed to send SMR response", logfields.Error, err)
		e.count("send-error")
		return false
	}
	e.count("smr-response")
	return true
}

func mappingFromRecord(rec wire.MappingRecord) *mapping.Mapping {
	m := mapping.New(rec.EID, rec.MaskLen, 0)
	m.TTLSeconds = rec.TTL
	m.Action = rec.Action
	m.Authoritative = rec.Authoritative
	for _, lr := range rec.Locators {
		l := mapping.NewLocator(lr.Locator, lr.Priority, lr.Weight, lr.MPriority, lr.MWeight, mapping.KindDynamic)
		if !lr.Reachable {
			l.SetState(mapping.StateDown)
		}
		_ = mapping.AddLocator(m, l)
	}
	return m
}

// Pending returns the engine's pending-request table, which pkg/probe
// shares for its RLOC-probe and SMR requests.
func (e *Engine) Pending() *nonce.PendingTable {
	return e.pending
}

// NewNonce draws a fresh nonce from the engine's generator.
func (e *Engine) NewNonce() uint64 {
	return e.nonces.New()
}

func (e *Engine) nextResolverAddr() netip.Addr {
	addr := e.resolvers[e.nextResolver%len(e.resolvers)]
	e.nextResolver++
	return addr
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.MapRequestsTotal.WithLabelValues("resolve", outcome).Inc()
	}
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

func fullPlen(addr netip.Addr) int {
	if addr.Is4() {
		return 32
	}
	return 128
}

