// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package register implements the Map Register engine of spec §4.I: it
// walks the local database's mappings and drives each one's
// registration state machine — NAT-unaware plain registration, or
// NAT-aware registration relayed through an RTR inside an Encapsulated
// Control Message — against the configured Map Servers. See
// original_source/lispd/lispd_map_register.c for the reference decision
// tree this package reimplements.
package register

import (
	"net/netip"
	"time"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/logging/logfields"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/metrics"
	"github.com/cilium/lispd/pkg/nonce"
	"github.com/cilium/lispd/pkg/protoconst"
	"github.com/cilium/lispd/pkg/timerwheel"
	"github.com/cilium/lispd/pkg/wire"
)

var log = logging.NewSubsys("register")

// Sender abstracts sending an already-encoded control message to a
// destination address/port, letting this package stay independent of
// the concrete socket the event loop owns.
type Sender interface {
	Send(dst netip.Addr, port uint16, payload []byte) error
}

// Server is one configured Map Server registration target.
type Server struct {
	Addr       netip.Addr
	KeyID      wire.KeyID
	Key        []byte // the configured PSK, used as-is as the HMAC key
	ProxyReply bool
}

// Engine drives the registration state machine for every locally owned
// mapping against every configured server.
type Engine struct {
	wheel   *timerwheel.Wheel
	sender  Sender
	nonces  *nonce.Generator
	servers []Server
	metrics *metrics.Registry
}

// NewEngine constructs a registration engine. m may be nil in tests that
// don't care about observability.
func NewEngine(wheel *timerwheel.Wheel, sender Sender, servers []Server, m *metrics.Registry) *Engine {
	return &Engine{wheel: wheel, sender: sender, nonces: nonce.NewGenerator(), servers: servers, metrics: m}
}

// ScheduleInitial arranges for mp to be registered to every configured
// server immediately, per spec §4.I "On startup, every local mapping is
// scheduled for immediate registration."
func (e *Engine) ScheduleInitial(mp *mapping.Mapping) {
	if mp.Registration == nil {
		mp.Registration = &mapping.LocalRegState{}
	}
	for _, srv := range e.servers {
		srv := srv
		e.wheel.Schedule(0, func() { e.tick(mp, srv) })
	}
}

// tick runs one registration decision per spec §4.I's decision tree and
// arms the next timer.
func (e *Engine) tick(mp *mapping.Mapping, srv Server) {
	natLocator := sourceNATLocator(mp)

	if natLocator == nil {
		e.plainRegister(mp, srv)
		return
	}

	switch natLocator.Local.NAT.Status {
	case mapping.NATUnknown:
		e.reschedule(mp, srv, protoconst.LISPDInitialMRTimeout)
	case mapping.NATPresent:
		e.natAwareRegister(mp, srv, natLocator)
	default: // NATNone, NATNoInfoReply
		e.plainRegister(mp, srv)
	}
}

// sourceNATLocator returns the first local-origin locator carrying a
// NAT status, or nil if the mapping has no NAT-aware locator (plain
// registration mode).
func sourceNATLocator(mp *mapping.Mapping) *mapping.Locator {
	for _, l := range mp.LocatorsV4 {
		if l.Local != nil && l.Local.NAT != nil {
			return l
		}
	}
	for _, l := range mp.LocatorsV6 {
		if l.Local != nil && l.Local.NAT != nil {
			return l
		}
	}
	return nil
}

func (e *Engine) plainRegister(mp *mapping.Mapping, srv Server) {
	reg := mp.Registration
	// Nonce 0 is reserved for the very first plain register of a fresh
	// registration state; every retransmit after that draws a new
	// nonce (spec §4.E).
	nonceVal := uint64(0)
	if reg.Nonces.Retransmits > 0 || reg.Registered {
		nonceVal = e.nonces.New()
	}

	msg := buildMapRegister(mp, srv, nonceVal, false)
	buf := make([]byte, msg.Size())
	if _, err := msg.Encode(buf); err != nil {
		log.Error("failed to encode map-register", logfields.Error, err)
		return
	}
	signInPlace(buf, srv)

	if err := e.sender.Send(srv.Addr, protoconst.LISPControlPort, buf); err != nil {
		log.Error("failed to send map-register", logfields.Peer, srv.Addr, logfields.Error, err)
		e.count("send-error")
	} else {
		e.count("sent")
	}

	reg.Nonces.Record(nonceVal)
	e.advanceRetransmit(mp, srv)
}

func (e *Engine) natAwareRegister(mp *mapping.Mapping, srv Server, natLocator *mapping.Locator) {
	reg := mp.Registration
	if len(natLocator.Local.NAT.RTRLocators) == 0 {
		log.Warn("NAT-present locator has no RTR list, deferring", logfields.EID, mp.EID.String())
		e.reschedule(mp, srv, protoconst.LISPDInitialMRTimeout)
		return
	}
	rtr := natLocator.Local.NAT.RTRLocators[0]
	// ECM-wrapped registers always draw a fresh nonzero nonce (spec §4.E).
	nonceVal := e.nonces.New()

	inner := buildMapRegister(mp, srv, nonceVal, true)
	innerBuf := make([]byte, inner.Size())
	if _, err := inner.Encode(innerBuf); err != nil {
		log.Error("failed to encode nat-aware map-register", logfields.Error, err)
		return
	}
	signInPlace(innerBuf, srv)

	outer := wire.EncapsulatedControl{
		InnerSource:  natLocator.Address,
		InnerDest:    toAddress(srv.Addr),
		InnerUDPSrc:  protoconst.LISPControlPort,
		InnerUDPDst:  protoconst.LISPControlPort,
		InnerMessage: innerBuf,
	}
	outerBuf := make([]byte, outer.Size())
	if _, err := outer.Encode(outerBuf); err != nil {
		log.Error("failed to encode ECM", logfields.Error, err)
		return
	}

	rtrAddr, err := netAddrOf(rtr)
	if err != nil {
		log.Error("RTR locator has no routable netip.Addr", logfields.Error, err)
		return
	}
	if err := e.sender.Send(rtrAddr, protoconst.LISPDataPort, outerBuf); err != nil {
		log.Error("failed to send ECM map-register", logfields.Error, err)
		e.count("send-error")
	} else {
		e.count("sent-ecm")
	}

	natLocator.Local.NAT.EmapRegisterNonces.Record(nonceVal)
	reg.Nonces.Record(nonceVal)
	e.advanceRetransmit(mp, srv)
}

// advanceRetransmit decides the delay before the next tick after a send
// has just gone out. A send happens at Retransmits values
// 0..LISPDMaxRetransmits (LISPDMaxRetransmits+1 sends total on the fixed
// 3s ladder); after the send at Retransmits == LISPDMaxRetransmits the
// next tick is armed on the 60s steady-state interval instead of
// continuing the ladder.
func (e *Engine) advanceRetransmit(mp *mapping.Mapping, srv Server) {
	reg := mp.Registration
	if reg.Nonces.Retransmits < protoconst.LISPDMaxRetransmits {
		reg.Nonces.Retransmits++
		reg.Retransmits = reg.Nonces.Retransmits
		e.reschedule(mp, srv, protoconst.LISPDInitialMRTimeout)
		return
	}
	reg.Nonces.Reset()
	reg.Retransmits = 0
	log.Error("no map-notify received within retransmit budget", logfields.EID, mp.EID.String())
	e.reschedule(mp, srv, protoconst.MapRegisterInterval)
}

func (e *Engine) reschedule(mp *mapping.Mapping, srv Server, d time.Duration) {
	e.wheel.Schedule(d, func() { e.tick(mp, srv) })
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}

// HandleMapNotify clears mp's registration retransmit state and marks it
// registered, per spec §4.I: "A successful Map-Notify matching the
// register's nonce (or any nonce in the track) clears the nonce track
// and promotes the mapping to registered."
func HandleMapNotify(mp *mapping.Mapping, notifyNonce uint64) bool {
	reg := mp.Registration
	if reg == nil || !reg.Nonces.Matches(notifyNonce) {
		return false
	}
	reg.Nonces.Reset()
	reg.Retransmits = 0
	reg.Registered = true
	return true
}

func buildMapRegister(mp *mapping.Mapping, srv Server, nonceVal uint64, natAware bool) wire.MapRegister {
	authLen, _ := wire.AuthDataLen(srv.KeyID)
	msg := wire.MapRegister{
		ProxyReply: srv.ProxyReply,
	}
	msg.Nonce = nonceVal
	msg.KeyID = srv.KeyID
	msg.AuthData = make([]byte, authLen)
	msg.Records = []wire.MappingRecord{recordFor(mp)}
	if natAware {
		msg.RTR = true
		msg.XTRIDPresent = true
	}
	return msg
}

func recordFor(mp *mapping.Mapping) wire.MappingRecord {
	rec := wire.MappingRecord{
		TTL:     mp.TTLSeconds,
		MaskLen: mp.Plen,
		Action:  mp.Action,
		EID:     mp.EID,
	}
	all := append(append([]*mapping.Locator(nil), mp.LocatorsV4...), mp.LocatorsV6...)
	for _, l := range all {
		rec.Locators = append(rec.Locators, wire.LocatorRecord{
			Priority:  l.Priority,
			Weight:    l.Weight,
			MPriority: l.MPriority,
			MWeight:   l.MWeight,
			Reachable: l.State() == mapping.StateUp,
			Local:     l.Local != nil,
			Locator:   l.Address,
		})
	}
	return rec
}

// registerAuthOffset mirrors pkg/wire's unexported registerHeaderLen: the
// auth-data field always starts right after the fixed header.
const registerAuthOffset = 16

func signInPlace(buf []byte, srv Server) {
	if srv.KeyID == wire.KeyIDNone {
		return
	}
	authLen, _ := wire.AuthDataLen(srv.KeyID)
	zeroed := wire.ZeroAuthData(buf, authLen)
	mac, err := wire.Compute(srv.KeyID, srv.Key, zeroed)
	if err != nil {
		return
	}
	copy(buf[registerAuthOffset:registerAuthOffset+authLen], mac)
}

func toAddress(a netip.Addr) address.Address {
	return address.IP{Addr: a}
}

func netAddrOf(a address.Address) (netip.Addr, error) {
	switch v := a.(type) {
	case address.IP:
		return v.Addr, nil
	case address.IPPrefix:
		return v.Addr, nil
	default:
		return netip.Addr{}, errNoNetipAddr
	}
}

var errNoNetipAddr = wireErr("address has no plain netip.Addr representation")

type wireErr string

func (e wireErr) Error() string { return string(e) }
