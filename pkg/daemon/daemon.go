// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package daemon wires the control-plane engines into one running
// process: the event loop's sockets and timer wheel feed the
// registration, resolver, and probe engines, and inbound control
// messages are dispatched to whichever engine owns their reply path.
// No original_source file covers control-message dispatch directly
// (the kept LISPmob sources are lispd.h, lispd_address.c,
// lispd_external.h, lispd_local_db.c, lispd_map_register.c,
// lispd_mapping.c); dispatch's type-switch is built from spec §4.F/§4.H's
// own message catalog.
package daemon

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/eventloop"
	"github.com/cilium/lispd/pkg/localdb"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/logging/logfields"
	"github.com/cilium/lispd/pkg/mapcache"
	"github.com/cilium/lispd/pkg/mapping"
	"github.com/cilium/lispd/pkg/metrics"
	"github.com/cilium/lispd/pkg/option"
	"github.com/cilium/lispd/pkg/probe"
	"github.com/cilium/lispd/pkg/protoconst"
	"github.com/cilium/lispd/pkg/register"
	"github.com/cilium/lispd/pkg/resolver"
	"github.com/cilium/lispd/pkg/timerwheel"
	"github.com/cilium/lispd/pkg/wire"
)

var log = logging.NewSubsys("daemon")

// Sender abstracts sending an already-encoded control message, mirroring
// the identical interface on pkg/register/pkg/resolver/pkg/probe so this
// package's own direct sends (inbound-probe replies) share the same
// socket those engines use, and so tests can substitute a fake.
type Sender interface {
	Send(dst netip.Addr, port uint16, payload []byte) error
}

// DataPlaneSink lets an external caller observe this daemon's control-
// plane decisions without daemon depending on any particular forwarding
// implementation (spec §6 "external interfaces"). NoopSink satisfies it
// with empty bodies for callers (and tests) that don't care.
type DataPlaneSink interface {
	// OnCacheInstall is called after a map-cache entry is installed or
	// refreshed, positive or negative.
	OnCacheInstall(m *mapping.Mapping)
	// OnCacheEvict is called after a map-cache entry's TTL expires.
	OnCacheEvict(m *mapping.Mapping)
	// OnLocatorStateChange is called after a locator transitions UP/DOWN.
	OnLocatorStateChange(eid address.Address, locator address.Address, up bool)
	// LookupForwarding is consulted on a map-cache miss for dst, after
	// Resolve has been triggered, so a caller that maintains its own
	// static or default-route fallback can still answer the forwarding
	// question while the real mapping is outstanding.
	LookupForwarding(dst netip.Addr) (locator netip.Addr, ok bool)
}

// NoopSink implements DataPlaneSink with no-op methods; LookupForwarding
// always misses.
type NoopSink struct{}

func (NoopSink) OnCacheInstall(*mapping.Mapping)                             {}
func (NoopSink) OnCacheEvict(*mapping.Mapping)                               {}
func (NoopSink) OnLocatorStateChange(address.Address, address.Address, bool) {}
func (NoopSink) LookupForwarding(netip.Addr) (netip.Addr, bool)              { return netip.Addr{}, false }

// Daemon owns every control-plane engine and the event loop driving
// them, matching spec §5's single-mutator-goroutine model: every method
// on the engines it wires together is only ever called from the loop's
// own goroutine.
type Daemon struct {
	cfg     *option.Config
	metrics *metrics.Registry
	sink    DataPlaneSink

	wheel    *timerwheel.Wheel
	loop     *eventloop.Loop
	sender   Sender
	localdb  *localdb.DB
	cache    *mapcache.Cache
	register *register.Engine
	resolver *resolver.Engine
	probe    *probe.Engine
}

// New constructs a Daemon from cfg, wiring every engine against a shared
// timer wheel and event loop. It does not start anything; call Run.
func New(cfg *option.Config, reg *metrics.Registry, sink DataPlaneSink) (*Daemon, error) {
	if sink == nil {
		sink = NoopSink{}
	}

	d := &Daemon{cfg: cfg, metrics: reg, sink: sink}
	d.wheel = timerwheel.New(time.Now)
	d.localdb = localdb.New()
	d.cache = mapcache.New(d.wheel, d.onCacheExpire)
	d.cache.OnInstall = d.onCacheInstall

	d.loop = eventloop.New(d.wheel, eventloop.Handlers{
		OnControlPacket: d.onControlPacket,
		OnLinkEvent:     d.onLinkEvent,
	}, eventloop.Config{
		EnableIPv4:     cfg.EnableIPv4,
		EnableIPv6:     cfg.EnableIPv6,
		SubscribeLinks: true,
	})
	d.sender = d.loop

	servers, err := buildServers(cfg)
	if err != nil {
		return nil, fmt.Errorf("building map-server list: %w", err)
	}
	d.register = register.NewEngine(d.wheel, d.sender, servers, reg)

	resolverAddrs := append([]netip.Addr(nil), cfg.MapResolvers...)
	d.resolver = resolver.NewEngine(d.wheel, d.sender, resolverAddrs, d.cache, reg)
	d.probe = probe.NewEngine(d.wheel, d.sender, d.resolver, d.cache, d.localdb, reg)
	d.probe.OnStateChange = d.sink.OnLocatorStateChange

	return d, nil
}

func buildServers(cfg *option.Config) ([]register.Server, error) {
	var key []byte
	keyID := wire.KeyID(cfg.KeyID)
	if cfg.PSKHex != "" && keyID != wire.KeyIDNone {
		psk, err := decodeHex(cfg.PSKHex)
		if err != nil {
			return nil, err
		}
		// The configured PSK is used verbatim as the HMAC key, matching
		// lispd_map_register.c's complete_auth_fields(ms->key_type,
		// ms->key, ...) — a Map Server provisioned with the same PSK per
		// spec verifies directly, with no KDF step on either side.
		key = psk
	}

	servers := make([]register.Server, 0, len(cfg.MapServers))
	for _, addr := range cfg.MapServers {
		servers = append(servers, register.Server{
			Addr:  addr,
			KeyID: keyID,
			Key:   key,
		})
	}
	return servers, nil
}

// BuildLocalMapping turns one configured option.LocalMapping into the
// *mapping.Mapping AddLocalMapping expects, the way cmd/lispd loads the
// EID-prefixes named in a config file at startup.
func BuildLocalMapping(lm option.LocalMapping) (*mapping.Mapping, error) {
	m := mapping.New(address.IPPrefix{Addr: lm.EID.Addr(), Plen: uint8(lm.EID.Bits())}, uint8(lm.EID.Bits()), lm.IID)
	m.TTLSeconds = lm.TTL
	for _, rl := range lm.Locators {
		l := mapping.NewLocator(address.IP{Addr: rl.Addr}, rl.Priority, rl.Weight, rl.MPriority, rl.MWeight, mapping.KindLocal)
		l.Local = &mapping.LocalExt{Interface: rl.Interface}
		if err := mapping.AddLocator(m, l); err != nil {
			return nil, fmt.Errorf("locator %s: %w", rl.Addr, err)
		}
	}
	return m, nil
}

// AddLocalMapping registers m in the local database and schedules its
// initial registration, per spec §4.I "On startup, every local mapping
// is scheduled for immediate registration." ITRRLOCs and SourceEID on
// the resolver and probe engines are refreshed from every currently
// registered local-origin locator, so Map-Requests and RLOC probes this
// daemon originates always advertise an up-to-date RLOC set.
func (d *Daemon) AddLocalMapping(m *mapping.Mapping) error {
	if err := d.localdb.Insert(m); err != nil {
		return err
	}
	d.resolver.SourceEID = m.EID
	d.refreshITRRLOCs()
	d.register.ScheduleInitial(m)
	if d.metrics != nil {
		d.metrics.LocalMappingsGauge.Set(float64(d.localdb.Len()))
	}
	return nil
}

func (d *Daemon) refreshITRRLOCs() {
	var rlocs []address.Address
	d.localdb.Walk(func(m *mapping.Mapping) bool {
		for _, l := range append(append([]*mapping.Locator(nil), m.LocatorsV4...), m.LocatorsV6...) {
			if l.Local != nil {
				rlocs = append(rlocs, l.Address)
			}
		}
		return true
	})
	d.resolver.ITRRLOCs = rlocs
	d.probe.ITRRLOCs = rlocs
}

// Run starts the event loop and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	d.probe.Start()
	return d.loop.Run(ctx)
}

func (d *Daemon) onCacheExpire(m *mapping.Mapping) {
	if d.metrics != nil {
		d.metrics.MapCacheEntriesGauge.Set(float64(d.cache.Len()))
	}
	d.sink.OnCacheEvict(m)
}

func (d *Daemon) onCacheInstall(m *mapping.Mapping) {
	if d.metrics != nil {
		d.metrics.MapCacheEntriesGauge.Set(float64(d.cache.Len()))
	}
	d.sink.OnCacheInstall(m)
}

// ResolveForwarding answers the data-plane forwarding question for dst:
// a cache hit returns its best locator directly; a miss triggers
// resolution (spec §4.J) and falls back to the sink's own forwarding
// table (e.g. a static or default route) while the real mapping is
// outstanding.
func (d *Daemon) ResolveForwarding(dst netip.Addr, plen uint8) (netip.Addr, bool) {
	if m, ok := d.cache.LookupBest(dst); ok {
		if m.Cache != nil && m.Cache.Negative {
			return d.sink.LookupForwarding(dst)
		}
		if l := bestLocator(m); l != nil {
			if addr, ok := netAddrOf(l.Address); ok {
				return addr, true
			}
		}
	}
	if err := d.resolver.Resolve(address.IP{Addr: dst}, plen); err != nil {
		log.Debug("forwarding resolve failed", logfields.Error, err)
	}
	return d.sink.LookupForwarding(dst)
}

func bestLocator(m *mapping.Mapping) *mapping.Locator {
	vec := m.Balance.Combined
	if len(vec) == 0 {
		return nil
	}
	return vec[0]
}

func (d *Daemon) onLinkEvent(ev eventloop.LinkEvent) {
	d.probe.OnInterfaceEvent(ev)
}

func (d *Daemon) onControlPacket(pkt eventloop.ControlPacket) {
	src, ok := addrFromNetAddr(pkt.Src)
	if !ok {
		log.Warn("dropping control packet with unparseable source", logfields.Peer, pkt.Src)
		return
	}
	d.probe.RecordPeer(src)
	d.dispatch(pkt.Data, src)
}

// dispatch routes one decoded control message by type, recursing through
// any ECM wrapper to reach the inner message, per spec §4.F's message
// catalogue and §4.H's dispatch-priority description.
func (d *Daemon) dispatch(data []byte, src netip.Addr) {
	typ, err := wire.PeekType(data)
	if err != nil {
		d.countError("unknown", err)
		return
	}

	switch typ {
	case wire.TypeMapReply:
		msg, _, err := wire.DecodeMapReply(data)
		if err != nil {
			d.countError("map-reply", err)
			return
		}
		d.resolver.HandleMapReply(msg)
		d.countMessage("map-reply", "rx")

	case wire.TypeMapRequest:
		msg, _, err := wire.DecodeMapRequest(data)
		if err != nil {
			d.countError("map-request", err)
			return
		}
		d.countMessage("map-request", "rx")
		switch {
		case msg.SMR:
			d.resolver.HandleSMR(msg)
		case msg.Probe:
			d.respondToProbe(msg, src)
		}

	case wire.TypeMapNotify:
		msg, _, err := wire.DecodeMapNotify(data)
		if err != nil {
			d.countError("map-notify", err)
			return
		}
		d.handleMapNotify(msg)
		d.countMessage("map-notify", "rx")

	case wire.TypeECM:
		ecm, _, err := wire.DecodeEncapsulatedControl(data)
		if err != nil {
			d.countError("ecm", err)
			return
		}
		innerSrc := src
		if a, ok := netAddrOf(ecm.InnerSource); ok {
			innerSrc = a
		}
		d.dispatch(ecm.InnerMessage, innerSrc)

	default:
		d.countError("unknown", fmt.Errorf("unhandled message type %d", typ))
	}
}

// respondToProbe answers an inbound RLOC-probe Map-Request (P=1) that
// targets one of our own EIDs with a Map-Reply(Probe=true) carrying our
// own locator set, per spec §4.K "a peer probing our RLOCs expects a
// direct Map-Reply, not a resolved third-party answer."
func (d *Daemon) respondToProbe(msg wire.MapRequest, dst netip.Addr) {
	var records []wire.MappingRecord
	for _, rec := range msg.Records {
		addr, ok := netAddrOf(rec.EID)
		if !ok {
			continue
		}
		m, ok := d.localdb.LookupBest(addr)
		if !ok {
			continue
		}
		records = append(records, localMappingRecord(m))
	}
	if len(records) == 0 {
		return
	}

	reply := wire.MapReply{
		Probe:   true,
		Nonce:   msg.Nonce,
		Records: records,
	}
	buf := make([]byte, reply.Size())
	if _, err := reply.Encode(buf); err != nil {
		log.Error("failed to encode probe map-reply", logfields.Error, err)
		return
	}
	if err := d.sender.Send(dst, protoconst.LISPControlPort, buf); err != nil {
		log.Error("failed to send probe map-reply", logfields.Peer, dst, logfields.Error, err)
		return
	}
	d.countMessage("map-reply", "tx")
}

// handleMapNotify walks the local database for the mapping whose
// registration nonce track matches msg's nonce, clearing its retransmit
// state on a match (spec §4.I).
func (d *Daemon) handleMapNotify(msg wire.MapNotify) {
	d.localdb.Walk(func(m *mapping.Mapping) bool {
		if register.HandleMapNotify(m, msg.Nonce) {
			return false
		}
		return true
	})
}

func (d *Daemon) countMessage(typ, direction string) {
	if d.metrics != nil {
		d.metrics.ControlMessagesTotal.WithLabelValues(typ, direction).Inc()
	}
}

func (d *Daemon) countError(typ string, err error) {
	log.Debug("dropping malformed control message", logfields.Error, err)
	if d.metrics != nil {
		d.metrics.ControlErrorsTotal.WithLabelValues(typ, "decode").Inc()
	}
}

func localMappingRecord(m *mapping.Mapping) wire.MappingRecord {
	rec := wire.MappingRecord{
		TTL:           m.TTLSeconds,
		MaskLen:       m.Plen,
		Action:        m.Action,
		Authoritative: m.Authoritative,
		EID:           m.EID,
	}
	all := append(append([]*mapping.Locator(nil), m.LocatorsV4...), m.LocatorsV6...)
	for _, l := range all {
		rec.Locators = append(rec.Locators, wire.LocatorRecord{
			Priority:  l.Priority,
			Weight:    l.Weight,
			MPriority: l.MPriority,
			MWeight:   l.MWeight,
			Local:     l.Local != nil,
			Reachable: l.State() == mapping.StateUp,
			Locator:   l.Address,
		})
	}
	return rec
}

func addrFromNetAddr(a interface{ String() string }) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(a.String())
	if err == nil {
		return ap.Addr(), true
	}
	addr, err := netip.ParseAddr(a.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
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

func decodeHex(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid psk-hex: %w", err)
		}
		out[i] = byte(b)
	}
	return out, nil
}
