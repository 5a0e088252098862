// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package eventloop is the daemon's single-threaded cooperative core
// (spec §4.H): it owns the control-plane UDP sockets, the netlink
// interface-event subscription, and the 1-second timer tick, merging
// them onto one consumer so mapping/cache state is never touched by
// more than one goroutine at a time. No original_source file covers the
// event loop directly (the kept LISPmob sources are lispd.h,
// lispd_address.c, lispd_external.h, lispd_local_db.c,
// lispd_map_register.c, lispd_mapping.c); the select()-loop shape and
// dispatch-priority order here follow spec §4.H's own description.
package eventloop

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cilium/workerpool"
	"github.com/vishvananda/netlink"

	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/protoconst"
	"github.com/cilium/lispd/pkg/timerwheel"
)

var log = logging.NewSubsys("eventloop")

// ControlPacket is one datagram read off a control-plane UDP socket.
type ControlPacket struct {
	Data []byte
	Src  net.Addr
	IsV6 bool
}

// LinkEvent is a netlink link or address change, coalesced into the
// single shape the probe engine's SMR trigger consumes (spec §4.K
// "Interface-event driven SMR").
type LinkEvent struct {
	Interface string
	Up        bool
}

// Handlers groups the callbacks the loop dispatches to, all invoked on
// the single mutator goroutine.
type Handlers struct {
	OnControlPacket func(ControlPacket)
	OnLinkEvent     func(LinkEvent)
}

// Loop is the daemon's event loop: one UDP socket per enabled control
// AFI, one netlink subscription, and the shared timer wheel, dispatched
// in netlink → control-in → timers priority order every tick (spec
// §4.H).
type Loop struct {
	wheel    *timerwheel.Wheel
	handlers Handlers
	wp       *workerpool.WorkerPool

	netlinkEvents chan LinkEvent
	controlEvents chan ControlPacket

	conn4 net.PacketConn
	conn6 net.PacketConn

	tickInterval time.Duration
	cfg          Config
}

// Config selects which sockets Loop opens.
type Config struct {
	EnableIPv4     bool
	EnableIPv6     bool
	SubscribeLinks bool
	TickInterval   time.Duration
}

// New constructs a Loop. It does not open any socket or start any
// goroutine until Run is called.
func New(wheel *timerwheel.Wheel, handlers Handlers, cfg Config) *Loop {
	tick := cfg.TickInterval
	if tick == 0 {
		tick = time.Second
	}
	return &Loop{
		wheel:         wheel,
		handlers:      handlers,
		wp:            workerpool.New(3),
		netlinkEvents: make(chan LinkEvent, 64),
		controlEvents: make(chan ControlPacket, 256),
		tickInterval:  tick,
		cfg:           cfg,
	}
}

// Run opens the configured sockets and subscriptions, then blocks
// dispatching events until ctx is canceled. On return every socket and
// subscription has been torn down (spec §4.H's exit_cleanup).
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()

	cfg := l.cfg
	if cfg.EnableIPv4 {
		conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", protoconst.LISPControlPort))
		if err != nil {
			return fmt.Errorf("opening IPv4 control socket: %w", err)
		}
		l.conn4 = conn
		l.spawnReader("control-udp4", conn, false)
	}
	if cfg.EnableIPv6 {
		conn, err := net.ListenPacket("udp6", fmt.Sprintf(":%d", protoconst.LISPControlPort))
		if err != nil {
			return fmt.Errorf("opening IPv6 control socket: %w", err)
		}
		l.conn6 = conn
		l.spawnReader("control-udp6", conn, true)
	}
	if cfg.SubscribeLinks {
		if err := l.spawnNetlinkSubscriber(ctx); err != nil {
			return fmt.Errorf("subscribing to netlink: %w", err)
		}
	}

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		// Priority order: netlink → control-in → timers (spec §4.H).
		select {
		case ev := <-l.netlinkEvents:
			l.dispatchLink(ev)
			continue
		default:
		}
		select {
		case pkt := <-l.controlEvents:
			if l.handlers.OnControlPacket != nil {
				l.handlers.OnControlPacket(pkt)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.netlinkEvents:
			l.dispatchLink(ev)
		case pkt := <-l.controlEvents:
			if l.handlers.OnControlPacket != nil {
				l.handlers.OnControlPacket(pkt)
			}
		case <-ticker.C:
			l.wheel.Advance()
		}
	}
}

// Send writes payload to dst:port over whichever control socket matches
// dst's address family, letting pkg/register, pkg/resolver, and
// pkg/probe share the same sockets Run reads from instead of each
// opening its own (spec §4.H: one socket per enabled AFI).
func (l *Loop) Send(dst netip.Addr, port uint16, payload []byte) error {
	conn := l.conn4
	if dst.Is6() && !dst.Is4In6() {
		conn = l.conn6
	}
	if conn == nil {
		return fmt.Errorf("no control socket open for address family of %s", dst)
	}
	_, err := conn.WriteTo(payload, &net.UDPAddr{IP: dst.AsSlice(), Port: int(port)})
	return err
}

func (l *Loop) dispatchLink(ev LinkEvent) {
	if l.handlers.OnLinkEvent != nil {
		l.handlers.OnLinkEvent(ev)
	}
}

func (l *Loop) shutdown() {
	if l.conn4 != nil {
		l.conn4.Close()
	}
	if l.conn6 != nil {
		l.conn6.Close()
	}
	if err := l.wp.Close(); err != nil {
		log.Warn("worker pool close reported an error", "error", err)
	}
}

func (l *Loop) spawnReader(name string, conn net.PacketConn, isV6 bool) {
	_, err := l.wp.Submit(name, func(ctx context.Context) error {
		buf := make([]byte, 9000)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return nil
			}
			data := append([]byte(nil), buf[:n]...)
			select {
			case l.controlEvents <- ControlPacket{Data: data, Src: addr, IsV6: isV6}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	if err != nil {
		log.Error("failed to start socket reader", "name", name, "error", err)
	}
}

func (l *Loop) spawnNetlinkSubscriber(ctx context.Context) error {
	linkCh := make(chan netlink.LinkUpdate, 16)
	addrCh := make(chan netlink.AddrUpdate, 16)
	done := make(chan struct{})

	if err := netlink.LinkSubscribe(linkCh, done); err != nil {
		return err
	}
	if err := netlink.AddrSubscribe(addrCh, done); err != nil {
		close(done)
		return err
	}

	_, err := l.wp.Submit("netlink", func(ctx context.Context) error {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case upd, ok := <-linkCh:
				if !ok {
					return nil
				}
				attrs := upd.Link.Attrs()
				l.emitLinkEvent(LinkEvent{Interface: attrs.Name, Up: attrs.Flags&net.FlagUp != 0}, ctx)
			case upd, ok := <-addrCh:
				if !ok {
					return nil
				}
				iface, err := netlink.LinkByIndex(upd.LinkIndex)
				name := ""
				if err == nil {
					name = iface.Attrs().Name
				}
				l.emitLinkEvent(LinkEvent{Interface: name, Up: upd.NewAddr}, ctx)
			}
		}
	})
	return err
}

func (l *Loop) emitLinkEvent(ev LinkEvent, ctx context.Context) {
	select {
	case l.netlinkEvents <- ev:
	case <-ctx.Done():
	}
}
