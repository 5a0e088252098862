// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package option defines the daemon's runtime configuration (spec §6):
// flag names, defaults, and the Config struct every other package reads
// from. Binding follows the cobra/viper pattern daemon/cmd/daemon_main.go
// uses: flags are registered once on the root command, bound into a
// *viper.Viper, then Populate copies the resolved values into Config.
package option

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate for a configuration that
// fails an internal-consistency check; it is distinct from the
// control-plane protocol errors in pkg/lisperr since a bad config is
// caught before the daemon ever touches the wire.
var ErrInvalidConfig = errors.New("invalid configuration")

// Flag names, mirrored 1:1 onto Config field names in Populate.
const (
	ConfigFile   = "config"
	ControlIface = "control-interface"
	EnableIPv4   = "enable-ipv4"
	EnableIPv6   = "enable-ipv6"
	MapResolvers = "map-resolvers"
	MapServers   = "map-servers"
	RTRs         = "rtrs"
	PSKHex       = "psk-hex"
	KeyID        = "key-id"
	RegisterInterval  = "register-interval"
	RLOCProbeInterval = "rloc-probe-interval"
	DebugArg     = "debug"
	MetricsAddr  = "metrics-listen-address"
	HealthAddr   = "health-listen-address"
	LocalMappingsKey = "local-mappings"
)

// Config holds the daemon's resolved runtime configuration. Every field
// is read-only after Populate returns except where a package explicitly
// documents a hot-reloadable field (none currently: spec's Open Question
// on config hot-reload resolved to validate-only, see DESIGN.md).
type Config struct {
	ConfigFile string

	// ControlInterface is the interface whose address selects the
	// default RLOC and is watched for link state, matching spec §3's
	// "control interface" concept.
	ControlInterface string

	EnableIPv4 bool
	EnableIPv6 bool

	MapResolvers []netip.Addr
	MapServers   []netip.Addr
	RTRs         []netip.Addr

	// PSKHex is the shared secret (hex-encoded) this daemon uses to
	// authenticate outgoing Map-Register messages and verify incoming
	// Map-Notify messages, per spec §4.F. The decoded bytes are used
	// as-is as the HMAC key; no key derivation is applied.
	PSKHex string
	KeyID  uint16

	RegisterInterval  time.Duration
	RLOCProbeInterval time.Duration

	Debug bool

	MetricsListenAddress string
	HealthListenAddress  string

	// LocalMappings are the EID-prefixes this daemon registers and
	// answers probes for, loaded from the config file's "local-mappings"
	// key — the Go struct LISPmob's lispd_config.c populates from its
	// own on-disk grammar, which this module intentionally does not
	// reimplement (spec.md's Non-goal on config-file grammar).
	LocalMappings []LocalMapping
}

// LocalMapping is one locally-owned EID-prefix and the RLOCs it is
// reachable at, the unit `cmd/lispd` turns into a *mapping.Mapping via
// daemon.BuildLocalMapping and installs with daemon.Daemon.AddLocalMapping
// at startup.
type LocalMapping struct {
	EID  netip.Prefix
	IID  uint32
	TTL  uint32

	Locators []LocalLocator
}

// LocalLocator is one local RLOC: an address owned by an interface on
// this host, with the priority/weight pair it is advertised under.
type LocalLocator struct {
	Addr      netip.Addr
	Interface string
	Priority  uint8
	Weight    uint8
	MPriority uint8
	MWeight   uint8
}

// Defaults returns a Config populated with the daemon's built-in
// defaults, as used to seed cobra flag defaults and as the base Populate
// starts from.
func Defaults() Config {
	return Config{
		EnableIPv4:           true,
		EnableIPv6:           true,
		RegisterInterval:     60 * time.Second,
		RLOCProbeInterval:    30 * time.Second,
		MetricsListenAddress: ":9962",
		HealthListenAddress:  ":9963",
	}
}

// BindFlags registers every daemon flag onto flags with its default
// value and help text, the way InitGlobalFlags does in the teacher's
// daemon_main.go.
func BindFlags(flags *pflag.FlagSet) {
	d := Defaults()

	flags.String(ConfigFile, "", "Configuration file to read; none is read when unset")
	flags.String(ControlIface, "", "Interface whose address is used as the default RLOC and watched for link events")
	flags.Bool(EnableIPv4, d.EnableIPv4, "Enable IPv4 EID/RLOC support")
	flags.Bool(EnableIPv6, d.EnableIPv6, "Enable IPv6 EID/RLOC support")
	flags.StringSlice(MapResolvers, nil, "Map Resolvers to send Map-Requests to, in priority order")
	flags.StringSlice(MapServers, nil, "Map Servers to register to")
	flags.StringSlice(RTRs, nil, "RTRs offered to peers during NAT-aware registration")
	flags.String(PSKHex, "", "Hex-encoded pre-shared key for Map-Register/Map-Notify authentication")
	flags.Uint16(KeyID, 0, "Key ID carried on authenticated control messages")
	flags.Duration(RegisterInterval, d.RegisterInterval, "Steady-state Map-Register interval")
	flags.Duration(RLOCProbeInterval, d.RLOCProbeInterval, "Steady-state RLOC probing interval")
	flags.Bool(DebugArg, false, "Enable debug-level logging")
	flags.String(MetricsAddr, d.MetricsListenAddress, "Address to serve Prometheus metrics on")
	flags.String(HealthAddr, d.HealthListenAddress, "Address to serve the health-check endpoint on")
}

// Populate reads every bound flag/env/config-file value out of vp into a
// new Config, parsing address lists and the PSK. It does not mutate any
// package-global state, unlike the teacher's Config.Populate — this
// module favors passing *Config explicitly over a shared global, per
// spec §5's single-mutator-owns-everything structure.
func Populate(vp *viper.Viper) (*Config, error) {
	cfg := Defaults()

	cfg.ConfigFile = vp.GetString(ConfigFile)
	cfg.ControlInterface = vp.GetString(ControlIface)
	cfg.EnableIPv4 = vp.GetBool(EnableIPv4)
	cfg.EnableIPv6 = vp.GetBool(EnableIPv6)
	cfg.PSKHex = vp.GetString(PSKHex)
	cfg.KeyID = uint16(vp.GetUint32(KeyID))
	cfg.RegisterInterval = vp.GetDuration(RegisterInterval)
	cfg.RLOCProbeInterval = vp.GetDuration(RLOCProbeInterval)
	cfg.Debug = vp.GetBool(DebugArg)
	cfg.MetricsListenAddress = vp.GetString(MetricsAddr)
	cfg.HealthListenAddress = vp.GetString(HealthAddr)

	var err error
	if cfg.MapResolvers, err = parseAddrList(vp.GetStringSlice(MapResolvers)); err != nil {
		return nil, fmt.Errorf("%s: %w", MapResolvers, err)
	}
	if cfg.MapServers, err = parseAddrList(vp.GetStringSlice(MapServers)); err != nil {
		return nil, fmt.Errorf("%s: %w", MapServers, err)
	}
	if cfg.RTRs, err = parseAddrList(vp.GetStringSlice(RTRs)); err != nil {
		return nil, fmt.Errorf("%s: %w", RTRs, err)
	}
	if cfg.LocalMappings, err = parseLocalMappings(vp); err != nil {
		return nil, fmt.Errorf("local-mappings: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rawLocalMapping mirrors LocalMapping with string fields, the shape
// Viper's mapstructure decoder can fill straight from a YAML config
// file's "local-mappings" list without a custom decode hook.
type rawLocalMapping struct {
	EID string
	IID uint32
	TTL uint32

	Locators []struct {
		Addr      string
		Interface string
		Priority  uint8
		Weight    uint8
		MPriority uint8
		MWeight   uint8
	}
}

func parseLocalMappings(vp *viper.Viper) ([]LocalMapping, error) {
	var raw []rawLocalMapping
	if err := vp.UnmarshalKey(LocalMappingsKey, &raw); err != nil {
		return nil, err
	}

	out := make([]LocalMapping, 0, len(raw))
	for _, r := range raw {
		eid, err := netip.ParsePrefix(r.EID)
		if err != nil {
			return nil, fmt.Errorf("eid %q: %w", r.EID, err)
		}
		lm := LocalMapping{EID: eid, IID: r.IID, TTL: r.TTL}
		for _, rl := range r.Locators {
			addr, err := netip.ParseAddr(rl.Addr)
			if err != nil {
				return nil, fmt.Errorf("locator %q: %w", rl.Addr, err)
			}
			lm.Locators = append(lm.Locators, LocalLocator{
				Addr:      addr,
				Interface: rl.Interface,
				Priority:  rl.Priority,
				Weight:    rl.Weight,
				MPriority: rl.MPriority,
				MWeight:   rl.MWeight,
			})
		}
		out = append(out, lm)
	}
	return out, nil
}

func parseAddrList(raw []string) ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// Validate checks the fully-populated config for internal consistency,
// the way a freshly loaded or reloaded config file must pass before it
// is accepted (spec §9's config-reload Open Question resolved to
// validate-only: a reload that fails Validate is logged and discarded,
// never partially applied).
func (c *Config) Validate() error {
	if !c.EnableIPv4 && !c.EnableIPv6 {
		return fmt.Errorf("%w: at least one of enable-ipv4/enable-ipv6 must be set", ErrInvalidConfig)
	}
	if len(c.MapServers) == 0 {
		return fmt.Errorf("%w: at least one map server is required", ErrInvalidConfig)
	}
	if c.ControlInterface == "" {
		return fmt.Errorf("%w: control-interface is required", ErrInvalidConfig)
	}
	if c.PSKHex != "" && len(c.PSKHex)%2 != 0 {
		return fmt.Errorf("%w: psk-hex must have even length", ErrInvalidConfig)
	}
	return nil
}
